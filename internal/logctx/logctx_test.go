package logctx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-transport-go/internal/logctx"
	"github.com/ggoodman/mcp-transport-go/jsonrpc"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "test")

	ctx := logctx.WithRequestData(context.Background(), &logctx.RequestData{RequestID: "r1", Method: "POST", Path: "/mcp"})
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: "s1", Encoding: "streamable", State: "connected"})
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: "ping", ID: "1", Type: "request"})
	log.InfoContext(ctx, "exchange.resolved")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	req, _ := rec["req"].(map[string]any)
	if want, got := "r1", req["id"]; want != got {
		t.Fatalf("unexpected req.id: want %v got %v", want, got)
	}
	sess, _ := rec["sess"].(map[string]any)
	if want, got := "s1", sess["id"]; want != got {
		t.Fatalf("unexpected sess.id: want %v got %v", want, got)
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if want, got := "ping", rpc["method"]; want != got {
		t.Fatalf("unexpected rpc.method: want %v got %v", want, got)
	}
	if want, got := "test", rec["component"]; want != got {
		t.Fatalf("With attrs lost: want %v got %v", want, got)
	}
}

func TestForMessage(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	msg, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(7), "echo", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	log.InfoContext(logctx.ForMessage(context.Background(), *msg), "jsonrpc.message.deliver")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if want, got := "echo", rpc["method"]; want != got {
		t.Fatalf("unexpected rpc.method: want %v got %v", want, got)
	}
	if want, got := "7", rpc["id"]; want != got {
		t.Fatalf("unexpected rpc.id: want %v got %v", want, got)
	}
	if want, got := "request", rpc["type"]; want != got {
		t.Fatalf("unexpected rpc.type: want %v got %v", want, got)
	}
}

package pushstream_test

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-transport-go/pushstream"
)

func TestChannelDrainsQueuedFramesInOrder(t *testing.T) {
	ch := pushstream.New()
	mustEnqueue(t, ch, pushstream.Event("endpoint", []byte("/messages?sessionId=abc")))
	mustEnqueue(t, ch, pushstream.Comment("keepalive"))
	mustEnqueue(t, ch, pushstream.Event("message", []byte(`{"jsonrpc":"2.0","method":"x"}`)))
	ch.Close()

	rec := httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))

	if want, got := "text/event-stream", rec.Header().Get("Content-Type"); want != got {
		t.Fatalf("unexpected content type: want %q got %q", want, got)
	}
	want := "event: endpoint\ndata: /messages?sessionId=abc\n\n" +
		": keepalive\n\n" +
		"event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"x\"}\n\n"
	if got := rec.Body.String(); want != got {
		t.Fatalf("unexpected body:\nwant %q\ngot  %q", want, got)
	}
}

func TestChannelEnqueueAfterClose(t *testing.T) {
	ch := pushstream.New()
	ch.Close()
	ch.Close()

	if err := ch.Enqueue(pushstream.Comment("x")); !errors.Is(err, pushstream.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if !ch.Closed() {
		t.Fatalf("expected channel to report closed")
	}
}

func TestChannelClientDisconnectFiresCancel(t *testing.T) {
	var cancelled atomic.Int32
	ch := pushstream.New(pushstream.WithOnCancel(func() { cancelled.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	ch.ServeHTTP(httptest.NewRecorder(), req)

	if want, got := int32(1), cancelled.Load(); want != got {
		t.Fatalf("unexpected cancel count: want %d got %d", want, got)
	}
	if !ch.Closed() {
		t.Fatalf("expected channel closed after client disconnect")
	}

	ch.Close()
	if want, got := int32(1), cancelled.Load(); want != got {
		t.Fatalf("cancel callback fired again: %d", got)
	}
}

func TestChannelServerCloseDoesNotFireCancel(t *testing.T) {
	var cancelled atomic.Int32
	ch := pushstream.New(pushstream.WithOnCancel(func() { cancelled.Add(1) }))
	ch.Close()
	ch.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sse", nil))

	if want, got := int32(0), cancelled.Load(); want != got {
		t.Fatalf("unexpected cancel count: want %d got %d", want, got)
	}
}

func TestChannelStreamsLiveFrames(t *testing.T) {
	ch := pushstream.New()
	srv := httptest.NewServer(ch)
	defer srv.Close()
	defer ch.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	mustEnqueue(t, ch, pushstream.Event("message", []byte(`{"n":1}`)))

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended early: %v", got)
			}
			got = append(got, l)
		case <-timeout:
			t.Fatalf("timed out waiting for frame, got %v", got)
		}
	}
	if want := "event: message|data: {\"n\":1}"; strings.Join(got, "|") != want {
		t.Fatalf("unexpected frame: want %q got %q", want, strings.Join(got, "|"))
	}
}

func TestChannelSingleConsumer(t *testing.T) {
	ch := pushstream.New()
	ch.Close()
	ch.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sse", nil))

	rec := httptest.NewRecorder()
	ch.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	if want, got := http.StatusConflict, rec.Code; want != got {
		t.Fatalf("unexpected status: want %d got %d", want, got)
	}
}

func mustEnqueue(t *testing.T, ch *pushstream.Channel, f pushstream.Frame) {
	t.Helper()
	if err := ch.Enqueue(f); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

package transport_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-transport-go/transport"
)

func TestResultWrite(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		res := transport.ErrorResult(http.StatusGone, "session closed")
		res.Header = http.Header{"Mcp-Session-Id": []string{"abc"}}
		res.Write(rec)

		if want, got := http.StatusGone, rec.Code; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if want, got := "application/json", rec.Header().Get("Content-Type"); want != got {
			t.Fatalf("unexpected content type: want %q got %q", want, got)
		}
		if want, got := "abc", rec.Header().Get("Mcp-Session-Id"); want != got {
			t.Fatalf("unexpected session header: want %q got %q", want, got)
		}
		if want, got := `{"error":{"code":410,"message":"session closed"}}`, rec.Body.String(); want != got {
			t.Fatalf("unexpected body: want %s got %s", want, got)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		transport.Result{Status: http.StatusNoContent}.Write(rec)

		if want, got := http.StatusNoContent, rec.Code; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if got := rec.Header().Get("Content-Type"); got != "" {
			t.Fatalf("expected no content type, got %q", got)
		}
		if got := rec.Body.Len(); got != 0 {
			t.Fatalf("expected empty body, got %d bytes", got)
		}
	})

	t.Run("explicit content type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		transport.Result{
			Status: http.StatusAccepted,
			Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:   []byte("Accepted"),
		}.Write(rec)

		if want, got := "text/plain; charset=utf-8", rec.Header().Get("Content-Type"); want != got {
			t.Fatalf("unexpected content type: want %q got %q", want, got)
		}
	})
}

func TestParseErrorResult(t *testing.T) {
	res := transport.ParseErrorResult(errors.New("boom"))
	if want, got := http.StatusBadRequest, res.Status; want != got {
		t.Fatalf("unexpected status: want %d got %d", want, got)
	}
	if !strings.Contains(string(res.Body), `"code":-32700`) {
		t.Fatalf("expected parse error code in body, got %s", res.Body)
	}
}

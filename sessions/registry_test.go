package sessions_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-transport-go/auth"
	"github.com/ggoodman/mcp-transport-go/auth/authtest"
	"github.com/ggoodman/mcp-transport-go/sessions"
	"github.com/ggoodman/mcp-transport-go/sessions/memorystore"
	"github.com/ggoodman/mcp-transport-go/ssetransport"
	"github.com/ggoodman/mcp-transport-go/streaminghttp"
	"github.com/ggoodman/mcp-transport-go/transport"
	"github.com/ggoodman/mcp-transport-go/transport/transporttest"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

type servers struct {
	mu   sync.Mutex
	byID map[string]*transporttest.Server
}

func (s *servers) record(id string, srv *transporttest.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = srv
}

func (s *servers) get(t *testing.T, id string) *transporttest.Server {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.byID[id]
	if !ok {
		t.Fatalf("no server created for session %s", id)
	}
	return srv
}

func (s *servers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func newRegistry(t *testing.T, clock clockwork.Clock, opts ...sessions.Option) (*sessions.Registry, *servers) {
	t.Helper()
	created := &servers{byID: make(map[string]*transporttest.Server)}
	opts = append([]sessions.Option{
		sessions.WithClock(clock),
		sessions.WithSSEOptions(ssetransport.WithHeartbeatInterval(0)),
	}, opts...)
	reg, err := sessions.NewRegistry(transporttest.Factory(transporttest.Reply, created.record), opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg, created
}

func mustConnectSSE(t *testing.T, reg *sessions.Registry, token string) *sessions.Connection {
	t.Helper()
	conn, err := reg.ConnectSSE(context.Background(), token)
	if err != nil {
		t.Fatalf("ConnectSSE: %v", err)
	}
	if conn.Handler == nil {
		t.Fatalf("expected SSE handler")
	}
	return conn
}

// disconnect simulates the client dropping the event stream.
func disconnect(conn *sessions.Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx))
}

func mustReconnectBody(t *testing.T, res transport.Result, wantStatus int, wantError string) {
	t.Helper()
	if want, got := wantStatus, res.Status; want != got {
		t.Fatalf("unexpected status: want %d got %d (%s)", want, got, res.Body)
	}
	var body sessions.ReconnectBody
	if err := json.Unmarshal(res.Body, &body); err != nil {
		t.Fatalf("decode reconnect body: %v", err)
	}
	if want, got := wantError, body.Error; want != got {
		t.Fatalf("unexpected error kind: want %q got %q", want, got)
	}
	if !body.ShouldReconnect {
		t.Fatalf("expected shouldReconnect=true")
	}
}

const ping = `{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}`

func TestRouteUnknownSession(t *testing.T) {
	reg, _ := newRegistry(t, clockwork.NewFakeClock())
	res := reg.Route(context.Background(), "missing", []byte(ping))
	mustReconnectBody(t, res, http.StatusNotFound, "session_not_found")
}

func TestSSESessionLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memorystore.New()
	reg, created := newRegistry(t, clock, sessions.WithStore(store), sessions.WithGracePeriod(time.Minute))
	ctx := context.Background()

	conn := mustConnectSSE(t, reg, "")
	if conn.Resumed {
		t.Fatalf("fresh connect reported as resumed")
	}
	if want, got := (sessions.Stats{Connected: 1}), reg.Stats(); want != got {
		t.Fatalf("unexpected stats: want %+v got %+v", want, got)
	}

	res := reg.Route(ctx, conn.Token, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if want, got := http.StatusAccepted, res.Status; want != got {
		t.Fatalf("unexpected status: want %d got %d", want, got)
	}

	disconnect(conn)

	if want, got := (sessions.Stats{Disconnected: 1}), reg.Stats(); want != got {
		t.Fatalf("unexpected stats after disconnect: want %+v got %+v", want, got)
	}
	rec, err := store.Get(ctx, conn.Token)
	if err != nil {
		t.Fatalf("store Get: %v", err)
	}
	if rec.Connected() {
		t.Fatalf("expected journaled record to be disconnected")
	}

	t.Run("messages in grace period are refused", func(t *testing.T) {
		res := reg.Route(ctx, conn.Token, []byte(ping))
		mustReconnectBody(t, res, http.StatusConflict, "session_disconnected")
		if want, got := 1, len(created.get(t, conn.Token).Messages()); want != got {
			t.Fatalf("message delivered during grace period: %d deliveries", got)
		}
	})

	t.Run("reconnect keeps the backing server", func(t *testing.T) {
		clock.Advance(30 * time.Second)
		again := mustConnectSSE(t, reg, conn.Token)
		if !again.Resumed {
			t.Fatalf("expected resumed connection")
		}
		if want, got := conn.Token, again.Token; want != got {
			t.Fatalf("unexpected token: want %s got %s", want, got)
		}
		if want, got := 1, created.count(); want != got {
			t.Fatalf("unexpected server count: want %d got %d", want, got)
		}

		res := reg.Route(ctx, conn.Token, []byte(ping))
		if want, got := http.StatusAccepted, res.Status; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		srv := created.get(t, conn.Token)
		if want, got := 2, len(srv.Messages()); want != got {
			t.Fatalf("unexpected deliveries on original server: want %d got %d", want, got)
		}
		if want, got := 2, len(srv.Transports()); want != got {
			t.Fatalf("unexpected transport bindings: want %d got %d", want, got)
		}

		rec, err := store.Get(ctx, conn.Token)
		if err != nil {
			t.Fatalf("store Get: %v", err)
		}
		if !rec.Connected() {
			t.Fatalf("expected journaled record to be connected again")
		}
	})
}

func TestStaleTransportCloseIsIgnored(t *testing.T) {
	reg, created := newRegistry(t, clockwork.NewFakeClock())

	conn := mustConnectSSE(t, reg, "")
	disconnect(conn)
	mustConnectSSE(t, reg, conn.Token)

	first := created.get(t, conn.Token).Transports()[0]
	_ = first.Close()

	if want, got := (sessions.Stats{Connected: 1}), reg.Stats(); want != got {
		t.Fatalf("closing a replaced transport changed state: want %+v got %+v", want, got)
	}
}

func TestConnectWithLiveTokenAllocatesFreshSession(t *testing.T) {
	reg, created := newRegistry(t, clockwork.NewFakeClock())

	first := mustConnectSSE(t, reg, "")
	second := mustConnectSSE(t, reg, first.Token)

	if second.Resumed {
		t.Fatalf("connected session must not be resumed")
	}
	if first.Token == second.Token {
		t.Fatalf("expected a fresh token")
	}
	if want, got := 2, created.count(); want != got {
		t.Fatalf("unexpected server count: want %d got %d", want, got)
	}
}

func TestSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := memorystore.New()
	reg, created := newRegistry(t, clock, sessions.WithStore(store), sessions.WithGracePeriod(time.Minute))
	ctx := context.Background()

	conn := mustConnectSSE(t, reg, "")
	live := mustConnectSSE(t, reg, "")
	disconnect(conn)

	clock.Advance(59 * time.Second)
	if want, got := 0, reg.Sweep(ctx); want != got {
		t.Fatalf("evicted before grace elapsed: %d", got)
	}

	clock.Advance(time.Second)
	if want, got := 1, reg.Sweep(ctx); want != got {
		t.Fatalf("unexpected evictions: want %d got %d", want, got)
	}

	res := reg.Route(ctx, conn.Token, []byte(ping))
	mustReconnectBody(t, res, http.StatusNotFound, "session_not_found")

	if !created.get(t, conn.Token).Finalized() {
		t.Fatalf("expected evicted server to be closed")
	}
	if created.get(t, live.Token).Finalized() {
		t.Fatalf("live session server was closed")
	}
	if _, err := store.Get(ctx, conn.Token); !errors.Is(err, sessions.ErrRecordNotFound) {
		t.Fatalf("expected evicted record removed from store, got %v", err)
	}

	again := mustConnectSSE(t, reg, conn.Token)
	if again.Resumed || again.Token == conn.Token {
		t.Fatalf("expired token must not resume")
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, _ := newRegistry(t, clock,
		sessions.WithGracePeriod(time.Second),
		sessions.WithSweepInterval(10*time.Second),
	)

	conn := mustConnectSSE(t, reg, "")
	disconnect(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := reg.Lookup(context.Background(), conn.Token); errors.Is(err, sessions.ErrSessionNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session was not swept")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRouteBumpsActivity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, _ := newRegistry(t, clock)

	conn := mustConnectSSE(t, reg, "")
	clock.Advance(5 * time.Second)
	_ = reg.Route(context.Background(), conn.Token, []byte(`{"jsonrpc":"2.0","method":"x"}`))

	rec, err := reg.Lookup(context.Background(), conn.Token)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if want, got := clock.Now(), rec.LastActivityAt; !want.Equal(got) {
		t.Fatalf("unexpected LastActivityAt: want %v got %v", want, got)
	}
	if !rec.CreatedAt.Before(rec.LastActivityAt) {
		t.Fatalf("expected activity after creation")
	}
}

func TestStreamableSession(t *testing.T) {
	reg, created := newRegistry(t, clockwork.NewFakeClock())
	ctx := context.Background()

	conn, err := reg.ConnectStreamable(ctx, "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}
	if conn.Handler != nil {
		t.Fatalf("streamable connection must not carry an SSE handler")
	}

	res := reg.Route(ctx, conn.Token, []byte(ping))
	if want, got := http.StatusOK, res.Status; want != got {
		t.Fatalf("unexpected status: want %d got %d (%s)", want, got, res.Body)
	}
	if want, got := `{"jsonrpc":"2.0","result":{},"id":1}`, string(res.Body); want != got {
		t.Fatalf("unexpected body: want %s got %s", want, got)
	}

	t.Run("stream open", func(t *testing.T) {
		h, err := reg.OpenStream(ctx, conn.Token)
		if err != nil {
			t.Fatalf("OpenStream: %v", err)
		}
		if h == nil {
			t.Fatalf("expected stream handler")
		}
	})

	t.Run("terminate evicts immediately", func(t *testing.T) {
		res := reg.Terminate(ctx, conn.Token)
		if want, got := http.StatusNoContent, res.Status; want != got {
			t.Fatalf("unexpected status: want %d got %d", want, got)
		}
		if !created.get(t, conn.Token).Finalized() {
			t.Fatalf("expected server closed on terminate")
		}
		mustReconnectBody(t, reg.Route(ctx, conn.Token, []byte(ping)), http.StatusNotFound, "session_not_found")
		mustReconnectBody(t, reg.Terminate(ctx, conn.Token), http.StatusNotFound, "session_not_found")
	})
}

func TestOpenStreamOnSSESession(t *testing.T) {
	reg, _ := newRegistry(t, clockwork.NewFakeClock())
	conn := mustConnectSSE(t, reg, "")

	if _, err := reg.OpenStream(context.Background(), conn.Token); !errors.Is(err, sessions.ErrEncodingMismatch) {
		t.Fatalf("expected ErrEncodingMismatch, got %v", err)
	}
	if want, got := http.StatusBadRequest, sessions.ErrorResult(sessions.ErrEncodingMismatch).Status; want != got {
		t.Fatalf("unexpected status: want %d got %d", want, got)
	}
}

func TestFactoryFailure(t *testing.T) {
	boom := errors.New("boom")
	reg, err := sessions.NewRegistry(func(context.Context, string) (transport.Server, error) { return nil, boom })
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.ConnectSSE(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if want, got := (sessions.Stats{}), reg.Stats(); want != got {
		t.Fatalf("failed connect left state behind: %+v", got)
	}
}

func TestClose(t *testing.T) {
	reg, created := newRegistry(t, clockwork.NewFakeClock())
	ctx := context.Background()

	a := mustConnectSSE(t, reg, "")
	b, err := reg.ConnectStreamable(ctx, "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	for _, token := range []string{a.Token, b.Token} {
		if !created.get(t, token).Finalized() {
			t.Fatalf("server %s not closed", token)
		}
	}
	if _, err := reg.ConnectSSE(ctx, ""); !errors.Is(err, sessions.ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
	if want, got := 0, len(reg.Snapshot()); want != got {
		t.Fatalf("unexpected snapshot size: want %d got %d", want, got)
	}
}

func TestSnapshotOrderedByCreation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, _ := newRegistry(t, clock)

	var tokens []string
	for range 3 {
		tokens = append(tokens, mustConnectSSE(t, reg, "").Token)
		clock.Advance(time.Second)
	}

	var got []string
	for _, rec := range reg.Snapshot() {
		got = append(got, rec.Token)
	}
	if want := strings.Join(tokens, ","); strings.Join(got, ",") != want {
		t.Fatalf("unexpected order: want %s got %s", want, strings.Join(got, ","))
	}
}

func TestMetricsRegistered(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg, _ := newRegistry(t, clockwork.NewFakeClock(), sessions.WithMetrics(promReg))

	conn := mustConnectSSE(t, reg, "")
	_ = reg.Route(context.Background(), "missing", []byte(ping))
	disconnect(conn)

	mfs, err := promReg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"mcp_transport_session_events_total",
		"mcp_transport_route_rejections_total",
		"mcp_transport_sessions_connected",
		"mcp_transport_sessions_disconnected",
	} {
		if !names[want] {
			t.Fatalf("missing metric %s in %v", want, names)
		}
	}

	if _, err := sessions.NewRegistry(transporttest.Factory(nil, nil), sessions.WithMetrics(promReg)); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestSweepIdleStreamable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, created := newRegistry(t, clock, sessions.WithIdleTimeout(10*time.Minute))
	ctx := context.Background()

	stale, err := reg.ConnectStreamable(ctx, "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}
	busy, err := reg.ConnectStreamable(ctx, "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}
	sse := mustConnectSSE(t, reg, "")

	clock.Advance(9 * time.Minute)
	_ = reg.Route(ctx, busy.Token, []byte(`{"jsonrpc":"2.0","method":"x"}`))
	clock.Advance(time.Minute)

	if want, got := 1, reg.Sweep(ctx); want != got {
		t.Fatalf("unexpected evictions: want %d got %d", want, got)
	}
	mustReconnectBody(t, reg.Route(ctx, stale.Token, []byte(ping)), http.StatusNotFound, "session_not_found")
	if !created.get(t, stale.Token).Finalized() {
		t.Fatalf("expected idle server closed")
	}
	for _, token := range []string{busy.Token, sse.Token} {
		if _, err := reg.Lookup(context.Background(), token); err != nil {
			t.Fatalf("session %s evicted unexpectedly: %v", token, err)
		}
	}
}

func TestSessionsBelongToTheirCreator(t *testing.T) {
	reg, created := newRegistry(t, clockwork.NewFakeClock())
	alice := auth.WithUserInfo(context.Background(), authtest.User("alice"))
	bob := auth.WithUserInfo(context.Background(), authtest.User("bob"))

	conn, err := reg.ConnectStreamable(alice, "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}
	srv := created.get(t, conn.Token)

	mustReconnectBody(t, reg.Route(bob, conn.Token, []byte(ping)), http.StatusNotFound, "session_not_found")
	mustReconnectBody(t, reg.Route(context.Background(), conn.Token, []byte(ping)), http.StatusNotFound, "session_not_found")
	if want, got := 0, len(srv.Messages()); want != got {
		t.Fatalf("unexpected deliveries: want %d got %d", want, got)
	}
	if _, err := reg.OpenStream(bob, conn.Token); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := reg.Lookup(bob, conn.Token); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	mustReconnectBody(t, reg.Terminate(bob, conn.Token), http.StatusNotFound, "session_not_found")
	if srv.Finalized() {
		t.Fatalf("server closed by another user")
	}

	if want, got := http.StatusOK, reg.Route(alice, conn.Token, []byte(ping)).Status; want != got {
		t.Fatalf("unexpected status: want %d got %d", want, got)
	}

	theirs, err := reg.List(bob)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want, got := 0, len(theirs); want != got {
		t.Fatalf("unexpected listing size: want %d got %d", want, got)
	}
	mine, err := reg.List(alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].Token != conn.Token || mine[0].UserID != "alice" {
		t.Fatalf("unexpected listing: %+v", mine)
	}
}

func TestResumeRequiresTheCreator(t *testing.T) {
	reg, _ := newRegistry(t, clockwork.NewFakeClock())
	alice := auth.WithUserInfo(context.Background(), authtest.User("alice"))
	bob := auth.WithUserInfo(context.Background(), authtest.User("bob"))

	conn, err := reg.ConnectSSE(alice, "")
	if err != nil {
		t.Fatalf("ConnectSSE: %v", err)
	}
	disconnect(conn)

	other, err := reg.ConnectSSE(bob, conn.Token)
	if err != nil {
		t.Fatalf("ConnectSSE: %v", err)
	}
	if other.Resumed || other.Token == conn.Token {
		t.Fatalf("session resumed by another user")
	}

	again, err := reg.ConnectSSE(alice, conn.Token)
	if err != nil {
		t.Fatalf("ConnectSSE: %v", err)
	}
	if !again.Resumed || again.Token != conn.Token {
		t.Fatalf("expected alice to resume her session, got %+v", again)
	}
}

func TestListReadsFromStore(t *testing.T) {
	store := memorystore.New()
	reg, _ := newRegistry(t, clockwork.NewFakeClock(), sessions.WithStore(store))
	ctx := auth.WithUserInfo(context.Background(), authtest.User("alice"))

	// Journaled by another registry sharing the store.
	if err := store.Put(ctx, sessions.Record{Token: "elsewhere", UserID: "alice", Encoding: sessions.EncodingSSE}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	conn, err := reg.ConnectStreamable(ctx, "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}

	recs, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	for _, rec := range recs {
		got = append(got, rec.Token)
	}
	if want := "elsewhere," + conn.Token; strings.Join(got, ",") != want {
		t.Fatalf("unexpected listing: want %s got %s", want, strings.Join(got, ","))
	}
}

func TestRegistryClockDrivesTransports(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, err := sessions.NewRegistry(transporttest.Factory(nil, nil),
		sessions.WithClock(clock),
		sessions.WithStreamableOptions(
			streaminghttp.WithClock(clockwork.NewRealClock()),
			streaminghttp.WithRequestTimeout(time.Hour),
		),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	conn, err := reg.ConnectStreamable(context.Background(), "")
	if err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}

	done := make(chan transport.Result, 1)
	go func() { done <- reg.Route(context.Background(), conn.Token, []byte(ping)) }()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case res := <-done:
			if want, got := "[]", string(res.Body); want != got {
				t.Fatalf("unexpected body: want %s got %s", want, got)
			}
			return
		case <-deadline:
			t.Fatalf("exchange deadline not driven by the registry clock")
		case <-time.After(10 * time.Millisecond):
			clock.Advance(time.Hour)
		}
	}
}

func TestDefaultIdleTimeoutEvictsAbandonedStreamable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg, _ := newRegistry(t, clock)

	if _, err := reg.ConnectStreamable(context.Background(), ""); err != nil {
		t.Fatalf("ConnectStreamable: %v", err)
	}
	clock.Advance(sessions.DefaultIdleTimeout - time.Second)
	if want, got := 0, reg.Sweep(context.Background()); want != got {
		t.Fatalf("unexpected evictions before timeout: want %d got %d", want, got)
	}
	clock.Advance(time.Second)
	if want, got := 1, reg.Sweep(context.Background()); want != got {
		t.Fatalf("unexpected evictions at timeout: want %d got %d", want, got)
	}
}

package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-transport-go/sessions"
)

// StoreFactory creates a new, empty Store instance for testing.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("PutOverwrites", func(t *testing.T) { testPutOverwrites(t, factory) })
	t.Run("DeleteRemovesFromListing", func(t *testing.T) { testDelete(t, factory) })
	t.Run("DeleteMissingIsNoop", func(t *testing.T) { testDeleteMissing(t, factory) })
	t.Run("ListOrderedByCreation", func(t *testing.T) { testListOrdered(t, factory) })
}

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)

func record(token string, offset time.Duration) sessions.Record {
	return sessions.Record{
		Token:          token,
		UserID:         "user-" + token,
		Encoding:       sessions.EncodingSSE,
		CreatedAt:      epoch.Add(offset),
		LastActivityAt: epoch.Add(offset + time.Second),
	}
}

func testPutThenGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	want := record("tok-1", 0)
	mustPut(t, s, want)

	got, err := s.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertRecord(t, want, got)
	if !got.Connected() {
		t.Fatalf("expected connected record")
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, sessions.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func testPutOverwrites(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	rec := record("tok-1", 0)
	mustPut(t, s, rec)

	rec.Encoding = sessions.EncodingStreamable
	rec.UserID = ""
	rec.LastActivityAt = epoch.Add(time.Minute)
	rec.DisconnectedAt = epoch.Add(2 * time.Minute)
	mustPut(t, s, rec)

	got, err := s.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertRecord(t, rec, got)
	if got.Connected() {
		t.Fatalf("expected disconnected record")
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want, got := 1, len(list); want != got {
		t.Fatalf("unexpected listing size: want %d got %d", want, got)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()

	mustPut(t, s, record("tok-1", 0))
	mustPut(t, s, record("tok-2", time.Second))

	if err := s.Delete(ctx, "tok-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "tok-1"); !errors.Is(err, sessions.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound after delete, got %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Token != "tok-2" {
		t.Fatalf("unexpected listing after delete: %+v", list)
	}
}

func testDeleteMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if err := s.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("Delete of missing record: %v", err)
	}
}

func testListOrdered(t *testing.T, factory StoreFactory) {
	s := factory(t)

	mustPut(t, s, record("c", 3*time.Second))
	mustPut(t, s, record("a", time.Second))
	mustPut(t, s, record("b", 2*time.Second))

	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	for _, rec := range list {
		got = append(got, rec.Token)
	}
	if want := "a,b,c"; strings.Join(got, ",") != want {
		t.Fatalf("unexpected order: want %s got %s", want, strings.Join(got, ","))
	}
}

func mustPut(t *testing.T, s sessions.Store, rec sessions.Record) {
	t.Helper()
	if err := s.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func assertRecord(t *testing.T, want, got sessions.Record) {
	t.Helper()
	if want.Token != got.Token || want.Encoding != got.Encoding {
		t.Fatalf("unexpected record identity: want %s/%s got %s/%s", want.Token, want.Encoding, got.Token, got.Encoding)
	}
	if want.UserID != got.UserID {
		t.Fatalf("unexpected UserID: want %q got %q", want.UserID, got.UserID)
	}
	if !want.CreatedAt.Equal(got.CreatedAt) {
		t.Fatalf("unexpected CreatedAt: want %v got %v", want.CreatedAt, got.CreatedAt)
	}
	if !want.LastActivityAt.Equal(got.LastActivityAt) {
		t.Fatalf("unexpected LastActivityAt: want %v got %v", want.LastActivityAt, got.LastActivityAt)
	}
	if !want.DisconnectedAt.Equal(got.DisconnectedAt) {
		t.Fatalf("unexpected DisconnectedAt: want %v got %v", want.DisconnectedAt, got.DisconnectedAt)
	}
}

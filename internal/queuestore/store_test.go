package queuestore

import (
	"context"
	"errors"
	"testing"

	"github.com/zizaeric/workbox/internal/request"
	pebblestore "github.com/zizaeric/workbox/internal/storage/pebble"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func entry(queue, url string) *Entry {
	return &Entry{
		QueueName:   queue,
		Request:     &request.Data{URL: url, Method: "GET"},
		TimestampMs: 1000,
	}
}

func urls(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.QueueName + ":" + e.Request.URL
	}
	return out
}

func TestAddLastInterleavedAcrossQueues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, x := range []struct{ q, u string }{
		{"a", "/one"}, {"a", "/two"}, {"b", "/three"}, {"a", "/four"}, {"b", "/five"},
	} {
		if _, err := s.AddLast(ctx, entry(x.q, x.u)); err != nil {
			t.Fatalf("add %s: %v", x.u, err)
		}
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	want := []string{"a:/one", "a:/two", "b:/three", "a:/four", "b:/five"}
	got := urls(all)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("store order %v, want %v", got, want)
		}
	}
}

func TestAddFirstInterleavedAcrossQueues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, x := range []struct{ q, u string }{
		{"a", "/one"}, {"a", "/two"}, {"b", "/three"}, {"a", "/four"}, {"b", "/five"},
	} {
		if _, err := s.AddFirst(ctx, entry(x.q, x.u)); err != nil {
			t.Fatalf("add %s: %v", x.u, err)
		}
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	want := []string{"b:/five", "a:/four", "b:/three", "a:/two", "a:/one"}
	got := urls(all)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("store order %v, want %v", got, want)
		}
	}
}

func TestAddFirstAssignsDecreasingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first, _ := s.AddLast(ctx, entry("q", "/a"))
	second, _ := s.AddFirst(ctx, entry("q", "/b"))
	third, _ := s.AddFirst(ctx, entry("q", "/c"))
	if !(third < second && second < first) {
		t.Fatalf("ids not decreasing: %d %d %d", first, second, third)
	}
	if second != first-1 || third != second-1 {
		t.Fatalf("expected min-1 assignment, got %d %d %d", first, second, third)
	}
}

func TestIDsSurviveDrainAndRestart(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()
	s, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	id1, _ := s.AddLast(ctx, entry("q", "/a"))
	if _, err := s.PopFirst(ctx, "q"); err != nil {
		t.Fatalf("pop: %v", err)
	}
	// reopen over the same keyspace; the counter must not reuse id1
	s2, err := Open(db)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	id2, _ := s2.AddLast(ctx, entry("q", "/b"))
	if id2 <= id1 {
		t.Fatalf("id reused after drain: %d then %d", id1, id2)
	}
}

func TestPopFirstPopLastOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, u := range []string{"/1", "/2", "/3"} {
		_, _ = s.AddLast(ctx, entry("q", u))
	}
	head, err := s.PopFirst(ctx, "q")
	if err != nil || head == nil || head.Request.URL != "/1" {
		t.Fatalf("pop first: %v %+v", err, head)
	}
	tail, err := s.PopLast(ctx, "q")
	if err != nil || tail == nil || tail.Request.URL != "/3" {
		t.Fatalf("pop last: %v %+v", err, tail)
	}
	if n, _ := s.Count(ctx, "q"); n != 1 {
		t.Fatalf("count %d", n)
	}
}

func TestPopEmptyReturnsNil(t *testing.T) {
	s := openTestStore(t)
	e, err := s.PopFirst(context.Background(), "missing")
	if err != nil || e != nil {
		t.Fatalf("want nil,nil got %v,%v", e, err)
	}
}

func TestQueueIsolation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _ = s.AddLast(ctx, entry("a", "/a1"))
	_, _ = s.AddLast(ctx, entry("b", "/b1"))

	got, err := s.GetAll(ctx, "a")
	if err != nil {
		t.Fatalf("getall: %v", err)
	}
	if len(got) != 1 || got[0].Request.URL != "/a1" {
		t.Fatalf("queue a leaked: %+v", got)
	}
	if e, _ := s.PopFirst(ctx, "b"); e == nil || e.Request.URL != "/b1" {
		t.Fatalf("queue b: %+v", e)
	}
	if e, _ := s.PopFirst(ctx, "b"); e != nil {
		t.Fatalf("queue b should be empty, got %+v", e)
	}
}

func TestDeleteByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, _ := s.AddLast(ctx, entry("q", "/x"))
	deleted, err := s.DeleteByID(ctx, id)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = s.DeleteByID(ctx, id)
	if err != nil || deleted {
		t.Fatalf("second delete should be a no-op: %v %v", deleted, err)
	}
	if n, _ := s.Count(ctx, "q"); n != 0 {
		t.Fatalf("count %d", n)
	}
}

func TestEntryRoundTripPreservesFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	in := &Entry{
		QueueName: "q",
		Request: &request.Data{
			URL:         "https://example.com/p",
			Method:      "POST",
			Headers:     map[string]string{"Content-Type": "text/plain", "X-A": "1"},
			Body:        []byte("hello"),
			Mode:        "cors",
			Credentials: "include",
			Cache:       "no-store",
			Redirect:    "follow",
			Referrer:    "https://example.com/",
			Integrity:   "sha256-abc",
		},
		TimestampMs: 123456789,
		Metadata:    map[string]string{"attempt": "1"},
	}
	if _, err := s.AddLast(ctx, in); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := s.GetFirst(ctx, "q")
	if err != nil || out == nil {
		t.Fatalf("get: %v", err)
	}
	if out.TimestampMs != in.TimestampMs || out.QueueName != in.QueueName {
		t.Fatalf("entry fields: %+v", out)
	}
	r := out.Request
	if r.URL != in.Request.URL || r.Method != in.Request.Method ||
		r.Mode != "cors" || r.Credentials != "include" || r.Cache != "no-store" ||
		r.Redirect != "follow" || r.Referrer != "https://example.com/" || r.Integrity != "sha256-abc" {
		t.Fatalf("request fields: %+v", r)
	}
	if string(r.Body) != "hello" {
		t.Fatalf("body %q", r.Body)
	}
	for k, v := range in.Request.Headers {
		if r.Headers[k] != v {
			t.Fatalf("header %s=%q", k, r.Headers[k])
		}
	}
	if out.Metadata["attempt"] != "1" {
		t.Fatalf("metadata %+v", out.Metadata)
	}
}

func TestCorruptRecordDetected(t *testing.T) {
	e := entry("q", "/x")
	e.ID = 7
	val, err := encodeEntry(e)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	val[len(val)-1] ^= 0xFF // break the checksum
	if _, err := decodeEntry(7, val); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("want ErrCorruptRecord, got %v", err)
	}
}

func TestQueueNames(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _ = s.AddLast(ctx, entry("b", "/1"))
	_, _ = s.AddLast(ctx, entry("a", "/2"))
	_, _ = s.AddLast(ctx, entry("a", "/3"))
	names, err := s.QueueNames(ctx)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names %v", names)
	}
}

func TestSchemaMigrationDropsV1Entries(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()

	// simulate a version-1 keyspace with a leftover entry
	var meta [12]byte
	meta[3] = 1 // version 1
	if err := db.Set(metaKey(), meta[:]); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	if err := db.Set(entryKey(1), []byte("old-layout")); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	if err := db.Set(queueIdxKey("q", 1), nil); err != nil {
		t.Fatalf("seed idx: %v", err)
	}

	s, err := Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	all, err := s.All(context.Background())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("v1 entries should be abandoned, got %d", len(all))
	}
}

func TestSchemaTooNewRejected(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()
	var meta [12]byte
	meta[3] = SchemaVersion + 1
	if err := db.Set(metaKey(), meta[:]); err != nil {
		t.Fatalf("seed meta: %v", err)
	}
	if _, err := Open(db); !errors.Is(err, ErrSchemaVersion) {
		t.Fatalf("want ErrSchemaVersion, got %v", err)
	}
}

func TestOrderKeyPreservesOrder(t *testing.T) {
	ids := []int64{-3, -1, 0, 1, 42}
	for i := 1; i < len(ids); i++ {
		a, b := orderKey(ids[i-1]), orderKey(ids[i])
		if string(a[:]) >= string(b[:]) {
			t.Fatalf("orderKey(%d) !< orderKey(%d)", ids[i-1], ids[i])
		}
		if idFromOrderKey(a[:]) != ids[i-1] {
			t.Fatalf("roundtrip %d", ids[i-1])
		}
	}
}

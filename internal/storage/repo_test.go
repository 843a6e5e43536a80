package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	s, err := Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateDNAFirstWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadDNA(ctx, "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := s.CreateDNA(ctx, "owner", json.RawMessage(`{"tone":"first"}`))
	if err != nil || !created {
		t.Fatalf("expected first create to win, created=%v err=%v", created, err)
	}
	created, err = s.CreateDNA(ctx, "owner", json.RawMessage(`{"tone":"second"}`))
	if err != nil || created {
		t.Fatalf("expected second create to be ignored, created=%v err=%v", created, err)
	}

	doc, err := s.LoadDNA(ctx, "owner")
	if err != nil {
		t.Fatalf("load dna: %v", err)
	}
	if string(doc.Body) != `{"tone":"first"}` {
		t.Fatalf("unexpected body %s", doc.Body)
	}
}

func TestMergeDNAKeepsOmittedFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateDNA(ctx, "owner", json.RawMessage(`{"persona":"guide","tone":"casual","maxLength":100}`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.MergeDNA(ctx, "owner", map[string]json.RawMessage{"tone": json.RawMessage(`"x"`)}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	doc, err := s.LoadDNA(ctx, "owner")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(doc.Body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["tone"] != "x" || got["persona"] != "guide" || got["maxLength"] != float64(100) {
		t.Fatalf("merge clobbered fields: %#v", got)
	}
}

func TestMergeDNACreatesMissingDocument(t *testing.T) {
	s := openTestStore(t)
	merged, err := s.MergeDNA(context.Background(), "fresh", map[string]json.RawMessage{"selectedVoiceId": json.RawMessage(`null`)})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if string(merged) != `{"selectedVoiceId":null}` {
		t.Fatalf("unexpected merged doc %s", merged)
	}
}

func TestReplaceEventsOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadEvents(ctx, "2026-10-18"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	first := json.RawMessage(`[{"name":"A","venue":"Hall","time":"9 AM"}]`)
	second := json.RawMessage(`[]`)
	if err := s.ReplaceEvents(ctx, "2026-10-18", first); err != nil {
		t.Fatalf("replace #1: %v", err)
	}
	if err := s.ReplaceEvents(ctx, "2026-10-18", second); err != nil {
		t.Fatalf("replace #2: %v", err)
	}
	doc, err := s.LoadEvents(ctx, "2026-10-18")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(doc.Body) != "[]" {
		t.Fatalf("expected overwrite, got %s", doc.Body)
	}
}

func TestLogActionAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.LogAction(ctx, AuditEntry{Actor: "tg:1", Action: "event_add", MetaJSON: `{"day":"2026-10-18"}`}); err != nil {
		t.Fatalf("log #1: %v", err)
	}
	if err := s.LogAction(ctx, AuditEntry{Actor: "tg:1", Action: "voice_set", MetaJSON: "not json"}); err != nil {
		t.Fatalf("log #2: %v", err)
	}
	got, err := s.RecentActions(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Action != "voice_set" || got[0].MetaJSON != "{}" {
		t.Fatalf("unexpected audit entries: %+v", got)
	}
}

// assertDisjointMerges runs two writers that each merge their own key many
// times and checks that neither key was lost.
func assertDisjointMerges(t *testing.T, s *Store, owner string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateDNA(ctx, owner, json.RawMessage(`{"persona":"guide"}`)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const rounds = 25
	var wg sync.WaitGroup
	errCh := make(chan error, 2*rounds)
	write := func(key string) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			val := json.RawMessage(fmt.Sprintf(`"%s-%d"`, key, i))
			if _, err := s.MergeDNA(ctx, owner, map[string]json.RawMessage{key: val}); err != nil {
				errCh <- err
				return
			}
		}
	}
	wg.Add(2)
	go write("tone")
	go write("selectedVoiceId")
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("merge: %v", err)
	}

	doc, err := s.LoadDNA(ctx, owner)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(doc.Body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		"persona":         "guide",
		"tone":            fmt.Sprintf("tone-%d", rounds-1),
		"selectedVoiceId": fmt.Sprintf("selectedVoiceId-%d", rounds-1),
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("expected %s=%q after concurrent merges, got %#v", k, v, got)
		}
	}
}

func TestMergeDNAConcurrentDisjointKeys(t *testing.T) {
	assertDisjointMerges(t, openTestStore(t), "owner")
}

func TestMergeDNAConcurrentDisjointKeysPostgres(t *testing.T) {
	dsn := os.Getenv("CAMPUSBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CAMPUSBOT_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), "postgres", dsn, true, filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	assertDisjointMerges(t, s, "test-"+uuid.NewString())
}

func TestMergeSelectLocksRowOnPostgres(t *testing.T) {
	pg := &Store{driver: "postgres", sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
	sqlStr, args, err := pg.mergeSelect("owner").ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.HasSuffix(sqlStr, "FOR UPDATE") || !strings.Contains(sqlStr, "$1") || len(args) != 1 {
		t.Fatalf("unexpected postgres merge select: %s %v", sqlStr, args)
	}

	lite := &Store{driver: "sqlite", sql: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	sqlStr, _, err = lite.mergeSelect("owner").ToSql()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(sqlStr, "FOR UPDATE") {
		t.Fatalf("sqlite has no row locks: %s", sqlStr)
	}
}

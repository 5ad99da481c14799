package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
	apimw "github.com/hamed0406/presencewatch/internal/httpapi/middleware"
	"github.com/hamed0406/presencewatch/internal/metrics"
	"github.com/hamed0406/presencewatch/internal/notify"
	"github.com/hamed0406/presencewatch/internal/presence"
	"github.com/hamed0406/presencewatch/internal/repo/memory"
	"github.com/hamed0406/presencewatch/internal/scheduler"
	"github.com/hamed0406/presencewatch/internal/tracker"
)

// ---- test helpers ----

type env struct {
	ts    *httptest.Server
	reg   *tracker.Registry
	store *memory.Store
}

func setup(t *testing.T) *env {
	t.Helper()
	src := presence.NewMemory(
		domain.Account{ID: "b1", Username: "uptime-bot", Discriminator: "0042", Status: domain.StatusOnline},
		domain.Account{ID: "b2", Username: "other", Status: domain.StatusOffline},
	)
	store := memory.New()
	reg := tracker.NewRegistry(tracker.Options{
		Source:    src,
		Directory: notify.NewMemory(),
		Store:     store,
		Scheduler: scheduler.NewManual(time.Now()),
	})
	t.Cleanup(reg.StopAll)

	col, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	srv := NewServer(zap.NewNop(), reg, src, col)
	keys := apimw.Keys{Public: []string{"pub_test"}, Admin: []string{"adm_test"}}

	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(keys, nil, 10_000, 10_000, 10_000, 10_000))
	t.Cleanup(ts.Close)
	return &env{ts: ts, reg: reg, store: store}
}

func (e *env) do(t *testing.T, method, path, key, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, e.ts.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

// ---- tests ----

func TestAddTarget_OK_Duplicate_NotFound_Invalid(t *testing.T) {
	e := setup(t)

	code, body := e.do(t, http.MethodPost, "/api/targets", "adm_test",
		`{"tracked_id":"b1","timeout_minutes":5,"issuer_id":"u1"}`)
	if code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", code, body)
	}
	var resp addResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Persisted || resp.Target.ID == "" || resp.Target.Phase != "watching" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Target.Spec.Name != "uptime-bot#0042" {
		t.Fatalf("name should default to the account tag, got %q", resp.Target.Spec.Name)
	}

	code, _ = e.do(t, http.MethodPost, "/api/targets", "adm_test",
		`{"tracked_id":"b1","timeout_minutes":1,"issuer_id":"u1"}`)
	if code != http.StatusConflict {
		t.Fatalf("duplicate: want 409, got %d", code)
	}

	code, _ = e.do(t, http.MethodPost, "/api/targets", "adm_test",
		`{"tracked_id":"ghost","timeout_minutes":1,"issuer_id":"u1"}`)
	if code != http.StatusNotFound {
		t.Fatalf("unknown account: want 404, got %d", code)
	}

	for _, bad := range []string{`{`, `{"tracked_id":"b1"}`, `{"tracked_id":"b1","issuer_id":"u1","timeout_minutes":-1}`} {
		if code, _ := e.do(t, http.MethodPost, "/api/targets", "adm_test", bad); code != http.StatusBadRequest {
			t.Fatalf("payload %s: want 400, got %d", bad, code)
		}
	}
}

func TestAddTarget_RequiresAdmin(t *testing.T) {
	e := setup(t)
	payload := `{"tracked_id":"b1","timeout_minutes":5,"issuer_id":"u1"}`
	if code, _ := e.do(t, http.MethodPost, "/api/targets", "pub_test", payload); code != http.StatusForbidden {
		t.Fatalf("public key: want 403, got %d", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/api/targets", "", payload); code != http.StatusUnauthorized {
		t.Fatalf("no key: want 401, got %d", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/targets", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("list without key: want 401, got %d", code)
	}
}

func TestListAndRemove(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.reg.Add(ctx, domain.TargetSpec{Name: "a", TrackedID: "b1", IssuerID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.reg.Add(ctx, domain.TargetSpec{Name: "b", TrackedID: "b2", IssuerID: "u2", Destination: "chan"}); err != nil {
		t.Fatal(err)
	}

	code, body := e.do(t, http.MethodGet, "/api/targets", "pub_test", "")
	var all []tracker.Snapshot
	if code != http.StatusOK || json.Unmarshal(body, &all) != nil || len(all) != 2 {
		t.Fatalf("list: %d %s", code, body)
	}

	code, body = e.do(t, http.MethodGet, "/api/issuers/u2/targets", "pub_test", "")
	var mine []tracker.Snapshot
	if code != http.StatusOK || json.Unmarshal(body, &mine) != nil || len(mine) != 1 || mine[0].Spec.TrackedID != "b2" {
		t.Fatalf("issuer list: %d %s", code, body)
	}

	// destination is part of the identity
	if code, _ := e.do(t, http.MethodDelete, "/api/issuers/u2/targets/b2", "adm_test", ""); code != http.StatusNotFound {
		t.Fatalf("remove without destination: want 404, got %d", code)
	}
	if code, _ := e.do(t, http.MethodDelete, "/api/issuers/u2/targets/b2?destination=chan", "adm_test", ""); code != http.StatusOK {
		t.Fatalf("remove: want 200, got %d", code)
	}

	code, body = e.do(t, http.MethodGet, "/api/issuers/u2/targets", "pub_test", "")
	if code != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("issuer list after remove: %d %s", code, body)
	}
}

func TestPersistFailureAndSync(t *testing.T) {
	e := setup(t)
	e.store.FailWrites(errors.New("offline"))

	code, body := e.do(t, http.MethodPost, "/api/targets", "adm_test",
		`{"name":"x","tracked_id":"b1","timeout_minutes":5,"issuer_id":"u1"}`)
	if code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", code)
	}
	var resp addResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Persisted || resp.Target.Spec.TrackedID != "b1" {
		t.Fatalf("unexpected body: %s", body)
	}
	if len(e.reg.List()) != 1 {
		t.Fatal("target should stay live when persisting fails")
	}

	if code, _ := e.do(t, http.MethodPost, "/api/sync", "adm_test", ""); code != http.StatusInternalServerError {
		t.Fatalf("sync while failing: want 500, got %d", code)
	}
	e.store.FailWrites(nil)
	if code, _ := e.do(t, http.MethodPost, "/api/sync", "adm_test", ""); code != http.StatusOK {
		t.Fatalf("sync: want 200, got %d", code)
	}
	if _, err := e.store.Get(context.Background(), tracker.SettingsTable, tracker.SettingsKey); err != nil {
		t.Fatalf("list should be stored after sync: %v", err)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	e := setup(t)
	if code, body := e.do(t, http.MethodGet, "/healthz", "", ""); code != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz: %d %s", code, body)
	}
	e.do(t, http.MethodGet, "/api/targets", "pub_test", "")
	code, body := e.do(t, http.MethodGet, "/metrics", "", "")
	if code != http.StatusOK || !strings.Contains(string(body), `path="/api/targets"`) {
		t.Fatalf("metrics: %d %s", code, body)
	}
}

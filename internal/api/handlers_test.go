// Eventpipe - Analytics Event Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/eventpipe

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/eventpipe/internal/broadcast"
	"github.com/tomtom215/eventpipe/internal/config"
	"github.com/tomtom215/eventpipe/internal/idempotency"
	"github.com/tomtom215/eventpipe/internal/ingest"
	"github.com/tomtom215/eventpipe/internal/models"
	"github.com/tomtom215/eventpipe/internal/ratelimit"
	"github.com/tomtom215/eventpipe/internal/session"
	"github.com/tomtom215/eventpipe/internal/store"
	"github.com/tomtom215/eventpipe/internal/webhook"
)

const testOrigin = "https://app.example.com"

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			Enabled:     true,
			IPLimit:     1000,
			TenantLimit: 1000,
			Window:      time.Minute,
		},
		Session: config.SessionConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
		},
		Webhook: config.WebhookConfig{
			Timeout:         2 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  time.Minute,
		},
		Broadcast: config.BroadcastConfig{
			BufferSize:        16,
			HeartbeatInterval: time.Minute,
		},
		Security: config.SecurityConfig{
			CORSOrigins:  []string{testOrigin},
			TenantHeader: "X-Tenant-ID",
		},
	}
}

// syncPublisher hands events straight to the dispatcher so tests observe
// webhook deliveries before the ingest response returns.
type syncPublisher struct {
	dispatcher *webhook.Dispatcher
}

func (p syncPublisher) Publish(ctx context.Context, e *models.Event) error {
	p.dispatcher.OnEvent(ctx, e)
	return nil
}

type hookRecorder struct {
	mu       sync.Mutex
	payloads []models.WebhookPayload
	bodies   [][]byte
	sigs     []string
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p models.WebhookPayload
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &p)
	h.mu.Lock()
	h.payloads = append(h.payloads, p)
	h.bodies = append(h.bodies, body)
	h.sigs = append(h.sigs, r.Header.Get(webhook.SignatureHeader))
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

type testEnv struct {
	server      *httptest.Server
	mem         *store.Memory
	broadcaster *broadcast.Broadcaster
	hooks       *hookRecorder
	hookServer  *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	mem := store.NewMemory()
	b := broadcast.New()
	dispatcher := webhook.NewDispatcher(mem, mem, &cfg.Webhook)
	ing := ingest.New(ingest.Deps{
		Sessions:    session.NewRegistry(mem, &cfg.Session),
		Events:      mem,
		Guard:       idempotency.NewMemoryGuard(time.Hour),
		Limiter:     ratelimit.New(ratelimit.NewMemoryCounter(), &cfg.RateLimit),
		Broadcaster: b,
		Publisher:   syncPublisher{dispatcher: dispatcher},
	})

	handler := NewHandler(cfg, Deps{
		Ingestor:      ing,
		Broadcaster:   b,
		Subscriptions: mem,
		Replayer:      dispatcher,
		Health:        mem,
	})
	srv := httptest.NewServer(NewRouter(handler, nil).SetupChi())
	hooks := &hookRecorder{}
	hookSrv := httptest.NewServer(hooks)

	t.Cleanup(func() {
		b.CloseAll()
		srv.Close()
		hookSrv.Close()
	})
	return &testEnv{server: srv, mem: mem, broadcaster: b, hooks: hooks, hookServer: hookSrv}
}

type envelope struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata models.Metadata  `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope %q: %v", raw, err)
		}
	}
	return resp, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

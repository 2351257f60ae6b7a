package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/app"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/config"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/subscription"
)

// --- Mock implementations ---

type mockDistributor struct {
	distributeFn func(ctx context.Context, u domain.DataUpdate) (app.Result, error)
	received     []domain.DataUpdate
}

func (m *mockDistributor) Distribute(ctx context.Context, u domain.DataUpdate) (app.Result, error) {
	m.received = append(m.received, u)
	if m.distributeFn != nil {
		return m.distributeFn(ctx, u)
	}
	return app.Result{Accepted: true}, nil
}

type mockUpdates struct {
	latest  *domain.DataUpdate
	history []domain.DataUpdate
	stats   stream.Stats
	rate    float64

	lastQuery stream.HistoryQuery
	lastDay   time.Time
}

func (m *mockUpdates) Latest(_ context.Context, _ string) (*domain.DataUpdate, bool) {
	return m.latest, m.latest != nil
}

func (m *mockUpdates) History(_ context.Context, _ string, q stream.HistoryQuery) []domain.DataUpdate {
	m.lastQuery = q
	return m.history
}

func (m *mockUpdates) Stats(_ context.Context, day time.Time) stream.Stats {
	m.lastDay = day
	return m.stats
}

func (m *mockUpdates) UpdatesPerSecond(context.Context) float64 { return m.rate }

type sentMessage struct {
	userID  string
	msgType string
	payload any
	opts    mailbox.EnqueueOptions
}

type mockMessenger struct {
	result   realtime.SendResult
	stats    realtime.Stats
	sent     []sentMessage
	purged   []string
	purgeErr error
}

func (m *mockMessenger) SendToUser(_ context.Context, userID, msgType string, payload any, opts mailbox.EnqueueOptions) realtime.SendResult {
	m.sent = append(m.sent, sentMessage{userID: userID, msgType: msgType, payload: payload, opts: opts})
	return m.result
}

func (m *mockMessenger) PurgeUser(_ context.Context, userID string) error {
	m.purged = append(m.purged, userID)
	return m.purgeErr
}

func (m *mockMessenger) Stats() realtime.Stats { return m.stats }

type mockPool struct {
	metrics pool.Metrics
}

func (m *mockPool) Metrics() pool.Metrics { return m.metrics }

type mockSubscriptions struct {
	stats subscription.Stats
	err   error
}

func (m *mockSubscriptions) Stats(context.Context) (subscription.Stats, error) {
	return m.stats, m.err
}

type mockMailbox struct {
	global  mailbox.GlobalStats
	perUser map[string]mailbox.UserStats
}

func (m *mockMailbox) GlobalStats(context.Context) mailbox.GlobalStats { return m.global }

func (m *mockMailbox) StatsFor(_ context.Context, userID string) mailbox.UserStats {
	return m.perUser[userID]
}

// --- Test server builder ---

type testServer struct {
	*Server
	distributor   *mockDistributor
	updates       *mockUpdates
	messenger     *mockMessenger
	pool          *mockPool
	subscriptions *mockSubscriptions
	mailbox       *mockMailbox
}

type testServerOption func(*config.Config, *[]HealthCheck)

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(_ *config.Config, hc *[]HealthCheck) { *hc = checks }
}

func withAPIKey(key string) testServerOption {
	return func(cfg *config.Config, _ *[]HealthCheck) { cfg.IngestAPIKey = key }
}

func withIngestLimit(perSecond float64, burst int) testServerOption {
	return func(cfg *config.Config, _ *[]HealthCheck) {
		cfg.Tuning.IngestRatePerSecond = perSecond
		cfg.Tuning.IngestBurst = burst
	}
}

func newTestServer(t *testing.T, opts ...testServerOption) *testServer {
	t.Helper()

	cfg := &config.Config{
		AppEnv: "test",
		Port:   "0",
		Tuning: config.Tuning{IngestRatePerSecond: 1000, IngestBurst: 1000},
	}
	var checks []HealthCheck
	for _, opt := range opts {
		opt(cfg, &checks)
	}

	ts := &testServer{
		distributor:   &mockDistributor{},
		updates:       &mockUpdates{},
		messenger:     &mockMessenger{result: realtime.SendResult{Success: true}},
		pool:          &mockPool{},
		subscriptions: &mockSubscriptions{},
		mailbox:       &mockMailbox{perUser: map[string]mailbox.UserStats{}},
	}
	services := Services{
		Distributor:   ts.distributor,
		Updates:       ts.updates,
		Messenger:     ts.messenger,
		Pool:          ts.pool,
		Subscriptions: ts.subscriptions,
		Mailbox:       ts.mailbox,
	}
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	ts.Server = NewServer(cfg, services, nil, metricsHandler, nil, checks)
	require.NotNil(t, ts.Server)
	return ts
}

// do runs a request through the full middleware chain.
func (ts *testServer) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

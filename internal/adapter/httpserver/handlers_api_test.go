package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/app"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/pool"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/subscription"
)

const btcUpdate = `{"topic":"BTC","source":"binance","price":64000.5,"timestamp":"2026-02-02T09:00:00Z","quality":"HIGH"}`

func TestIngestUpdate_Accepted(t *testing.T) {
	srv := newTestServer(t)
	srv.distributor.distributeFn = func(_ context.Context, u domain.DataUpdate) (app.Result, error) {
		return app.Result{Accepted: true, Recipients: 3, Queued: 1}, nil
	}

	rec := srv.do(http.MethodPost, "/api/v1/updates", btcUpdate)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":true,"recipients":3,"queued":1}`, rec.Body.String())
	require.Len(t, srv.distributor.received, 1)
	assert.Equal(t, "BTC", srv.distributor.received[0].Topic)
	assert.Equal(t, domain.QualityHigh, srv.distributor.received[0].Quality)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestIngestUpdate_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"validation", fmt.Errorf("%w: price must be a positive number", domain.ErrValidationRejected), http.StatusBadRequest, "validation"},
		{"rate limited", fmt.Errorf("%w: topic BTC exceeded 100 updates per second", domain.ErrRateLimited), http.StatusTooManyRequests, "rate_limited"},
		{"store down", fmt.Errorf("%w: dial tcp", domain.ErrStoreUnavailable), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.distributor.distributeFn = func(context.Context, domain.DataUpdate) (app.Result, error) {
				return app.Result{}, tt.err
			}

			rec := srv.do(http.MethodPost, "/api/v1/updates", btcUpdate)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, false, resp["accepted"])
			assert.Equal(t, tt.wantType, resp["type"])
		})
	}
}

func TestIngestUpdate_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodPost, "/api/v1/updates", `{"topic":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
	assert.Empty(t, srv.distributor.received)
}

func TestIngestUpdate_APIKey(t *testing.T) {
	srv := newTestServer(t, withAPIKey("s3cret"))

	missing := srv.do(http.MethodPost, "/api/v1/updates", btcUpdate)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Contains(t, missing.Body.String(), `"type":"unauthorized"`)

	wrong := srv.do(http.MethodPost, "/api/v1/updates", btcUpdate, apiKeyHeader, "guess")
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)

	ok := srv.do(http.MethodPost, "/api/v1/updates", btcUpdate, apiKeyHeader, "s3cret")
	assert.Equal(t, http.StatusAccepted, ok.Code)
	assert.Len(t, srv.distributor.received, 1)
}

func TestIngestUpdate_RateLimitedPerClient(t *testing.T) {
	srv := newTestServer(t, withIngestLimit(0.01, 1))

	assert.Equal(t, http.StatusAccepted, srv.do(http.MethodPost, "/api/v1/updates", btcUpdate).Code)

	rec := srv.do(http.MethodPost, "/api/v1/updates", btcUpdate)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"rate_limited"`)
	assert.Len(t, srv.distributor.received, 1)
}

func TestLatestUpdate(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/api/v1/updates/latest?topic=BTC", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"not_found"`)

	srv.updates.latest = &domain.DataUpdate{Topic: "BTC", Source: "binance", Price: 64000, Quality: domain.QualityHigh}
	rec = srv.do(http.MethodGet, "/api/v1/updates/latest?topic=BTC", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"price":64000`)

	rec = srv.do(http.MethodGet, "/api/v1/updates/latest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateHistory(t *testing.T) {
	srv := newTestServer(t)
	srv.updates.history = []domain.DataUpdate{{Topic: "BTC", Price: 2}, {Topic: "BTC", Price: 1}}

	rec := srv.do(http.MethodGet, "/api/v1/updates/history?topic=BTC&from=2026-02-02T08:00:00Z&to=1770022800000&limit=2", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Topic   string              `json:"topic"`
		Count   int                 `json:"count"`
		Updates []domain.DataUpdate `json:"updates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BTC", resp.Topic)
	assert.Equal(t, 2, resp.Count)

	q := srv.updates.lastQuery
	assert.True(t, q.From.Equal(time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)))
	assert.True(t, q.To.Equal(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, q.Limit)
}

func TestUpdateHistory_InvalidQuery(t *testing.T) {
	srv := newTestServer(t)

	for _, target := range []string{
		"/api/v1/updates/history",
		"/api/v1/updates/history?topic=BTC&from=yesterday",
		"/api/v1/updates/history?topic=BTC&limit=0",
		"/api/v1/updates/history?topic=BTC&from=2026-02-02T10:00:00Z&to=2026-02-02T09:00:00Z",
	} {
		assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, target, "").Code, target)
	}
}

func TestSendMessage(t *testing.T) {
	srv := newTestServer(t)
	srv.messenger.result = realtime.SendResult{Queued: true}

	rec := srv.do(http.MethodPost, "/api/v1/users/user-1/messages",
		`{"type":"price_alert","data":{"symbol":"BTC"},"priority":"urgent","ttlSeconds":60}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"queued":true}`, rec.Body.String())
	require.Len(t, srv.messenger.sent, 1)
	sent := srv.messenger.sent[0]
	assert.Equal(t, "user-1", sent.userID)
	assert.Equal(t, "price_alert", sent.msgType)
	assert.Equal(t, mailbox.EnqueueOptions{Priority: domain.PriorityUrgent, TTL: time.Minute}, sent.opts)
	assert.JSONEq(t, `{"symbol":"BTC"}`, string(sent.payload.(json.RawMessage)))
}

func TestSendMessage_Invalid(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{
		`{"data":{}}`,
		`{"type":"alert","priority":"whenever"}`,
		`{"type":"alert","ttlSeconds":-1}`,
		`not json`,
	} {
		rec := srv.do(http.MethodPost, "/api/v1/users/user-1/messages", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, srv.messenger.sent)
}

func TestSendMessage_QueueFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.messenger.result = realtime.SendResult{Err: errors.New("redis: connection refused")}

	rec := srv.do(http.MethodPost, "/api/v1/users/user-1/messages", `{"type":"alert"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"unavailable"`)
}

func TestPurgeUser(t *testing.T) {
	srv := newTestServer(t, withAPIKey("s3cret"))

	assert.Equal(t, http.StatusUnauthorized, srv.do(http.MethodDelete, "/api/v1/users/user-1", "").Code)

	rec := srv.do(http.MethodDelete, "/api/v1/users/user-1", "", apiKeyHeader, "s3cret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"user-1"}, srv.messenger.purged)

	srv.messenger.purgeErr = errors.New("redis: connection refused")
	rec = srv.do(http.MethodDelete, "/api/v1/users/user-2", "", apiKeyHeader, "s3cret")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.pool.metrics = pool.Metrics{Active: 2, PerUser: map[string]int{"user-1": 2}, Created: 5, Destroyed: 3}
	srv.messenger.stats = realtime.Stats{Connections: 2, Users: 1, Groups: map[string]int{"topic:BTC": 2}}
	srv.subscriptions.stats = subscription.Stats{TotalTopics: 1, TotalUsers: 1, TotalSubscriptions: 1,
		TopTopics: []subscription.TopicCount{{Topic: "BTC", Subscribers: 1}}}
	srv.mailbox.global = mailbox.GlobalStats{TotalMailboxes: 1, TotalMessages: 4, AveragePerMailbox: 4}
	srv.mailbox.perUser["user-1"] = mailbox.UserStats{Total: 4}
	srv.updates.stats = stream.Stats{StreamDayStats: domain.StreamDayStats{Day: "2026-02-02", Accepted: 10}, AverageLatencyMs: 12.5}
	srv.updates.rate = 0.5

	rec := srv.do(http.MethodGet, "/api/v1/stats/pool", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"activeConnections":2`)
	assert.Contains(t, rec.Body.String(), `"topic:BTC":2`)

	rec = srv.do(http.MethodGet, "/api/v1/stats/subscriptions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"topTopics":[{"topic":"BTC","subscribers":1}]`)

	rec = srv.do(http.MethodGet, "/api/v1/stats/mailboxes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalMessages":4`)

	rec = srv.do(http.MethodGet, "/api/v1/users/user-1/mailbox/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalMessages":4`)

	rec = srv.do(http.MethodGet, "/api/v1/stats/stream?day=2026-02-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"averageLatencyMs":12.5`)
	assert.Contains(t, rec.Body.String(), `"updatesPerSecond":0.5`)
	assert.True(t, srv.updates.lastDay.Equal(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/api/v1/stats/stream?day=monday", "").Code)
}

func TestSubscriptionStats_StoreFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.subscriptions.err = errors.New("redis: i/o timeout")

	rec := srv.do(http.MethodGet, "/api/v1/stats/subscriptions", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")
}

package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	apperrors "github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/errors"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/stream"
)

const maxIngestBody = 64 << 10

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api/v1")

	t := s.config.Tuning
	api.POST("/updates", s.handleIngestUpdate, s.ingestAuth(), newRateLimiter(t.IngestRatePerSecond, t.IngestBurst))
	api.GET("/updates/latest", s.handleLatestUpdate)
	api.GET("/updates/history", s.handleUpdateHistory)

	api.POST("/users/:userID/messages", s.handleSendMessage, s.ingestAuth())
	api.DELETE("/users/:userID", s.handlePurgeUser, s.ingestAuth())
	api.GET("/users/:userID/mailbox/stats", s.handleMailboxStatsForUser)

	api.GET("/stats/pool", s.handlePoolStats)
	api.GET("/stats/subscriptions", s.handleSubscriptionStats)
	api.GET("/stats/mailboxes", s.handleMailboxStats)
	api.GET("/stats/stream", s.handleStreamStats)
}

type ingestResponse struct {
	Accepted   bool                `json:"accepted"`
	Recipients int                 `json:"recipients,omitempty"`
	Queued     int                 `json:"queued,omitempty"`
	Error      string              `json:"error,omitempty"`
	Type       apperrors.ErrorType `json:"type,omitempty"`
}

func (s *Server) handleIngestUpdate(c echo.Context) error {
	ctx := c.Request().Context()

	var u domain.DataUpdate
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxIngestBody)
	if err := json.NewDecoder(body).Decode(&u); err != nil {
		return apperrors.ValidationError("request body must be a JSON market update")
	}

	res, err := s.services.Distributor.Distribute(ctx, u)
	if err != nil {
		rejection := apperrors.AsStructuredError(err).WithContext("topic", u.Topic)
		logError(c, rejection)
		resp := ingestResponse{Accepted: false, Error: rejection.Message, Type: rejection.Type}
		if err := c.JSON(rejection.HTTPStatus(), resp); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}

	resp := ingestResponse{Accepted: res.Accepted, Recipients: res.Recipients, Queued: res.Queued}
	if err := c.JSON(http.StatusAccepted, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLatestUpdate(c echo.Context) error {
	topic := strings.TrimSpace(c.QueryParam("topic"))
	if topic == "" {
		return apperrors.ValidationError("topic is required")
	}

	latest, ok := s.services.Updates.Latest(c.Request().Context(), topic)
	if !ok {
		return apperrors.NotFoundError("no updates for topic").WithContext("topic", topic)
	}

	if err := c.JSON(http.StatusOK, latest); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateHistory(c echo.Context) error {
	topic := strings.TrimSpace(c.QueryParam("topic"))
	if topic == "" {
		return apperrors.ValidationError("topic is required")
	}

	var (
		q   stream.HistoryQuery
		err error
	)
	if q.From, err = parseInstant(c.QueryParam("from")); err != nil {
		return apperrors.ValidationError("from must be RFC 3339 or unix milliseconds").WithContext("from", c.QueryParam("from"))
	}
	if q.To, err = parseInstant(c.QueryParam("to")); err != nil {
		return apperrors.ValidationError("to must be RFC 3339 or unix milliseconds").WithContext("to", c.QueryParam("to"))
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return apperrors.ValidationError("from must not be after to")
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 1 {
			return apperrors.ValidationError("limit must be a positive integer").WithContext("limit", raw)
		}
	}

	updates := s.services.Updates.History(c.Request().Context(), topic, q)
	response := map[string]any{"topic": topic, "count": len(updates), "updates": updates}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// parseInstant accepts RFC 3339 or unix milliseconds. Empty means unbounded.
func parseInstant(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse instant %q: %w", raw, err)
	}
	return t, nil
}

type sendMessageRequest struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Priority   domain.Priority `json:"priority"`
	TTLSeconds int             `json:"ttlSeconds"`
	MaxRetries int             `json:"maxRetries"`
}

func (s *Server) handleSendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("userID")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("request body must be a JSON message")
	}
	if strings.TrimSpace(req.Type) == "" {
		return apperrors.ValidationError("type is required")
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return apperrors.ValidationError("priority must be one of low, normal, high, urgent").WithContext("priority", string(req.Priority))
	}
	if req.TTLSeconds < 0 || req.MaxRetries < 0 {
		return apperrors.ValidationError("ttlSeconds and maxRetries must not be negative")
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("null")
	}

	opts := mailbox.EnqueueOptions{
		Priority:   req.Priority,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
		MaxRetries: req.MaxRetries,
	}
	res := s.services.Messenger.SendToUser(ctx, userID, req.Type, req.Data, opts)
	if res.Err != nil {
		if errors.Is(res.Err, domain.ErrValidationRejected) {
			return res.Err
		}
		return apperrors.UnavailableError("message could not be delivered or queued", res.Err).WithContext("user_id", userID)
	}

	if err := c.JSON(http.StatusOK, res); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handlePurgeUser drops the stored state of a closed account. Open connections
// of the user stay up until they disconnect.
func (s *Server) handlePurgeUser(c echo.Context) error {
	userID := c.Param("userID")
	if err := s.services.Messenger.PurgeUser(c.Request().Context(), userID); err != nil {
		return apperrors.UnavailableError("failed to purge user", err).WithContext("user_id", userID)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMailboxStatsForUser(c echo.Context) error {
	stats := s.services.Mailbox.StatsFor(c.Request().Context(), c.Param("userID"))
	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePoolStats(c echo.Context) error {
	response := map[string]any{
		"pool":        s.services.Pool.Metrics(),
		"connections": s.services.Messenger.Stats(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleSubscriptionStats(c echo.Context) error {
	stats, err := s.services.Subscriptions.Stats(c.Request().Context())
	if err != nil {
		return apperrors.UnavailableError("failed to read subscription stats", err)
	}
	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleMailboxStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.services.Mailbox.GlobalStats(c.Request().Context())); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStreamStats(c echo.Context) error {
	ctx := c.Request().Context()

	var day time.Time
	if raw := c.QueryParam("day"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return apperrors.ValidationError("day must be YYYY-MM-DD").WithContext("day", raw)
		}
		day = parsed
	}

	response := map[string]any{
		"day":              s.services.Updates.Stats(ctx, day),
		"updatesPerSecond": s.services.Updates.UpdatesPerSecond(ctx),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

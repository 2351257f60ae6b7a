package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/mailbox"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
)

const marketEventType = "market"

type Ingester interface {
	Ingest(ctx context.Context, u domain.DataUpdate) (domain.DataUpdate, error)
}

type SubscriberLister interface {
	SubscribersOf(ctx context.Context, topic string) ([]string, error)
}

type Fanout interface {
	Broadcast(ctx context.Context, topic, msgType string, payload any) int
	IsOnline(userID string) bool
	SendToUser(ctx context.Context, userID, msgType string, payload any, opts mailbox.EnqueueOptions) realtime.SendResult
}

// Distributor is the producer-facing entry point. Accepted updates go to the live
// topic room, and subscribers without a connection get a low-priority copy queued.
type Distributor struct {
	streamer   Ingester
	subs       SubscriberLister
	fanout     Fanout
	offlineTTL time.Duration
}

// NewDistributor wires ingestion to fan-out. An offlineTTL of zero disables offline copies.
func NewDistributor(streamer Ingester, subs SubscriberLister, fanout Fanout, offlineTTL time.Duration) *Distributor {
	return &Distributor{streamer: streamer, subs: subs, fanout: fanout, offlineTTL: offlineTTL}
}

// Result describes what happened to one submitted update.
type Result struct {
	Accepted   bool `json:"accepted"`
	Recipients int  `json:"recipients"`
	Queued     int  `json:"queued"`
}

// Submit reports whether the update was accepted. See Distribute for the details.
func (d *Distributor) Submit(ctx context.Context, u domain.DataUpdate) bool {
	res, _ := d.Distribute(ctx, u)
	return res.Accepted
}

// Distribute ingests the update and fans it out. The error carries the rejection
// reason when the update was not accepted.
func (d *Distributor) Distribute(ctx context.Context, u domain.DataUpdate) (Result, error) {
	accepted, err := d.streamer.Ingest(ctx, u)
	if err != nil {
		return Result{}, err
	}

	res := Result{Accepted: true}
	res.Recipients = d.fanout.Broadcast(ctx, accepted.Topic, marketEventType, accepted)

	if d.offlineTTL > 0 {
		res.Queued = d.queueOffline(ctx, accepted)
	}

	slog.DebugContext(ctx, "Update distributed", "topic", accepted.Topic, "recipients", res.Recipients, "queued", res.Queued)
	return res, nil
}

func (d *Distributor) queueOffline(ctx context.Context, u domain.DataUpdate) int {
	users, err := d.subs.SubscribersOf(ctx, u.Topic)
	if err != nil {
		slog.WarnContext(ctx, "Could not list subscribers for offline delivery", "topic", u.Topic, "error", err)
		return 0
	}

	opts := mailbox.EnqueueOptions{Priority: domain.PriorityLow, TTL: d.offlineTTL}
	queued := 0
	for _, userID := range users {
		if d.fanout.IsOnline(userID) {
			continue
		}
		if res := d.fanout.SendToUser(ctx, userID, marketEventType+"_update", u, opts); res.Queued {
			queued++
		}
	}
	return queued
}

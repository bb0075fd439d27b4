package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/ritikkashyap720/Server-monitor/internal/docker"
	"github.com/ritikkashyap720/Server-monitor/internal/domain"
	"github.com/ritikkashyap720/Server-monitor/internal/ws"
)

const defaultInterval = time.Second

// Broadcaster pushes one consolidated snapshot of every running container to
// all subscribers once per interval. It is idle with zero subscribers: the
// first Subscribe starts the tick loop, the last Unsubscribe cancels it, so no
// daemon calls happen while nobody is watching.
//
// Ticks are serialized: each tick runs inline on the loop goroutine, so a tick
// slower than the interval delays the next one and the ticker drops the
// missed fires.
type Broadcaster struct {
	runtime  docker.Runtime
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	subs   map[ws.Subscriber]struct{}
	cancel context.CancelFunc
}

// NewBroadcaster constructs an idle Broadcaster.
func NewBroadcaster(runtime docker.Runtime, logger *slog.Logger, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "broadcaster")
	return &Broadcaster{
		runtime:  runtime,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		subs:     make(map[ws.Subscriber]struct{}),
	}
}

// Subscribe registers a viewer. The 0->1 transition starts the tick loop.
func (b *Broadcaster) Subscribe(sub ws.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	if len(b.subs) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.loop(ctx)
	}
}

// Unsubscribe removes a viewer. The 1->0 transition cancels the tick loop; a
// tick already in flight finishes and its output is discarded because it sends
// against the then-empty subscriber set.
func (b *Broadcaster) Unsubscribe(sub ws.Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if len(b.subs) == 0 && b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *Broadcaster) loop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("snapshot broadcaster started", "interval", b.interval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("snapshot broadcaster stopped")
			return
		case <-ticker.C:
			b.runTick(ctx)
		}
	}
}

// runTick executes one list/fan-out/push cycle. Per-container failures only
// omit that container's entry; a listing failure is reported to every
// subscriber and the loop retries on the next tick.
func (b *Broadcaster) runTick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, b.interval)
	defer cancel()

	containers, err := b.runtime.ListRunning(ctx)
	if err != nil {
		b.logger.Warn("failed to list containers", "error", err)
		b.push(errorPayload(err))
		return
	}

	list := make([]domain.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		list = append(list, Summarize(c))
	}

	details := make(map[string]domain.ContainerDetail, len(containers))
	stats := make(map[string]domain.ContainerStats, len(containers))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range containers {
		id := c.ID
		wg.Add(2)
		go func() {
			defer wg.Done()
			inspect, err := b.runtime.Inspect(ctx, id)
			if err != nil {
				b.logger.Warn("inspect failed", "container", id, "error", err)
				return
			}
			detail, err := DeriveDetail(inspect, b.now())
			if err != nil {
				b.logger.Warn("inspect record unusable", "container", id, "error", err)
				return
			}
			mu.Lock()
			details[id] = detail
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			sample, err := b.runtime.Stats(ctx, id)
			if err != nil {
				b.logger.Warn("stats fetch failed", "container", id, "error", err)
				return
			}
			derived, err := DeriveStats(sample)
			if err != nil {
				b.logger.Warn("stats sample unusable", "container", id, "error", err)
				return
			}
			mu.Lock()
			stats[id] = derived
			mu.Unlock()
		}()
	}
	wg.Wait()

	payload, err := json.Marshal(domain.Snapshot{
		Type:    "update",
		List:    list,
		Details: details,
		Stats:   stats,
	})
	if err != nil {
		b.logger.Error("failed to marshal snapshot", "error", err)
		return
	}
	b.push(payload)
}

// push sends the identical payload to every current subscriber. A subscriber
// that cannot accept the payload is skipped for this tick; its owner removes
// it on the disconnect signal.
func (b *Broadcaster) push(payload []byte) {
	b.mu.Lock()
	targets := make([]ws.Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if err := sub.Send(payload); err != nil {
			b.logger.Warn("subscriber send skipped", "error", err)
		}
	}
}

// Summarize maps one raw daemon listing row to the summary shape.
func Summarize(c types.Container) domain.ContainerSummary {
	name := ""
	if len(c.Names) > 0 {
		name = c.Names[0]
	}
	return domain.ContainerSummary{
		ID:      c.ID,
		Name:    DisplayName(name, c.ID),
		Image:   c.Image,
		Status:  c.Status,
		State:   c.State,
		Created: c.Created,
	}
}

func errorPayload(err error) []byte {
	msg := "broadcast failed"
	if err != nil {
		msg = err.Error()
	}
	payload, marshalErr := json.Marshal(map[string]string{
		"type":  "error",
		"error": msg,
	})
	if marshalErr != nil {
		return []byte(`{"type":"error","error":"broadcast failed"}`)
	}
	return payload
}

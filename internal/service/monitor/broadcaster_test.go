package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"

	"github.com/ritikkashyap720/Server-monitor/internal/docker"
	"github.com/ritikkashyap720/Server-monitor/internal/domain"
)

type fakeRuntime struct {
	mu         sync.Mutex
	containers []types.Container
	listCalls  int
	listErr    error
	inspectErr map[string]error
	statsErr   map[string]error
}

func (f *fakeRuntime) ListRunning(ctx context.Context) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]types.Container, len(f.containers))
	copy(out, f.containers)
	return out, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	f.mu.Lock()
	err := f.inspectErr[id]
	f.mu.Unlock()
	if err != nil {
		return types.ContainerJSON{}, err
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:   id,
			Name: "/" + id,
			State: &types.ContainerState{
				Status:    "running",
				Running:   true,
				StartedAt: time.Now().Add(-time.Minute).Format(time.RFC3339Nano),
			},
		},
		Config: &container.Config{Image: "nginx:latest"},
	}, nil
}

func (f *fakeRuntime) Stats(ctx context.Context, id string) (types.StatsJSON, error) {
	f.mu.Lock()
	err := f.statsErr[id]
	f.mu.Unlock()
	if err != nil {
		return types.StatsJSON{}, err
	}
	return makeSample(200, 100, 2000, 1000, 2, 512, 1024), nil
}

func (f *fakeRuntime) OpenLogStream(ctx context.Context, id string, opts docker.LogOptions) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRuntime) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type fakeSub struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
	closed   bool
}

func (s *fakeSub) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *fakeSub) last(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) == 0 {
		t.Fatalf("no payloads received")
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(s.payloads[len(s.payloads)-1], &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	return decoded
}

func runningContainer(id string) types.Container {
	return types.Container{
		ID:      id,
		Names:   []string{"/" + id},
		Image:   "nginx:latest",
		Status:  "Up 2 minutes",
		State:   "running",
		Created: 1700000000,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestBroadcasterIdleMakesNoRuntimeCalls(t *testing.T) {
	rt := &fakeRuntime{containers: []types.Container{runningContainer("a")}}
	NewBroadcaster(rt, testLogger(), 10*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if rt.calls() != 0 {
		t.Fatalf("idle broadcaster must not call the runtime, got %d calls", rt.calls())
	}
}

func TestSubscribeStartsTicking(t *testing.T) {
	rt := &fakeRuntime{containers: []types.Container{runningContainer("a")}}
	b := NewBroadcaster(rt, testLogger(), 10*time.Millisecond)
	sub := &fakeSub{}

	b.Subscribe(sub)
	defer b.Unsubscribe(sub)

	waitFor(t, 2*time.Second, func() bool { return sub.count() >= 1 })

	payload := sub.last(t)
	var kind string
	if err := json.Unmarshal(payload["type"], &kind); err != nil || kind != "update" {
		t.Fatalf("expected update payload, got %v (%v)", kind, err)
	}
	var list []domain.ContainerSummary
	if err := json.Unmarshal(payload["list"], &list); err != nil {
		t.Fatalf("list not decodable: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a" || list[0].Name != "a" {
		t.Fatalf("unexpected list %+v", list)
	}
	var stats map[string]domain.ContainerStats
	if err := json.Unmarshal(payload["stats"], &stats); err != nil {
		t.Fatalf("stats not decodable: %v", err)
	}
	if cpu := stats["a"].CPUPercent; cpu < 0 || cpu > 100 {
		t.Fatalf("cpu percent out of range: %v", cpu)
	}
}

func TestLastUnsubscribeStopsTicking(t *testing.T) {
	rt := &fakeRuntime{containers: []types.Container{runningContainer("a")}}
	b := NewBroadcaster(rt, testLogger(), 10*time.Millisecond)
	sub := &fakeSub{}

	b.Subscribe(sub)
	waitFor(t, 2*time.Second, func() bool { return sub.count() >= 1 })
	b.Unsubscribe(sub)

	// Allow an in-flight tick to drain, then assert quiescence over a
	// period-plus-margin window.
	time.Sleep(30 * time.Millisecond)
	before := rt.calls()
	time.Sleep(60 * time.Millisecond)
	if after := rt.calls(); after != before {
		t.Fatalf("broadcaster kept ticking after last unsubscribe: %d -> %d", before, after)
	}
}

func TestTickPartialFailureOmitsOnlyFailedContainer(t *testing.T) {
	rt := &fakeRuntime{
		containers: []types.Container{runningContainer("a"), runningContainer("b"), runningContainer("c")},
		statsErr:   map[string]error{"b": errors.New("stats boom")},
	}
	b := NewBroadcaster(rt, testLogger(), time.Second)
	sub := &fakeSub{}
	b.subs[sub] = struct{}{}

	b.runTick(context.Background())

	payload := sub.last(t)
	var list []domain.ContainerSummary
	if err := json.Unmarshal(payload["list"], &list); err != nil {
		t.Fatalf("list not decodable: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list must keep all containers, got %d", len(list))
	}
	var stats map[string]domain.ContainerStats
	if err := json.Unmarshal(payload["stats"], &stats); err != nil {
		t.Fatalf("stats not decodable: %v", err)
	}
	if _, ok := stats["b"]; ok {
		t.Fatalf("failed container must be absent from stats")
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for a and c, got %d entries", len(stats))
	}
	var details map[string]domain.ContainerDetail
	if err := json.Unmarshal(payload["details"], &details); err != nil {
		t.Fatalf("details not decodable: %v", err)
	}
	if len(details) != 3 {
		t.Fatalf("details unaffected by stats failure, got %d entries", len(details))
	}
}

func TestTickListFailureBroadcastsErrorEvent(t *testing.T) {
	rt := &fakeRuntime{listErr: errors.New("daemon unreachable")}
	b := NewBroadcaster(rt, testLogger(), time.Second)
	sub := &fakeSub{}
	b.subs[sub] = struct{}{}

	b.runTick(context.Background())

	payload := sub.last(t)
	var kind, msg string
	if err := json.Unmarshal(payload["type"], &kind); err != nil || kind != "error" {
		t.Fatalf("expected error payload, got %q (%v)", kind, err)
	}
	if err := json.Unmarshal(payload["error"], &msg); err != nil || msg == "" {
		t.Fatalf("expected error message, got %q (%v)", msg, err)
	}
}

func TestTickSkipsSubscriberThatCannotAccept(t *testing.T) {
	rt := &fakeRuntime{containers: []types.Container{runningContainer("a")}}
	b := NewBroadcaster(rt, testLogger(), time.Second)
	dead := &fakeSub{sendErr: errors.New("slow consumer")}
	live := &fakeSub{}
	b.subs[dead] = struct{}{}
	b.subs[live] = struct{}{}

	b.runTick(context.Background())

	if live.count() != 1 {
		t.Fatalf("healthy subscriber must still receive the tick, got %d", live.count())
	}
	// The dead subscriber stays registered; pruning happens on its own
	// disconnect signal.
	if len(b.subs) != 2 {
		t.Fatalf("broadcaster must not prune subscribers itself")
	}
}

func TestNilLoggerDoesNotPanic(t *testing.T) {
	rt := &fakeRuntime{listErr: errors.New("daemon unreachable")}
	b := NewBroadcaster(rt, nil, time.Second)
	sub := &fakeSub{}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	// The list failure path logs before pushing the error event.
	b.runTick(context.Background())
	if sub.count() != 1 {
		t.Fatalf("expected error event despite nil logger, got %d payloads", sub.count())
	}
}

func TestMalformedInspectOmitsDetailEntry(t *testing.T) {
	rt := &fakeRuntime{
		containers: []types.Container{runningContainer("a")},
		inspectErr: map[string]error{"a": ErrMalformedInspect},
	}
	b := NewBroadcaster(rt, testLogger(), time.Second)
	sub := &fakeSub{}
	b.subs[sub] = struct{}{}

	b.runTick(context.Background())

	payload := sub.last(t)
	var details map[string]domain.ContainerDetail
	if err := json.Unmarshal(payload["details"], &details); err != nil {
		t.Fatalf("details not decodable: %v", err)
	}
	if len(details) != 0 {
		t.Fatalf("malformed inspect must omit the entry, got %d", len(details))
	}
	var kind string
	if err := json.Unmarshal(payload["type"], &kind); err != nil || kind != "update" {
		t.Fatalf("tick must still produce an update, got %q", kind)
	}
}

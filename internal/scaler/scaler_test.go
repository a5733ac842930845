package scaler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/vela/internal/broker"
)

type fakeDepthBroker struct {
	depths   map[string]int
	depthErr map[string]error
}

func (f *fakeDepthBroker) Receive(ctx context.Context, queue string, maxWait time.Duration) (*broker.Message, error) {
	return nil, broker.ErrNoMessage
}
func (f *fakeDepthBroker) Complete(ctx context.Context, msg *broker.Message) error { return nil }
func (f *fakeDepthBroker) Abandon(ctx context.Context, msg *broker.Message) error  { return nil }
func (f *fakeDepthBroker) Send(ctx context.Context, queue string, body []byte) error {
	return nil
}
func (f *fakeDepthBroker) Depth(ctx context.Context, queue string) (int, error) {
	if err := f.depthErr[queue]; err != nil {
		return 0, err
	}
	return f.depths[queue], nil
}
func (f *fakeDepthBroker) Ping(ctx context.Context) error { return nil }
func (f *fakeDepthBroker) Close() error                   { return nil }

type fakeOrchestrator struct {
	replicas map[string]int
	getErr   map[string]error
	patches  map[string][]int
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		replicas: make(map[string]int),
		getErr:   make(map[string]error),
		patches:  make(map[string][]int),
	}
}

func (f *fakeOrchestrator) GetReplicas(ctx context.Context, deployment string) (int, error) {
	if err := f.getErr[deployment]; err != nil {
		return 0, err
	}
	return f.replicas[deployment], nil
}

func (f *fakeOrchestrator) SetReplicas(ctx context.Context, deployment string, n int) error {
	f.replicas[deployment] = n
	f.patches[deployment] = append(f.patches[deployment], n)
	return nil
}

func TestTargetReplicas(t *testing.T) {
	s := New(&fakeDepthBroker{}, newFakeOrchestrator(), Config{})

	// Depth sequence for threshold 5 from the actor pair.
	cases := []struct {
		depth, threshold, want int
	}{
		{0, 5, 1},
		{1, 5, 1},
		{4, 5, 1},
		{5, 5, 2},
		{11, 5, 3},
		{1000, 5, 10}, // clamped to MaxReplicas
		{0, 3, 1},
		{3, 3, 2},
		{7, 3, 3},
	}
	for _, tc := range cases {
		if got := s.targetReplicas(tc.depth, tc.threshold); got != tc.want {
			t.Errorf("targetReplicas(%d, %d) = %d, want %d", tc.depth, tc.threshold, got, tc.want)
		}
	}
}

func TestTargetReplicasBounds(t *testing.T) {
	s := New(&fakeDepthBroker{}, newFakeOrchestrator(), Config{})

	for depth := 0; depth <= 200; depth++ {
		for _, threshold := range []int{1, 3, 5} {
			got := s.targetReplicas(depth, threshold)
			if got < MinReplicas || got > MaxReplicas {
				t.Fatalf("targetReplicas(%d, %d) = %d out of [%d, %d]",
					depth, threshold, got, MinReplicas, MaxReplicas)
			}
		}
	}
}

func TestEvaluatePatchesOnDrift(t *testing.T) {
	b := &fakeDepthBroker{depths: map[string]int{"actor-jobs": 11, "spark-jobs": 0}}
	o := newFakeOrchestrator()
	o.replicas["actor-worker"] = 1
	o.replicas["spark-worker"] = 1

	s := New(b, o, Config{})
	s.evaluate(context.Background())

	if got := o.replicas["actor-worker"]; got != 3 {
		t.Errorf("actor-worker scaled to %d, want 3", got)
	}
	// spark queue idle and already at the floor: no patch issued.
	if len(o.patches["spark-worker"]) != 0 {
		t.Errorf("spark-worker patched %v despite matching target", o.patches["spark-worker"])
	}
}

func TestEvaluateSkipsWriteWhenConverged(t *testing.T) {
	b := &fakeDepthBroker{depths: map[string]int{"actor-jobs": 11}}
	o := newFakeOrchestrator()
	o.replicas["actor-worker"] = 3

	s := New(b, o, Config{Pairs: []Pair{{Queue: "actor-jobs", Deployment: "actor-worker", Threshold: 5}}})
	s.evaluate(context.Background())

	if len(o.patches["actor-worker"]) != 0 {
		t.Errorf("expected no patch at converged state, got %v", o.patches["actor-worker"])
	}
}

func TestEvaluateIsolatesPairFailures(t *testing.T) {
	b := &fakeDepthBroker{
		depths:   map[string]int{"spark-jobs": 9},
		depthErr: map[string]error{"actor-jobs": errors.New("queue unreachable")},
	}
	o := newFakeOrchestrator()
	o.replicas["spark-worker"] = 1

	s := New(b, o, Config{})
	s.evaluate(context.Background())

	// The actor pair failed; the spark pair must still converge.
	if got := o.replicas["spark-worker"]; got != 4 {
		t.Errorf("spark-worker scaled to %d, want 4", got)
	}
}

func TestEvaluateOrchestratorFailureIsolated(t *testing.T) {
	b := &fakeDepthBroker{depths: map[string]int{"actor-jobs": 20, "spark-jobs": 6}}
	o := newFakeOrchestrator()
	o.getErr["actor-worker"] = errors.New("api down")
	o.replicas["spark-worker"] = 1

	s := New(b, o, Config{})
	s.evaluate(context.Background())

	if got := o.replicas["spark-worker"]; got != 3 {
		t.Errorf("spark-worker scaled to %d, want 3", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(&fakeDepthBroker{}, newFakeOrchestrator(), Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestDefaultPairs(t *testing.T) {
	s := New(&fakeDepthBroker{}, newFakeOrchestrator(), Config{})
	if len(s.cfg.Pairs) != 2 {
		t.Fatalf("expected 2 default pairs, got %d", len(s.cfg.Pairs))
	}
	if s.cfg.Pairs[0].Queue != "actor-jobs" || s.cfg.Pairs[0].Deployment != "actor-worker" || s.cfg.Pairs[0].Threshold != 5 {
		t.Errorf("unexpected actor pair: %+v", s.cfg.Pairs[0])
	}
	if s.cfg.Pairs[1].Queue != "spark-jobs" || s.cfg.Pairs[1].Deployment != "spark-worker" || s.cfg.Pairs[1].Threshold != 3 {
		t.Errorf("unexpected spark pair: %+v", s.cfg.Pairs[1])
	}
}

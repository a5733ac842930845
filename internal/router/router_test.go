package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oriys/vela/internal/broker"
	"github.com/oriys/vela/internal/circuitbreaker"
	"github.com/oriys/vela/internal/journal"
)

// fakeBroker scripts receives and records sends and acks.
type fakeBroker struct {
	sent      map[string][][]byte
	completes int
	abandons  int
	sendErr   map[string]error // per-queue send failures
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		sent:    make(map[string][][]byte),
		sendErr: make(map[string]error),
	}
}

func (f *fakeBroker) Receive(ctx context.Context, queue string, maxWait time.Duration) (*broker.Message, error) {
	return nil, broker.ErrNoMessage
}

func (f *fakeBroker) Complete(ctx context.Context, msg *broker.Message) error {
	f.completes++
	return nil
}

func (f *fakeBroker) Abandon(ctx context.Context, msg *broker.Message) error {
	f.abandons++
	return nil
}

func (f *fakeBroker) Send(ctx context.Context, queue string, body []byte) error {
	if err := f.sendErr[queue]; err != nil {
		return err
	}
	f.sent[queue] = append(f.sent[queue], body)
	return nil
}

func (f *fakeBroker) Depth(ctx context.Context, queue string) (int, error) { return 0, nil }
func (f *fakeBroker) Ping(ctx context.Context) error                      { return nil }
func (f *fakeBroker) Close() error                                        { return nil }

func (f *fakeBroker) acks() int { return f.completes + f.abandons }

// fakeSubmitter fails a configurable number of submissions.
type fakeSubmitter struct {
	failures  int
	submitted []string
	tiers     []string
	payloads  []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, jobID string, payload json.RawMessage, tier string) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("bulk service unavailable")
	}
	f.submitted = append(f.submitted, jobID)
	f.tiers = append(f.tiers, tier)
	f.payloads = append(f.payloads, string(payload))
	return "ext-" + jobID, nil
}

func newTestRouter(b *fakeBroker, s *fakeSubmitter) *Router {
	j := journal.NewMemory(time.Minute, 100)
	r := New(b, nil, circuitbreaker.New(circuitbreaker.DefaultConfig), j, Config{})
	if s != nil {
		r.bulk = s
	}
	r.routeLog.SetConsole(false)
	return r
}

func msg(body string) *broker.Message {
	return &broker.Message{Queue: DefaultIngressQueue, Body: []byte(body)}
}

func TestProcessLocalDispatch(t *testing.T) {
	b := newFakeBroker()
	r := newTestRouter(b, nil)

	body := `{"job_id":"b","payload":{"rows":1000,"estimated_runtime_sec":10}}`
	r.process(context.Background(), msg(body))

	if got := b.sent["actor-jobs"]; len(got) != 1 || string(got[0]) != body {
		t.Fatalf("expected verbatim body on actor-jobs, got %v", got)
	}
	if b.completes != 1 || b.abandons != 0 {
		t.Errorf("acks: %d completes, %d abandons", b.completes, b.abandons)
	}
}

func TestProcessForwardsBytesVerbatim(t *testing.T) {
	b := newFakeBroker()
	r := newTestRouter(b, nil)

	// Unknown payload keys and odd spacing must survive untouched.
	body := `{"job_id":"x",  "payload": {"rows": 12, "custom": {"a": [1,2,3]}}}`
	r.process(context.Background(), msg(body))

	got := b.sent["actor-jobs"]
	if len(got) != 1 || string(got[0]) != body {
		t.Fatalf("forwarded body differs from ingress body:\n got %s\nwant %s", got[0], body)
	}
}

func TestProcessDecodeFailureAbandons(t *testing.T) {
	b := newFakeBroker()
	r := newTestRouter(b, nil)

	r.process(context.Background(), msg("not-json"))

	if b.abandons != 1 || b.completes != 0 {
		t.Errorf("acks: %d completes, %d abandons; want abandon only", b.completes, b.abandons)
	}
	for q, bodies := range b.sent {
		if len(bodies) > 0 {
			t.Errorf("unexpected dispatch to %s", q)
		}
	}
}

func TestProcessSendFailureAbandons(t *testing.T) {
	b := newFakeBroker()
	b.sendErr["actor-jobs"] = errors.New("broker down")
	r := newTestRouter(b, nil)

	r.process(context.Background(), msg(`{"job_id":"b","payload":{}}`))

	if b.abandons != 1 || b.completes != 0 {
		t.Errorf("acks: %d completes, %d abandons; want abandon only", b.completes, b.abandons)
	}
}

func TestProcessBulkDispatch(t *testing.T) {
	b := newFakeBroker()
	s := &fakeSubmitter{}
	r := newTestRouter(b, s)

	// Scenario: score 40 with bulk available → (bulk, spark).
	body := `{"job_id":"c","payload":{"rows":10000000,"estimated_runtime_sec":600,"priority":"high"}}`
	r.process(context.Background(), msg(body))

	if len(s.submitted) != 1 || s.submitted[0] != "c" {
		t.Fatalf("expected bulk submission of job c, got %v", s.submitted)
	}
	if s.tiers[0] != "spark" {
		t.Errorf("bulk tier label = %q, want bare tier name", s.tiers[0])
	}
	if b.completes != 1 || b.abandons != 0 {
		t.Errorf("acks: %d completes, %d abandons", b.completes, b.abandons)
	}
	if len(b.sent["spark-jobs"]) != 0 {
		t.Error("bulk success must not also dispatch locally")
	}
}

func TestProcessBulkFallback(t *testing.T) {
	b := newFakeBroker()
	s := &fakeSubmitter{failures: 1}
	r := newTestRouter(b, s)

	body := `{"job_id":"c","payload":{"rows":10000000,"estimated_runtime_sec":600,"priority":"high"}}`
	r.process(context.Background(), msg(body))

	got := b.sent["spark-jobs"]
	if len(got) != 1 || string(got[0]) != body {
		t.Fatalf("fallback should land the ingress body on spark-jobs, got %v", got)
	}
	if b.completes != 1 || b.abandons != 0 {
		t.Errorf("acks: %d completes, %d abandons", b.completes, b.abandons)
	}
}

func TestProcessBulkFallbackSendFailureAbandons(t *testing.T) {
	b := newFakeBroker()
	b.sendErr["spark-jobs"] = errors.New("broker down")
	s := &fakeSubmitter{failures: 1}
	r := newTestRouter(b, s)

	body := `{"job_id":"c","payload":{"rows":10000000,"estimated_runtime_sec":600,"priority":"high"}}`
	r.process(context.Background(), msg(body))

	if b.completes != 0 {
		t.Error("ingress must not be completed when bulk and fallback both fail")
	}
	if b.abandons != 1 {
		t.Errorf("abandons = %d, want 1", b.abandons)
	}
}

func TestProcessLatencySensitiveSkipsBulk(t *testing.T) {
	b := newFakeBroker()
	s := &fakeSubmitter{}
	r := newTestRouter(b, s)

	body := `{"job_id":"a","payload":{"latency_sensitive":true,"rows":10000000,"priority":"high"}}`
	r.process(context.Background(), msg(body))

	if len(s.submitted) != 0 {
		t.Error("latency-sensitive jobs must never reach bulk")
	}
	if got := b.sent["actor-jobs"]; len(got) != 1 {
		t.Fatalf("expected dispatch to actor-jobs, got %v", b.sent)
	}
}

func TestProcessExactlyOneAckPerMessage(t *testing.T) {
	bodies := []string{
		`{"job_id":"1","payload":{}}`,
		`garbage`,
		`{"job_id":"2","payload":{"rows":10000000,"estimated_runtime_sec":600,"priority":"high"}}`,
		`{"job_id":"3","payload":{"latency_sensitive":true}}`,
	}
	b := newFakeBroker()
	r := newTestRouter(b, &fakeSubmitter{failures: 1})

	for i, body := range bodies {
		before := b.acks()
		r.process(context.Background(), msg(body))
		if got := b.acks() - before; got != 1 {
			t.Errorf("message %d issued %d acks, want exactly 1", i, got)
		}
	}
}

func TestProcessOpenBreakerRoutesLocally(t *testing.T) {
	b := newFakeBroker()
	s := &fakeSubmitter{failures: 100}
	r := newTestRouter(b, s)

	body := `{"job_id":"c","payload":{"rows":10000000,"estimated_runtime_sec":600,"priority":"high"}}`

	// Drive the breaker open with failing submissions.
	for i := 0; i < 5; i++ {
		r.process(context.Background(), msg(body))
	}
	if r.breaker.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", r.breaker.State())
	}

	attempted := len(s.submitted) + (100 - s.failures)
	r.process(context.Background(), msg(body))

	// No new bulk attempt while open; the job still lands on spark-jobs.
	if nowAttempted := len(s.submitted) + (100 - s.failures); nowAttempted != attempted {
		t.Error("open breaker should suppress bulk submission attempts")
	}
	if len(b.sent["spark-jobs"]) == 0 {
		t.Error("job should tier locally while the breaker is open")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b := newFakeBroker()
	r := newTestRouter(b, nil)
	r.cfg.ReceiveWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
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

func TestRecordPopulatesJournal(t *testing.T) {
	b := newFakeBroker()
	r := newTestRouter(b, nil)

	r.process(context.Background(), msg(`{"job_id":"j-journal","payload":{}}`))

	recent := r.journal.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("journal has %d events, want 1", len(recent))
	}
	ev := recent[0]
	if ev.JobID != "j-journal" || ev.Platform != "local" || ev.Tier != "actor" || ev.Queue != "actor-jobs" {
		t.Errorf("unexpected journal event: %+v", ev)
	}
	if !ev.Success {
		t.Error("expected a successful event")
	}
	if fmt.Sprintf("%.3f", ev.Score) != "0.168" {
		t.Errorf("score = %v, want ≈0.168", ev.Score)
	}
}

// Package router implements the ingress-consuming routing pipeline:
// receive one message, classify it, dispatch it to a downstream queue or
// the bulk service, then settle the ingress message. Processing is
// strictly serial per instance (prefetch 1); horizontal scaling means
// running more router processes against the same broker.
package router

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/vela/internal/broker"
	"github.com/oriys/vela/internal/bulk"
	"github.com/oriys/vela/internal/circuitbreaker"
	"github.com/oriys/vela/internal/classify"
	"github.com/oriys/vela/internal/domain"
	"github.com/oriys/vela/internal/journal"
	"github.com/oriys/vela/internal/logging"
	"github.com/oriys/vela/internal/metrics"
	"github.com/oriys/vela/internal/observability"
)

// Config holds router loop settings.
type Config struct {
	IngressQueue string        // queue consumed by the router (default: jobqueue)
	ReceiveWait  time.Duration // single-poll wait (default: 5s)
}

// DefaultIngressQueue is the fixed entry-point queue name.
const DefaultIngressQueue = "jobqueue"

// Router consumes the ingress queue and dispatches classified jobs.
type Router struct {
	broker     broker.Broker
	bulk       bulk.Submitter // nil when the bulk service is not configured
	breaker    *circuitbreaker.Breaker
	classifier *classify.Classifier
	journal    journal.Journal
	routeLog   *logging.Logger
	cfg        Config
}

// New creates a router. The bulk submitter may be nil; the breaker and
// journal must not be.
func New(b broker.Broker, submitter bulk.Submitter, breaker *circuitbreaker.Breaker, j journal.Journal, cfg Config) *Router {
	if cfg.IngressQueue == "" {
		cfg.IngressQueue = DefaultIngressQueue
	}
	if cfg.ReceiveWait <= 0 {
		cfg.ReceiveWait = 5 * time.Second
	}
	return &Router{
		broker:     b,
		bulk:       submitter,
		breaker:    breaker,
		classifier: classify.NewDefault(),
		journal:    j,
		routeLog:   logging.Default(),
		cfg:        cfg,
	}
}

// Run consumes the ingress queue until the context is cancelled. A message
// already received when cancellation arrives runs its state machine to a
// terminal ack before Run returns.
func (r *Router) Run(ctx context.Context) error {
	logging.Op().Info("router started", "queue", r.cfg.IngressQueue)

	for {
		if ctx.Err() != nil {
			logging.Op().Info("router stopped")
			return nil
		}

		msg, err := r.broker.Receive(ctx, r.cfg.IngressQueue, r.cfg.ReceiveWait)
		if errors.Is(err, broker.ErrNoMessage) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				logging.Op().Info("router stopped")
				return nil
			}
			logging.Op().Error("router receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		// The in-flight message finishes even under shutdown; only the
		// receive loop observes cancellation.
		r.process(context.WithoutCancel(ctx), msg)
	}
}

// process runs one message through Received → Classified → Dispatched →
// Completed, or to Abandoned from any step. Exactly one terminal ack is
// issued before it returns.
func (r *Router) process(ctx context.Context, msg *broker.Message) {
	start := time.Now()
	settled := false

	defer func() {
		if rec := recover(); rec != nil {
			logging.Op().Error("router handler panic", "panic", rec)
		}
		if !settled {
			r.abandon(ctx, msg, "handler")
		}
	}()

	job, err := domain.Decode(msg.Body)
	if err != nil {
		// Malformed descriptors are permanent failures for this delivery;
		// dead-lettering is the broker's business.
		logging.Op().Warn("undecodable job descriptor", "error", err)
		r.abandon(ctx, msg, "decode")
		settled = true
		return
	}

	bulkAvailable := r.bulk != nil
	decision := r.classifier.Classify(job, bulkAvailable)
	if decision.Platform == classify.PlatformBulk && !r.breaker.Allow() {
		// Breaker open: take the availability snapshot as bulk-down and
		// tier locally.
		decision = r.classifier.Classify(job, false)
	}

	ctx, span := observability.StartSpan(ctx, "route job",
		attribute.String("job.id", job.JobID),
		attribute.String("route.platform", string(decision.Platform)),
		attribute.String("route.tier", decision.Tier.String()),
		attribute.Float64("route.score", decision.Score),
	)
	defer span.End()

	settled = r.dispatch(ctx, msg, job, decision, start)
}

// dispatch delivers the job per the routing decision and settles the
// ingress message. Returns true once a terminal ack has been issued.
func (r *Router) dispatch(ctx context.Context, msg *broker.Message, job *domain.Job, decision classify.Decision, start time.Time) bool {
	if decision.Platform == classify.PlatformBulk {
		extID, err := r.bulk.Submit(ctx, job.JobID, job.Raw, decision.Tier.String())
		if err == nil {
			r.breaker.RecordSuccess()
			r.complete(ctx, msg)
			r.record(ctx, job, decision, start, false, true, "")
			logging.Op().Debug("bulk job submitted", "job_id", job.JobID, "external_id", extID, "tier", decision.Tier.String())
			return true
		}
		r.breaker.RecordFailure()
		metrics.SetBreakerState(int(r.breaker.State()))
		metrics.RecordBulkFallback()
		logging.Op().Warn("bulk submit failed, falling back to local queue", "job_id", job.JobID, "error", err)

		// The bulk attempt counts as not-dispatched; only the fallback's
		// outcome decides the ack.
		fallbackQueue := decision.Tier.QueueName()
		if sendErr := r.broker.Send(ctx, fallbackQueue, msg.Body); sendErr != nil {
			logging.Op().Error("fallback send failed", "job_id", job.JobID, "queue", fallbackQueue, "error", sendErr)
			r.abandon(ctx, msg, "fallback-send")
			r.record(ctx, job, decision, start, true, false, sendErr.Error())
			return true
		}
		r.complete(ctx, msg)
		r.record(ctx, job, decision, start, true, true, "")
		return true
	}

	if err := r.broker.Send(ctx, decision.Queue, msg.Body); err != nil {
		logging.Op().Error("dispatch send failed", "job_id", job.JobID, "queue", decision.Queue, "error", err)
		r.abandon(ctx, msg, "send")
		r.record(ctx, job, decision, start, false, false, err.Error())
		return true
	}
	r.complete(ctx, msg)
	r.record(ctx, job, decision, start, false, true, "")
	return true
}

func (r *Router) complete(ctx context.Context, msg *broker.Message) {
	if err := r.broker.Complete(ctx, msg); err != nil {
		// The broker will redeliver; downstream consumers are idempotent
		// under at-least-once delivery.
		logging.Op().Error("complete failed", "queue", msg.Queue, "error", err)
	}
}

func (r *Router) abandon(ctx context.Context, msg *broker.Message, reason string) {
	metrics.RecordAbandoned(reason)
	if err := r.broker.Abandon(ctx, msg); err != nil {
		logging.Op().Error("abandon failed", "queue", msg.Queue, "reason", reason, "error", err)
	}
}

// record emits the per-job routing event to the journal, the routing log,
// and the metrics registry.
func (r *Router) record(ctx context.Context, job *domain.Job, decision classify.Decision, start time.Time, fallback, success bool, errMsg string) {
	durationMs := time.Since(start).Milliseconds()

	queue := decision.Queue
	if fallback {
		queue = decision.Tier.QueueName()
	}

	status := "completed"
	if !success {
		status = "abandoned"
	}
	metrics.RecordRouted(string(decision.Platform), decision.Tier.String(), status, durationMs, decision.Score)

	if r.journal != nil {
		r.journal.Record(ctx, &journal.Event{
			JobID:      job.JobID,
			Platform:   string(decision.Platform),
			Tier:       decision.Tier.String(),
			Queue:      queue,
			Score:      decision.Score,
			DurationMs: durationMs,
			Fallback:   fallback,
			Success:    success,
			Error:      errMsg,
		})
	}

	r.routeLog.Log(&logging.RoutingLog{
		JobID:      job.JobID,
		Platform:   string(decision.Platform),
		Tier:       decision.Tier.String(),
		Queue:      queue,
		Score:      decision.Score,
		DurationMs: durationMs,
		Fallback:   fallback,
		Success:    success,
		Error:      errMsg,
	})
}

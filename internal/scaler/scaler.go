// Package scaler implements the elasticity controller: a timer-driven loop
// that converts observed queue depths into replica targets for worker
// deployments. The controller is stateless between ticks; convergence
// comes from repeated observation.
package scaler

import (
	"context"
	"time"

	"github.com/oriys/vela/internal/broker"
	"github.com/oriys/vela/internal/logging"
	"github.com/oriys/vela/internal/metrics"
	"github.com/oriys/vela/internal/orchestrator"
)

// Replica bounds and tick defaults.
const (
	MinReplicas          = 1
	MaxReplicas          = 10
	DefaultCheckInterval = 10 * time.Second
)

// Pair binds a monitored queue to the deployment sized from its depth.
type Pair struct {
	Queue      string `json:"queue" yaml:"queue"`
	Deployment string `json:"deployment" yaml:"deployment"`
	// Threshold is the backlog a single replica is expected to absorb.
	Threshold int `json:"threshold" yaml:"threshold"`
}

// DefaultPairs is the contract-level managed set.
var DefaultPairs = []Pair{
	{Queue: "actor-jobs", Deployment: "actor-worker", Threshold: 5},
	{Queue: "spark-jobs", Deployment: "spark-worker", Threshold: 3},
}

// Config holds controller settings.
type Config struct {
	Interval    time.Duration
	Pairs       []Pair
	MinReplicas int
	MaxReplicas int
}

// Scaler runs the control loop.
type Scaler struct {
	broker broker.Broker
	orch   orchestrator.Orchestrator
	cfg    Config
}

// New creates a scaler with defaults filled in.
func New(b broker.Broker, o orchestrator.Orchestrator, cfg Config) *Scaler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if len(cfg.Pairs) == 0 {
		cfg.Pairs = DefaultPairs
	}
	if cfg.MinReplicas <= 0 {
		cfg.MinReplicas = MinReplicas
	}
	if cfg.MaxReplicas <= 0 {
		cfg.MaxReplicas = MaxReplicas
	}
	return &Scaler{broker: b, orch: o, cfg: cfg}
}

// Run evaluates all managed pairs every tick until the context is
// cancelled. A tick in progress finishes before Run returns.
func (s *Scaler) Run(ctx context.Context) error {
	logging.Op().Info("elasticity controller started",
		"interval", s.cfg.Interval,
		"pairs", len(s.cfg.Pairs),
		"min_replicas", s.cfg.MinReplicas,
		"max_replicas", s.cfg.MaxReplicas)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Op().Info("elasticity controller stopped")
			return nil
		case <-ticker.C:
			s.evaluate(context.WithoutCancel(ctx))
		}
	}
}

// evaluate runs one tick. A failure in one pair never blocks the others.
func (s *Scaler) evaluate(ctx context.Context) {
	for _, pair := range s.cfg.Pairs {
		if err := s.evaluatePair(ctx, pair); err != nil {
			logging.Op().Error("pair evaluation failed",
				"queue", pair.Queue,
				"deployment", pair.Deployment,
				"error", err)
		}
	}
}

func (s *Scaler) evaluatePair(ctx context.Context, pair Pair) error {
	depth, err := s.broker.Depth(ctx, pair.Queue)
	if err != nil {
		return err
	}
	metrics.SetQueueDepth(pair.Queue, depth)

	target := s.targetReplicas(depth, pair.Threshold)
	metrics.SetDesiredReplicas(pair.Deployment, target)

	current, err := s.orch.GetReplicas(ctx, pair.Deployment)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}

	if err := s.orch.SetReplicas(ctx, pair.Deployment, target); err != nil {
		return err
	}

	direction := "up"
	if target < current {
		direction = "down"
	}
	metrics.RecordScaleDecision(pair.Deployment, direction)
	logging.Op().Info("scaled deployment",
		"deployment", pair.Deployment,
		"queue", pair.Queue,
		"depth", depth,
		"from", current,
		"to", target)
	return nil
}

// targetReplicas maps a queue depth to a bounded replica count: an idle
// queue parks at the floor, otherwise one replica per threshold-sized
// slice of backlog plus one, clamped to the configured bounds.
func (s *Scaler) targetReplicas(depth, threshold int) int {
	if depth <= 0 {
		return s.cfg.MinReplicas
	}
	if threshold <= 0 {
		threshold = 1
	}
	needed := depth/threshold + 1
	if needed < s.cfg.MinReplicas {
		return s.cfg.MinReplicas
	}
	if needed > s.cfg.MaxReplicas {
		return s.cfg.MaxReplicas
	}
	return needed
}

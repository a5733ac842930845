// Package classify implements the cost estimator and tier classifier.
// Classification is a pure function of the job descriptor and the
// bulk-availability snapshot taken at call time; it has no side effects.
package classify

import (
	"github.com/oriys/vela/internal/domain"
)

// Platform selects where a job executes.
type Platform string

const (
	PlatformLocal Platform = "local" // internal worker queue
	PlatformBulk  Platform = "bulk"  // external heavy-compute service
)

// Tier identifies a worker class, ordered by expected compute weight.
type Tier int

const (
	TierActor Tier = iota
	TierML
	TierSpark
)

func (t Tier) String() string {
	switch t {
	case TierActor:
		return "actor"
	case TierML:
		return "ml"
	case TierSpark:
		return "spark"
	default:
		return "unknown"
	}
}

// QueueName returns the local worker queue for a tier ("{tier}-jobs").
// The bare tier name is what the bulk service receives; the suffixed form
// is the local queue convention. Both are kept explicit here.
func (t Tier) QueueName() string {
	return t.String() + "-jobs"
}

// Thresholds holds the tunable classification constants.
type Thresholds struct {
	ML           float64 // score above which a job leaves the actor tier
	Spark        float64 // score above which a job is spark-sized
	NormalWeight float64
	HighWeight   float64
}

// DefaultThresholds are the contract-level defaults.
var DefaultThresholds = Thresholds{
	ML:           4,
	Spark:        10,
	NormalWeight: 1,
	HighWeight:   2,
}

// Decision is the routing triple produced for a job.
type Decision struct {
	Platform Platform
	Tier     Tier
	// Queue is the concrete local destination; empty for bulk dispatch.
	Queue string
	Score float64
}

// Classifier evaluates job descriptors against a threshold set.
type Classifier struct {
	thresholds Thresholds
}

// New creates a classifier with the given thresholds.
func New(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// NewDefault creates a classifier with the contract defaults.
func NewDefault() *Classifier {
	return &Classifier{thresholds: DefaultThresholds}
}

// Score computes the cost score of a payload:
//
//	(rows/1_000_000 + estimated_runtime_sec/60) * priority_weight
func (c *Classifier) Score(p domain.Payload) float64 {
	cpuCost := float64(p.Rows) / 1_000_000
	timeCost := float64(p.RuntimeSec) / 60

	weight := c.thresholds.NormalWeight
	if p.Priority == domain.PriorityHigh {
		weight = c.thresholds.HighWeight
	}
	return (cpuCost + timeCost) * weight
}

// Classify maps a descriptor to a routing decision. Latency-sensitive jobs
// always land on the actor queue regardless of score. Ties at the exact
// thresholds go to the lower tier (strict >).
func (c *Classifier) Classify(job *domain.Job, bulkAvailable bool) Decision {
	score := c.Score(job.Payload)

	if job.Payload.LatencySensitive {
		return Decision{
			Platform: PlatformLocal,
			Tier:     TierActor,
			Queue:    TierActor.QueueName(),
			Score:    score,
		}
	}

	tier := TierActor
	switch {
	case score > c.thresholds.Spark:
		tier = TierSpark
	case score > c.thresholds.ML:
		tier = TierML
	}

	// Bulk handles only the heavy tiers; actor-sized work stays local
	// even when the bulk service is configured.
	if bulkAvailable && tier != TierActor {
		return Decision{Platform: PlatformBulk, Tier: tier, Score: score}
	}

	return Decision{
		Platform: PlatformLocal,
		Tier:     tier,
		Queue:    tier.QueueName(),
		Score:    score,
	}
}

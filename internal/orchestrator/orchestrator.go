// Package orchestrator abstracts the workload scheduler the elasticity
// controller patches replica counts against.
package orchestrator

import "context"

// Orchestrator is the minimum deployment-scaling contract.
type Orchestrator interface {
	// GetReplicas returns the current desired replica count of a deployment.
	GetReplicas(ctx context.Context, deployment string) (int, error)

	// SetReplicas patches the desired replica count. Idempotent; callers
	// may invoke it with the current value, implementations skip the
	// write in that case to avoid API churn.
	SetReplicas(ctx context.Context, deployment string, replicas int) error
}

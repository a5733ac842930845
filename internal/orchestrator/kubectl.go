package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/vela/internal/logging"
)

// KubectlOrchestrator scales Kubernetes deployments by shelling out to
// kubectl. Credential selection (in-cluster service account vs. an
// external kubeconfig) is kubectl's own resolution order, so the adapter
// works unchanged inside and outside the cluster.
type KubectlOrchestrator struct {
	namespace  string
	kubeconfig string
	timeout    time.Duration
}

// Config holds the kubectl adapter settings.
type Config struct {
	Namespace  string        // target namespace (default: local-infra)
	Kubeconfig string        // explicit kubeconfig path (empty: kubectl default resolution)
	Timeout    time.Duration // per-call timeout (default: 15s)
}

// NewKubectl creates a kubectl-backed orchestrator and verifies the
// client binary is available.
func NewKubectl(cfg Config) (*KubectlOrchestrator, error) {
	if err := exec.Command("kubectl", "version", "--client", "--output=yaml").Run(); err != nil {
		return nil, fmt.Errorf("kubectl not available: %w", err)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "local-infra"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &KubectlOrchestrator{
		namespace:  cfg.Namespace,
		kubeconfig: cfg.Kubeconfig,
		timeout:    cfg.Timeout,
	}, nil
}

func (o *KubectlOrchestrator) args(rest ...string) []string {
	args := []string{"-n", o.namespace}
	if o.kubeconfig != "" {
		args = append(args, "--kubeconfig", o.kubeconfig)
	}
	return append(args, rest...)
}

// GetReplicas reads the deployment's desired replica count.
func (o *KubectlOrchestrator) GetReplicas(ctx context.Context, deployment string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "kubectl", o.args(
		"get", "deployment", deployment, "-o", "jsonpath={.spec.replicas}")...)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("kubectl get deployment %s: %w", deployment, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parse replicas for %s: %w", deployment, err)
	}
	return n, nil
}

// SetReplicas patches the deployment scale. The write is skipped when the
// current count already matches.
func (o *KubectlOrchestrator) SetReplicas(ctx context.Context, deployment string, replicas int) error {
	current, err := o.GetReplicas(ctx, deployment)
	if err == nil && current == replicas {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "kubectl", o.args(
		"scale", "deployment", deployment, "--replicas", strconv.Itoa(replicas))...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("kubectl scale %s: %w: %s", deployment, err, output)
	}
	logging.Op().Debug("patched deployment scale", "deployment", deployment, "namespace", o.namespace, "replicas", replicas)
	return nil
}

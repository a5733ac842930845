// Package bulk integrates the external heavy-compute service. The adapter
// is optional: it exists only when the account name, key, and URL are all
// configured, and the router treats the bulk platform as unavailable
// otherwise.
package bulk

import (
	"context"
	"encoding/json"
)

// Submitter submits a job to the bulk-compute service.
type Submitter interface {
	// Submit hands the job to the service under the given tier label
	// ("ml" or "spark") and returns the external job ID.
	Submit(ctx context.Context, jobID string, payload json.RawMessage, tier string) (string, error)
}

// Account holds the bulk service credentials. All three fields are
// required together; a partially configured account disables the adapter.
type Account struct {
	Name string
	Key  string
	URL  string
}

// Configured reports whether the account enables bulk dispatch.
func (a Account) Configured() bool {
	return a.Name != "" && a.Key != "" && a.URL != ""
}

package pipeline

import (
	"context"
	"fmt"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/batchexec"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/logging"
	"resourcecore/pkg/repository"
)

// DirectoryClient is the out-of-scope external directory collaborator
// (spec.md §4.5.1) that lists resources known to one discovery
// endpoint.
type DirectoryClient interface {
	ListResources(ctx context.Context, endpoint string) ([]domain.Resource, error)
}

// DiscoveryRunner runs one discovery round over a set of endpoints
// (spec.md §4.5.1): shutdown-on-failure so a single malformed
// directory aborts the whole round.
type DiscoveryRunner struct {
	admission *admission.Controller
	resources repository.ResourceRepository
	directory DirectoryClient
	logger    *logging.Logger
}

// NewDiscoveryRunner constructs a DiscoveryRunner.
func NewDiscoveryRunner(adm *admission.Controller, resources repository.ResourceRepository, directory DirectoryClient, logger *logging.Logger) *DiscoveryRunner {
	return &DiscoveryRunner{admission: adm, resources: resources, directory: directory, logger: logger}
}

// Run discovers resources from every endpoint and persists new
// snapshots with status DISCOVERED. As soon as one endpoint's call
// fails, all other in-flight endpoints are cancelled and the first
// error is returned.
func (r *DiscoveryRunner) Run(ctx context.Context, endpoints []string) error {
	items := make([]batchexec.Item, 0, len(endpoints))
	for _, endpoint := range endpoints {
		endpoint := endpoint
		items = append(items, batchexec.FuncItem{
			IDValue: endpoint,
			Fn: func(ctx context.Context) error {
				return r.discoverOne(ctx, endpoint)
			},
		})
	}

	return batchexec.RunShutdownOnFailure(ctx, items)
}

func (r *DiscoveryRunner) discoverOne(ctx context.Context, endpoint string) error {
	if !r.admission.TryAcquire(admission.ClassDiscovery) {
		r.logger.Debug("discovery permit unavailable, skipping endpoint", map[string]interface{}{"endpoint": endpoint})
		return nil
	}
	defer r.admission.Release(admission.ClassDiscovery)

	discovered, err := r.directory.ListResources(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("discovery endpoint %s failed: %w", endpoint, err)
	}

	for i := range discovered {
		discovered[i].Status = domain.ResourceStatusDiscovered
	}

	if err := r.resources.SaveAllResources(ctx, discovered); err != nil {
		return fmt.Errorf("failed to persist discovered resources from %s: %w", endpoint, err)
	}
	return nil
}

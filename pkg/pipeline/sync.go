package pipeline

import (
	"context"
	"fmt"
	"time"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/institution"
	"resourcecore/pkg/repository"
)

// SyncProbe issues the institution call a sync job needs. institution.Client
// satisfies this directly; tests substitute a stub.
type SyncProbe interface {
	Do(ctx context.Context, resourceID, method, path string, headers institution.Headers, body []byte) (*institution.Response, error)
}

// SyncOperation implements RESOURCE_SYNC (spec.md §4.5.2): acquire
// sync + apiCall, call the institution's API, update lastSyncedAt on
// success.
type SyncOperation struct {
	admission *admission.Controller
	resources repository.ResourceRepository
	probe     SyncProbe
}

// NewSyncOperation constructs a SyncOperation.
func NewSyncOperation(adm *admission.Controller, resources repository.ResourceRepository, probe SyncProbe) *SyncOperation {
	return &SyncOperation{admission: adm, resources: resources, probe: probe}
}

func (o *SyncOperation) Execute(ctx context.Context, job domain.ProcessingJob) error {
	resourceID := job.TargetID

	if !o.admission.TryAcquire(admission.ClassSync) {
		return ErrAdmissionDenied
	}
	defer o.admission.Release(admission.ClassSync)

	if !o.admission.TryAcquire(admission.ClassAPICall) {
		return ErrAdmissionDenied
	}
	defer o.admission.Release(admission.ClassAPICall)

	_, err := o.probe.Do(ctx, resourceID, "GET", "/status", institution.Headers{}, nil)
	if err != nil {
		return fmt.Errorf("sync probe failed for resource %s: %w", resourceID, err)
	}

	if err := o.resources.UpdateLastSyncAt(ctx, resourceID, time.Now()); err != nil {
		return fmt.Errorf("failed to record sync timestamp for resource %s: %w", resourceID, err)
	}
	return nil
}

package pipeline

import (
	"context"
	"time"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/institution"
)

// MonitoringOperation implements RESOURCE_MONITORING (spec.md §4.5.4):
// acquire monitoring + apiCall, probe the endpoint, fold the result
// into the resource's in-process ResourceHealth record.
type MonitoringOperation struct {
	admission *admission.Controller
	registry  *MonitoringRegistry
	probe     SyncProbe
}

// NewMonitoringOperation constructs a MonitoringOperation.
func NewMonitoringOperation(adm *admission.Controller, registry *MonitoringRegistry, probe SyncProbe) *MonitoringOperation {
	return &MonitoringOperation{admission: adm, registry: registry, probe: probe}
}

func (o *MonitoringOperation) Execute(ctx context.Context, job domain.ProcessingJob) error {
	resourceID := job.TargetID

	if !o.admission.TryAcquire(admission.ClassMonitoring) {
		return ErrAdmissionDenied
	}
	defer o.admission.Release(admission.ClassMonitoring)

	if !o.admission.TryAcquire(admission.ClassAPICall) {
		return ErrAdmissionDenied
	}
	defer o.admission.Release(admission.ClassAPICall)

	start := time.Now()
	_, err := o.probe.Do(ctx, resourceID, "GET", "/health", institution.Headers{}, nil)
	sampleMs := float64(time.Since(start).Milliseconds())

	o.registry.ApplySample(resourceID, err == nil, sampleMs)

	// A failed probe is itself the monitoring signal, not a job failure:
	// the sample was recorded either way, so this job succeeds.
	return nil
}

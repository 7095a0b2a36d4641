package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/institution"
	"resourcecore/pkg/repository/memory"
)

type stubDirectoryClient struct {
	resources []domain.Resource
	err       error
}

func (s stubDirectoryClient) ListResources(ctx context.Context, endpoint string) ([]domain.Resource, error) {
	return s.resources, s.err
}

func TestDiscoveryRunnerPersistsDiscoveredResources(t *testing.T) {
	store := memory.New()
	adm := admission.NewController(admission.DefaultCapacities(), nil)
	directory := stubDirectoryClient{resources: []domain.Resource{
		{ResourceID: "r1", OrganizationID: "org-1", Type: domain.ResourceTypeBank},
		{ResourceID: "r2", OrganizationID: "org-1", Type: domain.ResourceTypeFintech},
	}}
	runner := NewDiscoveryRunner(adm, store, directory, newTestLogger())

	require.NoError(t, runner.Run(context.Background(), []string{"https://directory.example/a"}))

	r1, ok, err := store.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ResourceStatusDiscovered, r1.Status)
}

type stubProbe struct {
	resp *institution.Response
	err  error
}

func (s stubProbe) Do(ctx context.Context, resourceID, method, path string, headers institution.Headers, body []byte) (*institution.Response, error) {
	return s.resp, s.err
}

func TestSyncOperationUpdatesLastSyncedAtOnSuccess(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SaveResource(context.Background(), domain.Resource{ResourceID: "r1"}))
	adm := admission.NewController(admission.DefaultCapacities(), nil)
	op := NewSyncOperation(adm, store, stubProbe{resp: &institution.Response{StatusCode: 200}})

	err := op.Execute(context.Background(), domain.ProcessingJob{TargetID: "r1", JobType: domain.JobTypeResourceSync})
	require.NoError(t, err)

	resource, ok, err := store.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, resource.LastSyncedAt)
}

func TestValidationOperationMarksResourceActiveWhenChecksPass(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SaveResource(context.Background(), domain.Resource{
		ResourceID: "r1",
		Status:     domain.ResourceStatusValidating,
	}))
	adm := admission.NewController(admission.DefaultCapacities(), nil)
	op := NewValidationOperation(adm, store)

	payload, err := json.Marshal(ValidationPayload{
		StatusSet:      true,
		Permissions:    []string{"ACCOUNTS_READ"},
		OrganizationID: "org-1",
		CustomerID:     "cust-1",
	})
	require.NoError(t, err)

	err = op.Execute(context.Background(), domain.ProcessingJob{
		TargetID: "r1",
		JobType:  domain.JobTypeResourceValidation,
		Payload:  string(payload),
	})
	require.NoError(t, err)

	resource, ok, err := store.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ResourceStatusActive, resource.Status)
}

func TestValidationOperationMarksResourceValidationFailedWhenCheckFails(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.SaveResource(context.Background(), domain.Resource{
		ResourceID: "r1",
		Status:     domain.ResourceStatusValidating,
	}))
	adm := admission.NewController(admission.DefaultCapacities(), nil)
	op := NewValidationOperation(adm, store)

	payload, err := json.Marshal(ValidationPayload{StatusSet: true})
	require.NoError(t, err)

	err = op.Execute(context.Background(), domain.ProcessingJob{
		TargetID: "r1",
		JobType:  domain.JobTypeResourceValidation,
		Payload:  string(payload),
	})
	require.NoError(t, err)

	resource, ok, err := store.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ResourceStatusValidationFailed, resource.Status)
}

func TestMonitoringOperationRecordsSampleRegardlessOfProbeOutcome(t *testing.T) {
	adm := admission.NewController(admission.DefaultCapacities(), nil)
	registry := NewMonitoringRegistry()
	op := NewMonitoringOperation(adm, registry, stubProbe{err: assert.AnError})

	err := op.Execute(context.Background(), domain.ProcessingJob{TargetID: "r1", JobType: domain.JobTypeResourceMonitoring})
	require.NoError(t, err)

	health, ok := registry.Get("r1")
	require.True(t, ok)
	assert.Equal(t, int64(1), health.TotalRequests)
	assert.Equal(t, int64(0), health.SuccessCount)
}

func TestMonitoringRegistryAppliesWeightedUpdateAcrossSamples(t *testing.T) {
	registry := NewMonitoringRegistry()
	registry.ApplySample("r1", true, 100)
	health := registry.ApplySample("r1", true, 200)

	assert.Equal(t, int64(2), health.TotalRequests)
	assert.InDelta(t, 150, health.AvgRespMs, 0.001)
	_ = time.Now()
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"resourcecore/pkg/admission"
	"resourcecore/pkg/batchexec"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/repository"
)

// ValidationPayload is the business-rule data a RESOURCE_VALIDATION job
// carries in ProcessingJob.Payload (JSON-encoded) — the same check set
// spec.md §4.5.3 names for consent business-rule validation, reused
// here in identical shape for resources.
type ValidationPayload struct {
	StatusSet      bool       `json:"statusSet"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	Permissions    []string   `json:"permissions"`
	OrganizationID string     `json:"organizationId"`
	CustomerID     string     `json:"customerId"`
}

// ValidationOutcome is the aggregate of the five parallel checks.
type ValidationOutcome struct {
	Errors   []string
	Warnings []string
}

// ValidationOperation implements RESOURCE_VALIDATION (spec.md §4.5.3):
// five checks run in parallel inside a nested subscope, aggregated into
// errors/warnings; the resource becomes VALIDATION_FAILED if any check
// produced an error, otherwise ACTIVE.
type ValidationOperation struct {
	admission *admission.Controller
	resources repository.ResourceRepository
}

// NewValidationOperation constructs a ValidationOperation.
func NewValidationOperation(adm *admission.Controller, resources repository.ResourceRepository) *ValidationOperation {
	return &ValidationOperation{admission: adm, resources: resources}
}

func (o *ValidationOperation) Execute(ctx context.Context, job domain.ProcessingJob) error {
	resourceID := job.TargetID

	if !o.admission.TryAcquire(admission.ClassValidation) {
		return ErrAdmissionDenied
	}
	defer o.admission.Release(admission.ClassValidation)

	resource, ok, err := o.resources.FindByID(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to load resource %s for validation: %w", resourceID, err)
	}
	if !ok {
		return fmt.Errorf("resource %s not found for validation", resourceID)
	}

	var payload ValidationPayload
	if job.Payload != "" {
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return fmt.Errorf("malformed validation payload for resource %s: %w", resourceID, err)
		}
	}

	outcome, err := runValidationChecks(ctx, payload)
	if err != nil {
		return err
	}

	nextStatus := domain.ResourceStatusActive
	if len(outcome.Errors) > 0 {
		nextStatus = domain.ResourceStatusValidationFailed
	}
	if !resource.CanTransitionTo(nextStatus) {
		return fmt.Errorf("resource %s cannot transition from %s to %s", resourceID, resource.Status, nextStatus)
	}

	if err := o.resources.UpdateResourceStatus(ctx, resourceID, nextStatus); err != nil {
		return fmt.Errorf("failed to persist validation outcome for resource %s: %w", resourceID, err)
	}
	return nil
}

// runValidationChecks runs the five checks in parallel inside a nested
// shutdown-on-failure subscope (spec.md §4.5.3). The checks themselves
// never fail technically — they record findings into outcome — so the
// subscope only ever returns an error for an actual execution fault.
func runValidationChecks(ctx context.Context, payload ValidationPayload) (ValidationOutcome, error) {
	var mu sync.Mutex
	outcome := ValidationOutcome{}

	record := func(isError bool, message string) {
		mu.Lock()
		defer mu.Unlock()
		if isError {
			outcome.Errors = append(outcome.Errors, message)
		} else {
			outcome.Warnings = append(outcome.Warnings, message)
		}
	}

	checks := []batchexec.Item{
		batchexec.FuncItem{IDValue: "status-non-null", Fn: func(ctx context.Context) error {
			if !payload.StatusSet {
				record(true, "status is not set")
			}
			return nil
		}},
		batchexec.FuncItem{IDValue: "expiration-not-past", Fn: func(ctx context.Context) error {
			if payload.ExpiresAt != nil && payload.ExpiresAt.Before(time.Now()) {
				record(true, "expiration is in the past")
			}
			return nil
		}},
		batchexec.FuncItem{IDValue: "permissions-non-empty-consistent", Fn: func(ctx context.Context) error {
			if len(payload.Permissions) == 0 {
				record(true, "permissions are empty")
				return nil
			}
			seen := make(map[string]bool, len(payload.Permissions))
			for _, p := range payload.Permissions {
				if seen[p] {
					record(false, fmt.Sprintf("duplicate permission %q", p))
				}
				seen[p] = true
			}
			return nil
		}},
		batchexec.FuncItem{IDValue: "organization-id-non-empty", Fn: func(ctx context.Context) error {
			if payload.OrganizationID == "" {
				record(true, "organization id is empty")
			}
			return nil
		}},
		batchexec.FuncItem{IDValue: "customer-id-non-empty", Fn: func(ctx context.Context) error {
			if payload.CustomerID == "" {
				record(true, "customer id is empty")
			}
			return nil
		}},
	}

	if err := batchexec.RunShutdownOnFailure(ctx, checks); err != nil {
		return ValidationOutcome{}, fmt.Errorf("validation check subscope failed: %w", err)
	}
	return outcome, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"resourcecore/pkg/domain"
)

func (s *Store) SaveResource(ctx context.Context, resource domain.Resource) error {
	_, err := s.pool.Exec(ctx, resourceUpsertSQL,
		resource.ResourceID, resource.OrganizationID, resource.Type.String(), resource.Status.String(),
		resource.DiscoveredAt, resource.LastSyncedAt, resource.LastValidatedAt, resource.LastMonitoredAt)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

// SaveAllResources persists a discovery batch in one transaction, matching
// the teacher's batch-insert pattern of one statement per row inside a
// single commit rather than a multi-row VALUES list.
func (s *Store) SaveAllResources(ctx context.Context, resources []domain.Resource) error {
	if len(resources) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin save-all transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, resource := range resources {
		_, err := tx.Exec(ctx, resourceUpsertSQL,
			resource.ResourceID, resource.OrganizationID, resource.Type.String(), resource.Status.String(),
			resource.DiscoveredAt, resource.LastSyncedAt, resource.LastValidatedAt, resource.LastMonitoredAt)
		if err != nil {
			return fmt.Errorf("failed to save resource %s: %w", resource.ResourceID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit save-all transaction: %w", err)
	}
	return nil
}

const resourceUpsertSQL = `
	INSERT INTO resources (
		resource_id, organization_id, type, status,
		discovered_at, last_synced_at, last_validated_at, last_monitored_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (resource_id) DO UPDATE SET
		organization_id = EXCLUDED.organization_id,
		type = EXCLUDED.type,
		status = EXCLUDED.status,
		last_synced_at = EXCLUDED.last_synced_at,
		last_validated_at = EXCLUDED.last_validated_at,
		last_monitored_at = EXCLUDED.last_monitored_at`

func (s *Store) FindByID(ctx context.Context, resourceID string) (domain.Resource, bool, error) {
	row := s.pool.QueryRow(ctx, resourceSelectSQL+" WHERE resource_id = $1", resourceID)
	resource, err := scanResource(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Resource{}, false, nil
		}
		return domain.Resource{}, false, fmt.Errorf("failed to find resource by id: %w", err)
	}
	return resource, true, nil
}

func (s *Store) FindByStatus(ctx context.Context, status domain.ResourceStatus) ([]domain.Resource, error) {
	rows, err := s.pool.Query(ctx, resourceSelectSQL+" WHERE status = $1", status.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find resources by status: %w", err)
	}
	return scanResourceRows(rows)
}

func (s *Store) FindByOrganizationID(ctx context.Context, organizationID string) ([]domain.Resource, error) {
	rows, err := s.pool.Query(ctx, resourceSelectSQL+" WHERE organization_id = $1", organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to find resources by organization: %w", err)
	}
	return scanResourceRows(rows)
}

func (s *Store) FindResourcesNeedingSync(ctx context.Context, threshold time.Time) ([]domain.Resource, error) {
	rows, err := s.pool.Query(ctx,
		resourceSelectSQL+" WHERE last_synced_at IS NULL OR last_synced_at < $1", threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find resources needing sync: %w", err)
	}
	return scanResourceRows(rows)
}

func (s *Store) FindResourcesNeedingValidation(ctx context.Context, threshold time.Time) ([]domain.Resource, error) {
	rows, err := s.pool.Query(ctx,
		resourceSelectSQL+" WHERE last_validated_at IS NULL OR last_validated_at < $1", threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find resources needing validation: %w", err)
	}
	return scanResourceRows(rows)
}

func (s *Store) FindResourcesNeedingMonitoring(ctx context.Context, threshold time.Time) ([]domain.Resource, error) {
	rows, err := s.pool.Query(ctx,
		resourceSelectSQL+" WHERE last_monitored_at IS NULL OR last_monitored_at < $1", threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find resources needing monitoring: %w", err)
	}
	return scanResourceRows(rows)
}

func (s *Store) UpdateResourceStatus(ctx context.Context, resourceID string, status domain.ResourceStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE resources SET status = $2 WHERE resource_id = $1`, resourceID, status.String())
	if err != nil {
		return fmt.Errorf("failed to update resource status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %q not found", resourceID)
	}
	return nil
}

func (s *Store) UpdateLastSyncAt(ctx context.Context, resourceID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE resources SET last_synced_at = $2 WHERE resource_id = $1`, resourceID, at)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resource %q not found", resourceID)
	}
	return nil
}

const resourceSelectSQL = `
	SELECT resource_id, organization_id, type, status,
	       discovered_at, last_synced_at, last_validated_at, last_monitored_at
	FROM resources`

func scanResource(row rowScanner) (domain.Resource, error) {
	var r domain.Resource
	var resourceType, status string
	err := row.Scan(
		&r.ResourceID, &r.OrganizationID, &resourceType, &status,
		&r.DiscoveredAt, &r.LastSyncedAt, &r.LastValidatedAt, &r.LastMonitoredAt,
	)
	if err != nil {
		return domain.Resource{}, err
	}
	r.Type = parseResourceType(resourceType)
	r.Status = parseResourceStatus(status)
	return r, nil
}

func scanResourceRows(rows pgx.Rows) ([]domain.Resource, error) {
	defer rows.Close()

	var out []domain.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading resource rows: %w", err)
	}
	return out, nil
}

func parseResourceType(s string) domain.ResourceType {
	switch s {
	case "BANK":
		return domain.ResourceTypeBank
	case "CREDIT_UNION":
		return domain.ResourceTypeCreditUnion
	case "FINTECH":
		return domain.ResourceTypeFintech
	case "PAYMENT_INSTITUTION":
		return domain.ResourceTypePaymentInstitution
	case "CREDIT_PROVIDER":
		return domain.ResourceTypeCreditProvider
	case "INVESTMENT_FIRM":
		return domain.ResourceTypeInvestmentFirm
	case "INSURANCE_COMPANY":
		return domain.ResourceTypeInsuranceCompany
	case "BROKER":
		return domain.ResourceTypeBroker
	case "PENSION_FUND":
		return domain.ResourceTypePensionFund
	default:
		return domain.ResourceTypeOther
	}
}

func parseResourceStatus(s string) domain.ResourceStatus {
	switch s {
	case "DISCOVERED":
		return domain.ResourceStatusDiscovered
	case "VALIDATING":
		return domain.ResourceStatusValidating
	case "ACTIVE":
		return domain.ResourceStatusActive
	case "TEMPORARILY_UNAVAILABLE":
		return domain.ResourceStatusTemporarilyUnavailable
	case "MAINTENANCE":
		return domain.ResourceStatusMaintenance
	case "DEGRADED":
		return domain.ResourceStatusDegraded
	case "VALIDATION_FAILED":
		return domain.ResourceStatusValidationFailed
	case "INACTIVE":
		return domain.ResourceStatusInactive
	case "DEPRECATED":
		return domain.ResourceStatusDeprecated
	case "REMOVED":
		return domain.ResourceStatusRemoved
	default:
		return domain.ResourceStatusDiscovered
	}
}

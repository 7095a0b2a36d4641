package domain

import "time"

// ResourceType tags the kind of Open Finance participant a Resource
// represents.
type ResourceType int

const (
	ResourceTypeBank ResourceType = iota
	ResourceTypeCreditUnion
	ResourceTypeFintech
	ResourceTypePaymentInstitution
	ResourceTypeCreditProvider
	ResourceTypeInvestmentFirm
	ResourceTypeInsuranceCompany
	ResourceTypeBroker
	ResourceTypePensionFund
	ResourceTypeOther
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeBank:
		return "BANK"
	case ResourceTypeCreditUnion:
		return "CREDIT_UNION"
	case ResourceTypeFintech:
		return "FINTECH"
	case ResourceTypePaymentInstitution:
		return "PAYMENT_INSTITUTION"
	case ResourceTypeCreditProvider:
		return "CREDIT_PROVIDER"
	case ResourceTypeInvestmentFirm:
		return "INVESTMENT_FIRM"
	case ResourceTypeInsuranceCompany:
		return "INSURANCE_COMPANY"
	case ResourceTypeBroker:
		return "BROKER"
	case ResourceTypePensionFund:
		return "PENSION_FUND"
	default:
		return "OTHER"
	}
}

// ResourceStatus is a Resource's lifecycle state.
type ResourceStatus int

const (
	ResourceStatusDiscovered ResourceStatus = iota
	ResourceStatusValidating
	ResourceStatusActive
	ResourceStatusTemporarilyUnavailable
	ResourceStatusMaintenance
	ResourceStatusDegraded
	ResourceStatusValidationFailed
	ResourceStatusInactive
	ResourceStatusDeprecated
	ResourceStatusRemoved
)

func (s ResourceStatus) String() string {
	switch s {
	case ResourceStatusDiscovered:
		return "DISCOVERED"
	case ResourceStatusValidating:
		return "VALIDATING"
	case ResourceStatusActive:
		return "ACTIVE"
	case ResourceStatusTemporarilyUnavailable:
		return "TEMPORARILY_UNAVAILABLE"
	case ResourceStatusMaintenance:
		return "MAINTENANCE"
	case ResourceStatusDegraded:
		return "DEGRADED"
	case ResourceStatusValidationFailed:
		return "VALIDATION_FAILED"
	case ResourceStatusInactive:
		return "INACTIVE"
	case ResourceStatusDeprecated:
		return "DEPRECATED"
	case ResourceStatusRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether a resource in this status is no longer
// moved by the core.
func (s ResourceStatus) IsTerminal() bool {
	switch s {
	case ResourceStatusDeprecated, ResourceStatusRemoved, ResourceStatusInactive:
		return true
	default:
		return false
	}
}

// Resource is an immutable snapshot of a remote Open Finance
// participant's set of API endpoints. Mutation produces a new snapshot;
// callers persist the new value through the repository port rather than
// edit one in place.
type Resource struct {
	ResourceID      string
	OrganizationID  string
	Type            ResourceType
	Status          ResourceStatus
	DiscoveredAt    time.Time
	LastSyncedAt    *time.Time
	LastValidatedAt *time.Time
	LastMonitoredAt *time.Time
}

// resourceTransitions enumerates the edges of the state graph in
// spec.md §3. Terminal states have no outgoing edges; CanTransitionTo
// consults IsTerminal first so they never need entries here.
var resourceTransitions = map[ResourceStatus]map[ResourceStatus]bool{
	ResourceStatusDiscovered: {
		ResourceStatusValidating: true,
	},
	ResourceStatusValidating: {
		ResourceStatusActive:          true,
		ResourceStatusValidationFailed: true,
	},
	ResourceStatusActive: {
		ResourceStatusDegraded:               true,
		ResourceStatusTemporarilyUnavailable: true,
		ResourceStatusMaintenance:            true,
	},
	ResourceStatusDegraded: {
		ResourceStatusActive:                 true,
		ResourceStatusTemporarilyUnavailable: true,
		ResourceStatusMaintenance:            true,
	},
	ResourceStatusTemporarilyUnavailable: {
		ResourceStatusActive:      true,
		ResourceStatusDegraded:    true,
		ResourceStatusMaintenance: true,
	},
	ResourceStatusMaintenance: {
		ResourceStatusActive:                 true,
		ResourceStatusDegraded:               true,
		ResourceStatusTemporarilyUnavailable: true,
	},
}

// CanTransitionTo reports whether moving from the resource's current
// status to target is legal under the state graph in spec.md §3. Any
// non-terminal status may always transition to DEPRECATED, REMOVED, or
// INACTIVE; a resource already in a terminal status can transition
// nowhere.
func (r Resource) CanTransitionTo(target ResourceStatus) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if target.IsTerminal() {
		return true
	}
	return resourceTransitions[r.Status][target]
}

// WithStatus returns a new Resource snapshot with status updated,
// leaving the receiver untouched.
func (r Resource) WithStatus(status ResourceStatus) Resource {
	next := r
	next.Status = status
	return next
}

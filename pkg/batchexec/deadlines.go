package batchexec

import "time"

// Per-class item deadlines, spec.md §4.4 defaults.
const (
	DeadlineAPICall    = 30 * time.Second
	DeadlineDiscovery  = 60 * time.Second
	DeadlineSync       = 120 * time.Second
	DeadlineValidation = 45 * time.Second
	DeadlineMonitoring = 30 * time.Second
)

package app

import "time"

// PruneMsg triggers eviction when no batches arrive.
type PruneMsg time.Time

// StatusMsg triggers a nearby-count log line.
type StatusMsg time.Time

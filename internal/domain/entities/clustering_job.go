package entities

import "time"

// JobStatus is the lifecycle state of a background run.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// JobKind distinguishes full clustering runs from coverage-only recomputes.
type JobKind string

const (
	JobKindClustering JobKind = "clustering"
	JobKindCoverage   JobKind = "coverage"
)

// ClusteringJob is the pollable record of one background run for a site.
type ClusteringJob struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	SiteURL       string     `json:"site_url" db:"site_url"`
	Kind          JobKind    `json:"kind" db:"kind"`
	Status        JobStatus  `json:"status" db:"status"`
	MinSimilarity float64    `json:"min_similarity" db:"min_similarity"`
	KeywordCount  int        `json:"keyword_count" db:"keyword_count"`
	ClusterCount  int        `json:"cluster_count" db:"cluster_count"`
	ErrorMessage  string     `json:"error,omitempty" db:"error_message"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// IsActive reports whether the job has not reached a terminal state.
func (j *ClusteringJob) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

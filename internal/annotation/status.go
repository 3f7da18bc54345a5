package annotation

// EntityInfo is one row of an authoritative remote entity listing.
type EntityInfo struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ReviewStatus string `json:"reviewStatus"`
}

// Counts is the per-job review progress projection.
type Counts struct {
	Accepted int
	Rejected int
	Total    int
}

// ComputeCounts scans an entity listing and tallies review progress.
// Pure function; the listing is the remote truth, not the local model.
func ComputeCounts(entities []EntityInfo) Counts {
	counts := Counts{Total: len(entities)}
	for _, entity := range entities {
		switch entity.ReviewStatus {
		case string(StatusAccepted):
			counts.Accepted++
		case string(StatusRejected):
			counts.Rejected++
		}
	}
	return counts
}

// ReviewStatus is the per-entity review state reported by the server.
type ReviewStatus string

const (
	StatusAccepted ReviewStatus = "accepted"
	StatusRejected ReviewStatus = "rejected"
	StatusDone     ReviewStatus = "done"
	StatusNone     ReviewStatus = "none"
)

// StatusIcon maps a raw review status onto one of the four known
// indicator states. An unrecognized status falls back to StatusNone
// with known=false so the caller can log a warning instead of failing.
func StatusIcon(status string) (icon ReviewStatus, known bool) {
	switch ReviewStatus(status) {
	case StatusAccepted, StatusRejected, StatusDone, StatusNone:
		return ReviewStatus(status), true
	default:
		return StatusNone, false
	}
}

// JobStatus is the lifecycle state of a labeling job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobOnReview   JobStatus = "on_review"
	JobCompleted  JobStatus = "completed"
	JobStopped    JobStatus = "stopped"
)

// CanTransitionJob reports whether a job may move from current to next.
// Jobs only advance forward or stop; there is no way back.
func CanTransitionJob(current, next JobStatus) bool {
	switch current {
	case JobPending:
		return next == JobInProgress || next == JobStopped
	case JobInProgress:
		return next == JobOnReview || next == JobStopped
	case JobOnReview:
		return next == JobCompleted || next == JobStopped
	default:
		return false
	}
}

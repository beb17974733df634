package models

import "time"

// Status describes the outcome of processing a single work item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Sentinel values used when a path segment or prediction cannot be resolved.
const (
	UnknownSegment    = "Unknown"
	UnidentifiedLabel = "Unidentified"
)

// WorkItem identifies one image to classify. Path is unique across an
// enumeration; the remaining fields are derived from the survey folder
// naming convention <block>/<camera>/<group>/<image>.
type WorkItem struct {
	Path       string `json:"path"`
	GroupLabel string `json:"group_label"`
	BlockID    string `json:"block_id"`
	CameraID   string `json:"camera_id"`
}

// Prediction is what the classification backend returns for an image.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is the immutable outcome of processing one WorkItem.
// Index records the item's position in enumeration order so exports can be
// rendered in insertion order without re-walking the tree. Attempts counts
// how many runs have tried this item, across resumes.
type ClassificationResult struct {
	Item       WorkItem   `json:"item"`
	Label      string     `json:"label,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Index      int        `json:"index"`
	Attempts   int        `json:"attempts"`
}

// Done reports whether the item does not need to be processed again on
// resume. Failed items are retried by default.
func (r ClassificationResult) Done() bool {
	return r.Status == StatusSuccess || r.Status == StatusSkipped
}

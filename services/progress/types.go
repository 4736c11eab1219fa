package progress

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an import operation.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

var ErrNotFound = errors.New("operation not found")

// RowErrorKind separates rows the parser could not read from rows the
// reconciler could not place.
type RowErrorKind string

const (
	RowErrorParse    RowErrorKind = "parse"
	RowErrorIdentity RowErrorKind = "identity"
)

// RowError describes one rejected input row. Extra carries the unrecognized
// columns of the row so the user can find it in the source file.
type RowError struct {
	Row     int               `json:"row"`
	Kind    RowErrorKind      `json:"kind"`
	Message string            `json:"message"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Result summarises an import. Errors counts identity failures, Skipped
// counts unparsable rows; both kinds are listed in RowErrors.
type Result struct {
	Created       int        `json:"created"`
	Updated       int        `json:"updated"`
	Skipped       int        `json:"skipped"`
	Errors        int        `json:"errors"`
	RowsProcessed int        `json:"rows_processed"`
	TotalRows     int        `json:"total_rows"`
	RowErrors     []RowError `json:"row_errors"`
}

// HasWarnings reports a completed import that still rejected rows.
func (r *Result) HasWarnings() bool {
	return r != nil && len(r.RowErrors) > 0
}

// Operation is the observable state of one background import.
type Operation struct {
	ID            string     `json:"operation_id"`
	Status        Status     `json:"status"`
	Progress      int        `json:"progress"`
	Indeterminate bool       `json:"indeterminate,omitempty"`
	Message       string     `json:"message"`
	Result        *Result    `json:"result,omitempty"`
	Filename      string     `json:"filename,omitempty"`
	SubmittedBy   string     `json:"submitted_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func (o *Operation) clone() *Operation {
	c := *o
	if o.Result != nil {
		r := *o.Result
		r.RowErrors = append([]RowError(nil), o.Result.RowErrors...)
		c.Result = &r
	}
	if o.FinishedAt != nil {
		t := *o.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Fetcher reads an operation by id.
type Fetcher interface {
	Get(ctx context.Context, id string) (*Operation, error)
}

// Store is the registry of import operations. It is shared for
// observability only and may lose entries without affecting donor data.
type Store interface {
	Fetcher
	Create(ctx context.Context, op *Operation) error
	// Update applies fn to the stored operation. Terminal operations are
	// not updated again.
	Update(ctx context.Context, id string, fn func(op *Operation)) error
	// Cancel flags a running operation for cancellation, or removes a
	// finished one. Unknown ids are ignored.
	Cancel(ctx context.Context, id string) error
	IsCancelled(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	// Sweep drops terminal operations older than the retention window.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

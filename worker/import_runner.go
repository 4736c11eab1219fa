package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/apperrors"
	"donorflow/models"
	"donorflow/services/parser"
	"donorflow/services/progress"
	"donorflow/services/reconciler"
	"donorflow/utils"
)

const DefaultBatchSize = 50

// Upload is one submitted donor file.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
	SubmittedBy string
}

// RowReconciler is the part of the reconciler the runner depends on.
type RowReconciler interface {
	Reconcile(ctx context.Context, row parser.Row) (reconciler.Outcome, error)
}

type ImportRunnerConfig struct {
	BatchSize      int
	MaxUploadBytes int64
}

// ImportRunner runs donor imports in the background, one goroutine per
// operation, and reports their progress through the store.
type ImportRunner struct {
	DB         *gorm.DB
	Store      progress.Store
	Reconciler RowReconciler
	Logger     *logrus.Logger

	batchSize int
	maxBytes  int64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	base context.Context
	stop context.CancelFunc
}

func NewImportRunner(db *gorm.DB, store progress.Store, rec RowReconciler, logger *logrus.Logger, cfg ImportRunnerConfig) *ImportRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	base, stop := context.WithCancel(context.Background())
	return &ImportRunner{
		DB:         db,
		Store:      store,
		Reconciler: rec,
		Logger:     logger,
		batchSize:  cfg.BatchSize,
		maxBytes:   cfg.MaxUploadBytes,
		cancels:    make(map[string]context.CancelFunc),
		base:       base,
		stop:       stop,
	}
}

// Submit validates the upload, registers a queued operation and starts the
// import. The operation id is readable from the store before Submit returns.
func (r *ImportRunner) Submit(ctx context.Context, up Upload) (string, error) {
	stream, err := parser.Open(up.Data, up.Filename, up.ContentType, r.maxBytes)
	if err != nil {
		return "", err
	}

	total, known := stream.Total()
	op := &progress.Operation{
		ID:            uuid.New().String(),
		Status:        progress.StatusQueued,
		Message:       "Queued for import",
		Indeterminate: !known,
		Filename:      up.Filename,
		SubmittedBy:   up.SubmittedBy,
		Result:        &progress.Result{TotalRows: total, RowErrors: []progress.RowError{}},
	}
	if err := r.Store.Create(ctx, op); err != nil {
		return "", apperrors.JobFatal(err, "failed to register import")
	}
	r.recordHistory(op)

	jobCtx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.cancels[op.ID] = cancel
	r.mu.Unlock()

	r.Logger.WithFields(logrus.Fields{
		"operation_id": op.ID,
		"filename":     up.Filename,
		"format":       stream.Format(),
		"total_rows":   total,
		"submitted_by": up.SubmittedBy,
		"columns":      stream.Columns(),
		"unrecognized": stream.Unrecognized(),
	}).Info("Donor import queued")

	r.wg.Add(1)
	go r.run(jobCtx, op.ID, stream)
	return op.ID, nil
}

// Cancel asks a running import to stop before its next batch. Finished
// operations are dropped from the store.
func (r *ImportRunner) Cancel(ctx context.Context, id string) error {
	if err := r.Store.Cancel(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Shutdown cancels every running import and waits for them to record their
// final state, or for ctx to end.
func (r *ImportRunner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ImportRunner) run(ctx context.Context, id string, stream *parser.Stream) {
	defer r.wg.Done()
	defer r.forget(id)

	total, known := stream.Total()
	result := &progress.Result{TotalRows: total, RowErrors: []progress.RowError{}}
	log := r.Logger.WithField("operation_id", id)

	defer func() {
		if rec := recover(); rec != nil {
			utils.LogError("import_panic", fmt.Errorf("%v", rec), map[string]interface{}{"operation_id": id})
			r.finish(id, progress.StatusError, fmt.Sprintf("Import failed: %v", rec), result)
		}
	}()

	r.update(id, func(op *progress.Operation) {
		op.Status = progress.StatusProcessing
		op.Message = "Processing rows"
	})

	// Row writes outlive a cancel request so a batch is never cut in half.
	rowCtx := context.WithoutCancel(ctx)
	batch := make([]parser.Row, 0, r.batchSize)
	batches := 0
	for {
		batch = batch[:0]
		for len(batch) < r.batchSize {
			row, ok := stream.Next()
			if !ok {
				break
			}
			batch = append(batch, row)
		}
		if len(batch) == 0 {
			break
		}

		if r.cancelRequested(ctx, id) {
			log.WithFields(logrus.Fields{"batches": batches, "rows": result.RowsProcessed}).Info("Donor import cancelled")
			r.finish(id, progress.StatusCancelled,
				fmt.Sprintf("Cancelled after %d of %d rows", result.RowsProcessed, total), result)
			return
		}

		for _, row := range batch {
			outcome, err := r.Reconciler.Reconcile(rowCtx, row)
			if err != nil {
				utils.LogError("import_failed", err, map[string]interface{}{
					"operation_id": id,
					"row":          row.Number,
				})
				r.finish(id, progress.StatusError, err.Error(), result)
				return
			}
			tally(result, outcome)
		}
		batches++

		pct := percent(result.RowsProcessed, total, known)
		snapshot := copyResult(result)
		r.update(id, func(op *progress.Operation) {
			op.Progress = pct
			op.Message = fmt.Sprintf("Processed %d of %d rows", result.RowsProcessed, total)
			op.Result = snapshot
		})
	}

	message := fmt.Sprintf("Import complete: %d created, %d updated, %d skipped, %d errors",
		result.Created, result.Updated, result.Skipped, result.Errors)
	log.WithFields(logrus.Fields{
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
		"errors":  result.Errors,
	}).Info("Donor import completed")
	r.finish(id, progress.StatusCompleted, message, result)
}

func (r *ImportRunner) cancelRequested(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return true
	}
	cancelled, err := r.Store.IsCancelled(ctx, id)
	if err != nil {
		r.Logger.WithError(err).WithField("operation_id", id).Warn("Could not read cancel flag")
		return false
	}
	return cancelled
}

// update writes progress. The store is only for observers, so failures are
// logged and the import carries on.
func (r *ImportRunner) update(id string, fn func(op *progress.Operation)) {
	if err := r.Store.Update(context.Background(), id, fn); err != nil {
		r.Logger.WithError(err).WithField("operation_id", id).Warn("Failed to update import progress")
	}
}

func (r *ImportRunner) finish(id string, status progress.Status, message string, result *progress.Result) {
	snapshot := copyResult(result)
	r.update(id, func(op *progress.Operation) {
		op.Status = status
		op.Message = message
		op.Result = snapshot
		if status == progress.StatusCompleted {
			op.Progress = 100
			op.Indeterminate = false
		}
	})

	now := time.Now()
	op := &progress.Operation{ID: id, Status: status, Message: message, Result: snapshot, FinishedAt: &now}
	if status == progress.StatusCompleted {
		op.Progress = 100
	} else if stored, err := r.Store.Get(context.Background(), id); err == nil {
		op.Progress = stored.Progress
	}
	r.recordHistory(op)
}

func (r *ImportRunner) forget(id string) {
	r.mu.Lock()
	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
	}
	r.mu.Unlock()
}

// recordHistory upserts the persisted copy of an operation.
func (r *ImportRunner) recordHistory(op *progress.Operation) {
	if r.DB == nil {
		return
	}
	var payload []byte
	if op.Result != nil {
		payload, _ = json.Marshal(op.Result)
	}

	history := models.ImportOperation{
		ID:          op.ID,
		Status:      string(op.Status),
		Progress:    op.Progress,
		Message:     op.Message,
		Filename:    op.Filename,
		SubmittedBy: op.SubmittedBy,
		Result:      string(payload),
		FinishedAt:  op.FinishedAt,
	}

	var err error
	if op.Status == progress.StatusQueued {
		err = r.DB.Create(&history).Error
	} else {
		err = r.DB.Model(&models.ImportOperation{}).Where("id = ?", op.ID).Updates(map[string]interface{}{
			"status":      history.Status,
			"progress":    history.Progress,
			"message":     history.Message,
			"result":      history.Result,
			"finished_at": history.FinishedAt,
		}).Error
	}
	if err != nil {
		r.Logger.WithError(err).WithField("operation_id", op.ID).Warn("Failed to record import history")
	}
}

func tally(result *progress.Result, outcome reconciler.Outcome) {
	result.RowsProcessed++
	switch outcome.Kind {
	case reconciler.OutcomeCreated:
		result.Created++
	case reconciler.OutcomeUpdated:
		result.Updated++
	case reconciler.OutcomeSkipped:
		result.Skipped++
	case reconciler.OutcomeError:
		result.Errors++
	}
	if outcome.RowError != nil {
		result.RowErrors = append(result.RowErrors, *outcome.RowError)
	}
}

func percent(done, total int, known bool) int {
	if !known {
		return 0
	}
	if total <= 0 {
		return 100
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

func copyResult(r *progress.Result) *progress.Result {
	c := *r
	c.RowErrors = append([]progress.RowError{}, r.RowErrors...)
	return &c
}

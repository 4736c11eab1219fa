// Package reconciler applies the create-or-merge rule to parsed donor rows.
package reconciler

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"donorflow/apperrors"
	"donorflow/models"
	"donorflow/services/parser"
	"donorflow/services/progress"
)

type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeError   OutcomeKind = "error"
)

// Outcome is the result of reconciling one row. RowError is set for
// skipped and error outcomes.
type Outcome struct {
	Kind     OutcomeKind
	DonorID  uint
	RowError *progress.RowError
}

// maxAttempts bounds retries of a create that lost the identity race.
const maxAttempts = 3

type applyFunc func(ctx context.Context, key string, rec parser.DonorRecord) (Outcome, error)

type Reconciler struct {
	db       *gorm.DB
	logger   *logrus.Logger
	lockRows bool
	source   string
	apply    applyFunc
}

func New(db *gorm.DB, logger *logrus.Logger) *Reconciler {
	r := &Reconciler{
		db:       db,
		logger:   logger,
		lockRows: db.Dialector.Name() == "postgres",
		source:   "import",
	}
	r.apply = r.store
	return r
}

func identityError(row parser.Row, err error) Outcome {
	return Outcome{
		Kind: OutcomeError,
		RowError: &progress.RowError{
			Row:     row.Number,
			Kind:    progress.RowErrorIdentity,
			Message: err.Error(),
			Extra:   row.Extra,
		},
	}
}

// Reconcile resolves a row against the donor pool and creates or merges it.
// Bad rows come back as skipped or error outcomes; the returned error is
// reserved for storage failures that should end the import.
func (r *Reconciler) Reconcile(ctx context.Context, row parser.Row) (Outcome, error) {
	if row.Err != nil {
		return Outcome{
			Kind: OutcomeSkipped,
			RowError: &progress.RowError{
				Row:     row.Number,
				Kind:    progress.RowErrorParse,
				Message: row.Err.Error(),
				Extra:   row.Extra,
			},
		}, nil
	}

	key, err := IdentityKey(row.Record)
	if err != nil {
		return identityError(row, err), nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := r.apply(ctx, key, row.Record)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, models.ErrMissingIdentity) || errors.Is(err, models.ErrAmbiguousIdentity) {
			return identityError(row, err), nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return Outcome{}, apperrors.JobFatal(err, "failed to store donor from row %d", row.Number)
		}
		lastErr = err
		r.logger.WithFields(logrus.Fields{
			"identity_key": key,
			"row":          row.Number,
			"attempt":      attempt,
		}).Debug("Lost identity race, retrying as merge")
	}
	return Outcome{}, apperrors.JobFatal(lastErr, "failed to store donor from row %d", row.Number)
}

// store runs one create-or-merge in its own transaction. The donor is
// validated before every write so a stored record never carries two
// identities or none.
func (r *Reconciler) store(ctx context.Context, key string, rec parser.DonorRecord) (Outcome, error) {
	var outcome Outcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if r.lockRows {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var existing models.Donor
		err := query.Where("identity_key = ?", key).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			donor := NewDonor(rec)
			donor.IdentityKey = key
			donor.Source = r.source
			if err := donor.Validate(); err != nil {
				return err
			}
			if err := tx.Create(&donor).Error; err != nil {
				return err
			}
			r.logger.WithFields(logrus.Fields{
				"donor_id": donor.ID,
				"donor":    donor.DisplayName(),
			}).Debug("Created donor")
			outcome = Outcome{Kind: OutcomeCreated, DonorID: donor.ID}
			return nil
		}
		if err != nil {
			return err
		}

		merged := Merge(existing, rec)
		if err := merged.Validate(); err != nil {
			r.logger.WithFields(logrus.Fields{
				"donor_id": existing.ID,
				"donor":    existing.DisplayName(),
			}).Warn("Refusing to merge into a donor with an invalid identity")
			return err
		}
		if err := tx.Save(&merged).Error; err != nil {
			return err
		}
		outcome = Outcome{Kind: OutcomeUpdated, DonorID: merged.ID}
		return nil
	})
	return outcome, err
}

// Package roster generates event donor lists and drives their review.
package roster

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SystemActor is recorded for transitions no reviewer asked for.
const SystemActor = "system"

type Service struct {
	db       *gorm.DB
	logger   *logrus.Logger
	lockRows bool
	now      func() time.Time
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		db:       db,
		logger:   logger,
		lockRows: db.Dialector.Name() == "postgres",
		now:      time.Now,
	}
}

// forUpdate takes a row lock where the dialect supports it. SQLite
// serializes writers on its own.
func (s *Service) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.lockRows {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}

package roster

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/apperrors"
	"donorflow/models"
)

type EventInput struct {
	Name           string
	EventDate      *time.Time
	Capacity       int
	MinGivingLevel decimal.Decimal
	FocusArea      string
	City           string
	CreatedBy      string
}

func (in EventInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("event name is required")
	}
	if in.Capacity < 0 {
		return apperrors.Validation("capacity cannot be negative")
	}
	if in.MinGivingLevel.IsNegative() {
		return apperrors.Validation("minimum giving level cannot be negative")
	}
	return nil
}

func (s *Service) CreateEvent(ctx context.Context, in EventInput) (*models.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	event := models.Event{
		Name:           strings.TrimSpace(in.Name),
		EventDate:      in.EventDate,
		Capacity:       in.Capacity,
		MinGivingLevel: in.MinGivingLevel.Round(2),
		FocusArea:      strings.ToLower(strings.TrimSpace(in.FocusArea)),
		City:           strings.TrimSpace(in.City),
		Status:         models.EventPlanning,
		CreatedBy:      in.CreatedBy,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":         event.ID,
		"min_giving_level": event.MinGivingLevel.String(),
		"created_by":       event.CreatedBy,
	}).Info("Event created")
	return &event, nil
}

// GetEvent loads an event with its donor list summary, without memberships.
func (s *Service) GetEvent(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).Preload("DonorList").First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("event %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// AdvanceEvent moves an event one step along its lifecycle. An event can
// only become ready once its donor list review is completed.
func (s *Service) AdvanceEvent(ctx context.Context, id uint, to models.EventStatus) (*models.Event, error) {
	if !to.Valid() {
		return nil, apperrors.Validation("unknown event status %q", to)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		err := s.forUpdate(tx).First(&event, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("event %d not found", id)
		}
		if err != nil {
			return err
		}

		next, ok := event.Status.Next()
		if !ok || next != to {
			return apperrors.StateConflict("event cannot move from %s to %s", event.Status, to)
		}

		if to == models.EventReview || to == models.EventReady {
			var list models.DonorList
			err := tx.Where("event_id = ?", event.ID).Take(&list).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.StateConflict("event %d has no donor list", event.ID)
			}
			if err != nil {
				return err
			}
			if to == models.EventReady && !EventReady(&list) {
				return apperrors.StateConflict("donor list review is not completed (%d pending)", list.Pending)
			}
		}

		res := tx.Model(&models.Event{}).
			Where("id = ? AND status = ?", event.ID, event.Status).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.StateConflict("event %d changed concurrently", event.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"event_id": id, "status": to}).Info("Event status changed")
	return s.GetEvent(ctx, id)
}

// EventReady is the readiness signal the event lifecycle reads: true
// exactly when no membership is left pending.
func EventReady(list *models.DonorList) bool {
	return list != nil && list.ReviewStatus == models.ReviewCompleted
}

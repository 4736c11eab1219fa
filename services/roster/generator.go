package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/apperrors"
	"donorflow/models"
)

var ErrRegenerateNotConfirmed = apperrors.StateConflict("donor list already exists; regenerating discards every review decision and must be confirmed")

type GenerateOptions struct {
	// Size caps the list; zero means every eligible donor.
	Size              int
	ConfirmRegenerate bool
	AutoExclude       bool
	Actor             string
}

const membershipBatchSize = 100

// Generate builds the donor list for an event from its eligibility
// criteria. An existing list is only replaced when the caller confirms,
// and replacing it discards all memberships.
func (s *Service) Generate(ctx context.Context, eventID uint, opts GenerateOptions) (*models.DonorList, error) {
	if opts.Size < 0 {
		return nil, apperrors.Validation("list size cannot be negative")
	}
	actor := actorOrSystem(opts.Actor)

	var listID uint
	var regenerated bool
	var autoExcluded int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		err := s.forUpdate(tx).First(&event, eventID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("event %d not found", eventID)
		}
		if err != nil {
			return err
		}
		if !event.Status.AllowsListGeneration() {
			return apperrors.StateConflict("cannot generate a donor list while the event is %s", event.Status)
		}

		var list models.DonorList
		err = s.forUpdate(tx).Where("event_id = ?", event.ID).Take(&list).Error
		exists := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if exists {
			if !opts.ConfirmRegenerate {
				var decided int64
				if err := tx.Model(&models.Membership{}).
					Where("donor_list_id = ? AND status <> ?", list.ID, models.MembershipPending).
					Count(&decided).Error; err != nil {
					return err
				}
				return fmt.Errorf("%w (%d review decisions would be lost)", ErrRegenerateNotConfirmed, decided)
			}
			if err := tx.Where("donor_list_id = ?", list.ID).Delete(&models.Membership{}).Error; err != nil {
				return err
			}
			regenerated = true
		}

		donorIDs, err := selectDonors(tx, &event, opts.Size)
		if err != nil {
			return err
		}

		list.EventID = event.ID
		list.MinGivingLevel = event.MinGivingLevel
		list.FocusArea = event.FocusArea
		list.City = event.City
		list.RequestedSize = opts.Size
		list.GeneratedAt = s.now()
		list.GeneratedBy = actor
		if err := tx.Save(&list).Error; err != nil {
			return err
		}
		listID = list.ID

		if len(donorIDs) > 0 {
			memberships := make([]models.Membership, len(donorIDs))
			for i, donorID := range donorIDs {
				memberships[i] = models.Membership{
					DonorListID: list.ID,
					DonorID:     donorID,
					Rank:        i + 1,
					Status:      models.MembershipPending,
				}
			}
			if err := tx.CreateInBatches(memberships, membershipBatchSize).Error; err != nil {
				return err
			}
		}

		if event.Status != models.EventReview {
			if err := tx.Model(&models.Event{}).Where("id = ?", event.ID).
				Update("status", models.EventReview).Error; err != nil {
				return err
			}
		}

		if opts.AutoExclude {
			n, err := s.applyAutoExclusion(tx, list.ID, SystemActor)
			if err != nil {
				return err
			}
			autoExcluded = n
		}
		return Recount(tx, list.ID)
	})
	if err != nil {
		return nil, err
	}

	list, err := s.getList(ctx, listID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"event_id":      eventID,
		"list_id":       list.ID,
		"total_donors":  list.TotalDonors,
		"auto_excluded": autoExcluded,
		"regenerated":   regenerated,
		"actor":         actor,
	}).Info("Donor list generated")
	return list, nil
}

// selectDonors returns eligible donor ids, largest givers first with the
// donor id breaking ties.
func selectDonors(tx *gorm.DB, event *models.Event, size int) ([]uint, error) {
	query := tx.Model(&models.Donor{}).
		Where("excluded = ? AND deceased = ?", false, false).
		Where("total_donations >= ?", event.MinGivingLevel)

	if focus := strings.ToLower(strings.TrimSpace(event.FocusArea)); focus != "" {
		query = query.Where("(',' || tags || ',') LIKE ?", "%,"+focus+",%")
	}
	if city := strings.TrimSpace(event.City); city != "" {
		query = query.Where("LOWER(city) = ?", strings.ToLower(city))
	}

	query = query.Order("total_donations DESC").Order("id ASC")
	if size > 0 {
		query = query.Limit(size)
	}

	var ids []uint
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

package roster

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"donorflow/apperrors"
	"donorflow/models"
)

// Auto-exclusion reasons, in rule order.
const (
	ReasonDonorExcluded   = "donor globally excluded"
	ReasonDonorDeceased   = "donor deceased"
	ReasonRelatedExcluded = "related donor auto-excluded"
)

type transition struct {
	to      models.MembershipStatus
	from    []models.MembershipStatus
	actor   string
	reason  string
	comment string
}

func (s *Service) Approve(ctx context.Context, listID, membershipID uint, actor, comment string) (*models.Membership, error) {
	return s.transition(ctx, listID, membershipID, transition{
		to:      models.MembershipApproved,
		from:    []models.MembershipStatus{models.MembershipPending},
		actor:   actor,
		comment: comment,
	})
}

func (s *Service) Exclude(ctx context.Context, listID, membershipID uint, actor, reason, comment string) (*models.Membership, error) {
	return s.transition(ctx, listID, membershipID, transition{
		to:      models.MembershipExcluded,
		from:    []models.MembershipStatus{models.MembershipPending},
		actor:   actor,
		reason:  strings.TrimSpace(reason),
		comment: comment,
	})
}

// Reopen resets a decided membership to pending and clears the review
// fields. It is the only way out of a terminal status.
func (s *Service) Reopen(ctx context.Context, listID, membershipID uint, actor, note string) (*models.Membership, error) {
	return s.transition(ctx, listID, membershipID, transition{
		to: models.MembershipPending,
		from: []models.MembershipStatus{
			models.MembershipApproved,
			models.MembershipExcluded,
			models.MembershipAutoExcluded,
		},
		actor:   actor,
		comment: note,
	})
}

func (s *Service) transition(ctx context.Context, listID, membershipID uint, t transition) (*models.Membership, error) {
	if t.to.RequiresReason() && t.reason == "" {
		return nil, apperrors.Validation("an exclusion reason is required")
	}
	actor := actorOrSystem(t.actor)
	var from models.MembershipStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockEditableList(tx, listID); err != nil {
			return err
		}

		var m models.Membership
		err := tx.Where("id = ? AND donor_list_id = ?", membershipID, listID).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("membership %d not found in list %d", membershipID, listID)
		}
		if err != nil {
			return err
		}
		from = m.Status

		updates := map[string]interface{}{
			"status":         t.to,
			"exclude_reason": t.reason,
			"auto_excluded":  false,
			"comment":        t.comment,
		}
		if t.to == models.MembershipPending {
			updates["reviewed_by"] = ""
			updates["reviewed_at"] = nil
		} else {
			updates["reviewed_by"] = actor
			updates["reviewed_at"] = s.now()
		}

		// The status guard makes a repeated or racing decision a no-op.
		res := tx.Model(&models.Membership{}).
			Where("id = ? AND status IN ?", m.ID, t.from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if t.to == models.MembershipPending {
				return apperrors.StateConflict("membership %d is already pending", m.ID)
			}
			return apperrors.StateConflict("membership %d is already %s; reopen it first", m.ID, m.Status)
		}

		entry := models.ReviewLog{
			MembershipID: m.ID,
			DonorListID:  listID,
			FromStatus:   m.Status,
			ToStatus:     t.to,
			Actor:        actor,
			Reason:       firstNonEmpty(t.reason, t.comment),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return Recount(tx, listID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"list_id":       listID,
		"membership_id": membershipID,
		"from":          from,
		"to":            t.to,
		"actor":         actor,
	}).Info("Membership transition")

	var m models.Membership
	if err := s.db.WithContext(ctx).Preload("Donor").First(&m, membershipID).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// lockEditableList locks the list row and checks its event is in review.
func (s *Service) lockEditableList(tx *gorm.DB, listID uint) (*models.DonorList, error) {
	var list models.DonorList
	err := s.forUpdate(tx).First(&list, listID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("donor list %d not found", listID)
	}
	if err != nil {
		return nil, err
	}

	var event models.Event
	if err := tx.First(&event, list.EventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("event %d not found", list.EventID)
		}
		return nil, err
	}
	if !event.Status.AllowsReview() {
		return nil, apperrors.StateConflict("memberships can only be edited while the event is in review (event is %s)", event.Status)
	}
	return &list, nil
}

// RunAutoExclusion applies the auto-exclusion rules to the pending
// memberships of a list and returns how many it excluded.
func (s *Service) RunAutoExclusion(ctx context.Context, listID uint) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockEditableList(tx, listID); err != nil {
			return err
		}
		var err error
		n, err = s.applyAutoExclusion(tx, listID, SystemActor)
		if err != nil {
			return err
		}
		return Recount(tx, listID)
	})
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{"list_id": listID, "auto_excluded": n}).Info("Auto-exclusion pass finished")
	return n, nil
}

// applyAutoExclusion moves pending memberships to auto-excluded until no
// rule fires any more, so exclusions can cascade along related donors.
// Decided memberships are never touched. The caller recounts.
func (s *Service) applyAutoExclusion(tx *gorm.DB, listID uint, actor string) (int, error) {
	var memberships []models.Membership
	if err := tx.Preload("Donor").Where("donor_list_id = ?", listID).Order("rank ASC").Find(&memberships).Error; err != nil {
		return 0, err
	}

	statusByDonor := make(map[uint]models.MembershipStatus, len(memberships))
	var relatedIDs []uint
	for _, m := range memberships {
		statusByDonor[m.DonorID] = m.Status
		if m.Donor != nil && m.Donor.RelatedDonorID != nil {
			relatedIDs = append(relatedIDs, *m.Donor.RelatedDonorID)
		}
	}

	globallyExcluded := make(map[uint]bool)
	if len(relatedIDs) > 0 {
		var related []models.Donor
		if err := tx.Select("id", "excluded").Where("id IN ?", relatedIDs).Find(&related).Error; err != nil {
			return 0, err
		}
		for _, d := range related {
			globallyExcluded[d.ID] = d.Excluded
		}
	}

	reasonFor := func(d *models.Donor) string {
		switch {
		case d == nil:
			return ""
		case d.Excluded:
			return ReasonDonorExcluded
		case d.Deceased:
			return ReasonDonorDeceased
		case d.RelatedDonorID != nil &&
			(statusByDonor[*d.RelatedDonorID] == models.MembershipAutoExcluded || globallyExcluded[*d.RelatedDonorID]):
			return ReasonRelatedExcluded
		}
		return ""
	}

	now := s.now()
	excluded := 0
	for changed := true; changed; {
		changed = false
		for _, m := range memberships {
			if statusByDonor[m.DonorID] != models.MembershipPending {
				continue
			}
			reason := reasonFor(m.Donor)
			if reason == "" {
				continue
			}

			res := tx.Model(&models.Membership{}).
				Where("id = ? AND status = ?", m.ID, models.MembershipPending).
				Updates(map[string]interface{}{
					"status":         models.MembershipAutoExcluded,
					"exclude_reason": reason,
					"auto_excluded":  true,
					"reviewed_by":    actor,
					"reviewed_at":    now,
				})
			if res.Error != nil {
				return excluded, res.Error
			}
			statusByDonor[m.DonorID] = models.MembershipAutoExcluded
			if res.RowsAffected == 0 {
				continue
			}

			entry := models.ReviewLog{
				MembershipID: m.ID,
				DonorListID:  listID,
				FromStatus:   models.MembershipPending,
				ToStatus:     models.MembershipAutoExcluded,
				Actor:        actor,
				Reason:       reason,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return excluded, err
			}
			excluded++
			changed = true
		}
	}
	return excluded, nil
}

type statusCount struct {
	Status models.MembershipStatus
	Count  int
}

// Recount recomputes a list's counters from its memberships. It must run
// in the same transaction as the change that made it necessary.
func Recount(tx *gorm.DB, listID uint) error {
	var rows []statusCount
	if err := tx.Model(&models.Membership{}).
		Select("status, COUNT(*) AS count").
		Where("donor_list_id = ?", listID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}

	counts := make(map[models.MembershipStatus]int, len(rows))
	total := 0
	for _, r := range rows {
		counts[r.Status] = r.Count
		total += r.Count
	}

	reviewStatus := models.ReviewCompleted
	if counts[models.MembershipPending] > 0 {
		reviewStatus = models.ReviewPending
	}

	return tx.Model(&models.DonorList{}).Where("id = ?", listID).Updates(map[string]interface{}{
		"total_donors":  total,
		"approved":      counts[models.MembershipApproved],
		"excluded":      counts[models.MembershipExcluded],
		"pending":       counts[models.MembershipPending],
		"auto_excluded": counts[models.MembershipAutoExcluded],
		"review_status": reviewStatus,
	}).Error
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package roster

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"donorflow/apperrors"
	"donorflow/models"
)

type MembershipFilter struct {
	Status models.MembershipStatus
	Page   int
	Limit  int
}

// GetList returns the donor list of an event, without memberships.
func (s *Service) GetList(ctx context.Context, eventID uint) (*models.DonorList, error) {
	var list models.DonorList
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("event %d has no donor list", eventID)
	}
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Service) getList(ctx context.Context, listID uint) (*models.DonorList, error) {
	var list models.DonorList
	err := s.db.WithContext(ctx).First(&list, listID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("donor list %d not found", listID)
	}
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// ListMemberships pages through a list in rank order, donors attached.
func (s *Service) ListMemberships(ctx context.Context, listID uint, filter MembershipFilter) ([]models.Membership, int64, error) {
	if filter.Status != "" {
		switch filter.Status {
		case models.MembershipPending, models.MembershipApproved, models.MembershipExcluded, models.MembershipAutoExcluded:
		default:
			return nil, 0, apperrors.Validation("unknown membership status %q", filter.Status)
		}
	}
	if _, err := s.getList(ctx, listID); err != nil {
		return nil, 0, err
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Membership{}).Where("donor_list_id = ?", listID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var memberships []models.Membership
	err := query.Preload("Donor").
		Order("rank ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&memberships).Error
	if err != nil {
		return nil, 0, err
	}
	return memberships, total, nil
}

// ReviewListIDs returns the lists whose event is currently in review.
func (s *Service) ReviewListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.DonorList{}).
		Joins("JOIN events ON events.id = donor_lists.event_id AND events.deleted_at IS NULL").
		Where("events.status = ?", models.EventReview).
		Pluck("donor_lists.id", &ids).Error
	return ids, err
}

package roster

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"donorflow/apperrors"
	"donorflow/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewService(db, l), db
}

func addDonor(t *testing.T, db *gorm.DB, name string, total int64, mutate ...func(*models.Donor)) *models.Donor {
	t.Helper()
	d := models.Donor{
		IdentityKey:    "ind:" + name + "|",
		FirstName:      name,
		TotalDonations: decimal.NewFromInt(total),
	}
	for _, fn := range mutate {
		fn(&d)
	}
	require.NoError(t, db.Create(&d).Error)
	return &d
}

func addEvent(t *testing.T, s *Service, minGiving int64) *models.Event {
	t.Helper()
	event, err := s.CreateEvent(context.Background(), EventInput{
		Name:           "Spring Gala",
		Capacity:       100,
		MinGivingLevel: decimal.NewFromInt(minGiving),
		CreatedBy:      "owner@example.org",
	})
	require.NoError(t, err)
	return event
}

func assertCountsConsistent(t *testing.T, list *models.DonorList) {
	t.Helper()
	assert.Equal(t, list.TotalDonors, list.Approved+list.Excluded+list.Pending+list.AutoExcluded)
	assert.Equal(t, list.Pending == 0, list.ReviewStatus == models.ReviewCompleted)
}

func membershipFor(t *testing.T, db *gorm.DB, listID, donorID uint) models.Membership {
	t.Helper()
	var m models.Membership
	require.NoError(t, db.Where("donor_list_id = ? AND donor_id = ?", listID, donorID).Take(&m).Error)
	return m
}

func TestGenerateAndAutoExclude(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)

	var qualifying []*models.Donor
	for i, total := range []int64{100, 4999, 5000, 250, 12000, 3000, 800, 7000, 1200, 4000} {
		d := addDonor(t, db, fmt.Sprintf("donor%d", i), total)
		if total >= 5000 {
			qualifying = append(qualifying, d)
		}
	}
	require.Len(t, qualifying, 3)
	event := addEvent(t, s, 5000)

	list, err := s.Generate(ctx, event.ID, GenerateOptions{Actor: "owner@example.org"})
	require.NoError(t, err)

	t.Run("Should select every qualifying donor as pending", func(t *testing.T) {
		assert.Equal(t, 3, list.TotalDonors)
		assert.Equal(t, 3, list.Pending)
		assert.Equal(t, models.ReviewPending, list.ReviewStatus)
		assertCountsConsistent(t, list)

		memberships, total, err := s.ListMemberships(ctx, list.ID, MembershipFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		for _, m := range memberships {
			assert.Equal(t, models.MembershipPending, m.Status)
			assert.Empty(t, m.ExcludeReason)
		}
	})

	t.Run("Should order by total donations descending", func(t *testing.T) {
		memberships, _, err := s.ListMemberships(ctx, list.ID, MembershipFilter{})
		require.NoError(t, err)
		require.Len(t, memberships, 3)
		assert.Equal(t, "12000", memberships[0].Donor.TotalDonations.String())
		assert.Equal(t, "7000", memberships[1].Donor.TotalDonations.String())
		assert.Equal(t, "5000", memberships[2].Donor.TotalDonations.String())
		assert.Equal(t, 1, memberships[0].Rank)
	})

	t.Run("Should move the event to review", func(t *testing.T) {
		ev, err := s.GetEvent(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EventReview, ev.Status)
		require.NotNil(t, ev.DonorList)
		assert.False(t, EventReady(ev.DonorList))
	})

	t.Run("Should auto-exclude a donor flagged after generation", func(t *testing.T) {
		require.NoError(t, db.Model(&models.Donor{}).Where("id = ?", qualifying[1].ID).Update("excluded", true).Error)

		n, err := s.RunAutoExclusion(ctx, list.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		updated, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Pending)
		assert.Equal(t, 1, updated.AutoExcluded)
		assertCountsConsistent(t, updated)

		m := membershipFor(t, db, list.ID, qualifying[1].ID)
		assert.Equal(t, models.MembershipAutoExcluded, m.Status)
		assert.Equal(t, ReasonDonorExcluded, m.ExcludeReason)
		assert.True(t, m.AutoExcluded)
	})

	t.Run("Should be a no-op when run again", func(t *testing.T) {
		n, err := s.RunAutoExclusion(ctx, list.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestGenerateFilters(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)

	tie1 := addDonor(t, db, "tie1", 9000, func(d *models.Donor) { d.Tags = models.NewTagSet("arts") })
	tie2 := addDonor(t, db, "tie2", 9000, func(d *models.Donor) { d.Tags = models.NewTagSet("science", "arts") })
	addDonor(t, db, "nofocus", 20000, func(d *models.Donor) { d.Tags = models.NewTagSet("sports", "artsy") })
	addDonor(t, db, "deceased", 20000, func(d *models.Donor) { d.Deceased = true; d.Tags = models.NewTagSet("arts") })
	addDonor(t, db, "small", 10, func(d *models.Donor) { d.Tags = models.NewTagSet("arts") })
	big := addDonor(t, db, "big", 15000, func(d *models.Donor) { d.Tags = models.NewTagSet("arts"); d.City = "Boston" })

	event, err := s.CreateEvent(ctx, EventInput{Name: "Arts Night", MinGivingLevel: decimal.NewFromInt(1000), FocusArea: " Arts "})
	require.NoError(t, err)

	t.Run("Should match focus area against whole tags and break ties by id", func(t *testing.T) {
		list, err := s.Generate(ctx, event.ID, GenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, list.TotalDonors)

		memberships, _, err := s.ListMemberships(ctx, list.ID, MembershipFilter{})
		require.NoError(t, err)
		require.Len(t, memberships, 3)
		assert.Equal(t, big.ID, memberships[0].DonorID)
		assert.Equal(t, tie1.ID, memberships[1].DonorID)
		assert.Equal(t, tie2.ID, memberships[2].DonorID)
	})

	t.Run("Should cap the list at the requested size", func(t *testing.T) {
		list, err := s.Generate(ctx, event.ID, GenerateOptions{Size: 2, ConfirmRegenerate: true})
		require.NoError(t, err)
		assert.Equal(t, 2, list.TotalDonors)
		assert.Equal(t, 2, list.RequestedSize)
	})

	t.Run("Should filter by city case-insensitively", func(t *testing.T) {
		cityEvent, err := s.CreateEvent(ctx, EventInput{Name: "Boston Dinner", City: "boston"})
		require.NoError(t, err)

		list, err := s.Generate(ctx, cityEvent.ID, GenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, list.TotalDonors)
	})

	t.Run("Should reject a negative size", func(t *testing.T) {
		_, err := s.Generate(ctx, event.ID, GenerateOptions{Size: -1, ConfirmRegenerate: true})
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("Should report unknown events", func(t *testing.T) {
		_, err := s.Generate(ctx, 9999, GenerateOptions{})
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRegenerate(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)
	a := addDonor(t, db, "a", 6000)
	addDonor(t, db, "b", 7000)
	event := addEvent(t, s, 5000)

	list, err := s.Generate(ctx, event.ID, GenerateOptions{})
	require.NoError(t, err)
	m := membershipFor(t, db, list.ID, a.ID)
	_, err = s.Approve(ctx, list.ID, m.ID, "reviewer", "")
	require.NoError(t, err)

	t.Run("Should refuse to regenerate without confirmation", func(t *testing.T) {
		_, err := s.Generate(ctx, event.ID, GenerateOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRegenerateNotConfirmed)
		assert.True(t, apperrors.IsStateConflict(err))
		assert.Contains(t, err.Error(), "1 review decisions")

		current, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, current.Approved, "nothing changed")
	})

	t.Run("Should discard decisions when confirmed", func(t *testing.T) {
		regenerated, err := s.Generate(ctx, event.ID, GenerateOptions{ConfirmRegenerate: true})
		require.NoError(t, err)
		assert.Equal(t, list.ID, regenerated.ID, "the list row is reused")
		assert.Equal(t, 2, regenerated.Pending)
		assert.Equal(t, 0, regenerated.Approved)

		var count int64
		db.Model(&models.Membership{}).Where("donor_list_id = ?", list.ID).Count(&count)
		assert.EqualValues(t, 2, count)
	})
}

func TestReviewStateMachine(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)
	a := addDonor(t, db, "a", 9000)
	b := addDonor(t, db, "b", 8000)
	event := addEvent(t, s, 5000)

	list, err := s.Generate(ctx, event.ID, GenerateOptions{})
	require.NoError(t, err)
	ma := membershipFor(t, db, list.ID, a.ID)
	mb := membershipFor(t, db, list.ID, b.ID)

	t.Run("Should require a reason to exclude", func(t *testing.T) {
		_, err := s.Exclude(ctx, list.ID, mb.ID, "reviewer", "  ", "")
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("Should approve a pending membership", func(t *testing.T) {
		m, err := s.Approve(ctx, list.ID, ma.ID, "reviewer", "long-time supporter")
		require.NoError(t, err)
		assert.Equal(t, models.MembershipApproved, m.Status)
		assert.Equal(t, "reviewer", m.ReviewedBy)
		assert.NotNil(t, m.ReviewedAt)
		assert.Empty(t, m.ExcludeReason)
		require.NotNil(t, m.Donor)
		assert.Equal(t, "a", m.Donor.FirstName)
	})

	t.Run("Should reject a second decision without side effects", func(t *testing.T) {
		_, err := s.Approve(ctx, list.ID, ma.ID, "reviewer", "")
		assert.True(t, apperrors.IsStateConflict(err))
		_, err = s.Exclude(ctx, list.ID, ma.ID, "reviewer", "changed mind", "")
		assert.True(t, apperrors.IsStateConflict(err))

		var logs int64
		db.Model(&models.ReviewLog{}).Where("membership_id = ?", ma.ID).Count(&logs)
		assert.EqualValues(t, 1, logs)
	})

	t.Run("Should block readiness while memberships are pending", func(t *testing.T) {
		_, err := s.AdvanceEvent(ctx, event.ID, models.EventReady)
		assert.True(t, apperrors.IsStateConflict(err))
	})

	t.Run("Should complete the review once nothing is pending", func(t *testing.T) {
		m, err := s.Exclude(ctx, list.ID, mb.ID, "reviewer", "conflict of interest", "")
		require.NoError(t, err)
		assert.Equal(t, "conflict of interest", m.ExcludeReason)

		current, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, current.Approved)
		assert.Equal(t, 1, current.Excluded)
		assert.Equal(t, models.ReviewCompleted, current.ReviewStatus)
		assert.True(t, EventReady(current))
		assertCountsConsistent(t, current)
	})

	t.Run("Should reopen a decided membership and clear the review fields", func(t *testing.T) {
		m, err := s.Reopen(ctx, list.ID, mb.ID, "lead", "second look")
		require.NoError(t, err)
		assert.Equal(t, models.MembershipPending, m.Status)
		assert.Empty(t, m.ExcludeReason)
		assert.Empty(t, m.ReviewedBy)
		assert.Nil(t, m.ReviewedAt)

		_, err = s.Reopen(ctx, list.ID, mb.ID, "lead", "")
		assert.True(t, apperrors.IsStateConflict(err), "pending memberships cannot be reopened")

		current, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewPending, current.ReviewStatus)
		assertCountsConsistent(t, current)

		var last models.ReviewLog
		require.NoError(t, db.Where("membership_id = ?", mb.ID).Order("id DESC").First(&last).Error)
		assert.Equal(t, models.MembershipExcluded, last.FromStatus)
		assert.Equal(t, models.MembershipPending, last.ToStatus)
		assert.Equal(t, "lead", last.Actor)
	})

	t.Run("Should let the event proceed only after the review completes", func(t *testing.T) {
		_, err := s.Approve(ctx, list.ID, mb.ID, "reviewer", "")
		require.NoError(t, err)

		ev, err := s.AdvanceEvent(ctx, event.ID, models.EventReady)
		require.NoError(t, err)
		assert.Equal(t, models.EventReady, ev.Status)
	})

	t.Run("Should refuse edits once the event left review", func(t *testing.T) {
		_, err := s.Reopen(ctx, list.ID, mb.ID, "lead", "")
		assert.True(t, apperrors.IsStateConflict(err))
		_, err = s.RunAutoExclusion(ctx, list.ID)
		assert.True(t, apperrors.IsStateConflict(err))
		_, err = s.Generate(ctx, event.ID, GenerateOptions{ConfirmRegenerate: true})
		assert.True(t, apperrors.IsStateConflict(err))
	})

	t.Run("Should report memberships of other lists as not found", func(t *testing.T) {
		_, err := s.Approve(ctx, list.ID+1, ma.ID, "reviewer", "")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestConcurrentReview(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)
	for i := 0; i < 20; i++ {
		addDonor(t, db, fmt.Sprintf("donor%02d", i), int64(6000+i))
	}
	event := addEvent(t, s, 5000)
	list, err := s.Generate(ctx, event.ID, GenerateOptions{})
	require.NoError(t, err)

	var memberships []models.Membership
	require.NoError(t, db.Where("donor_list_id = ?", list.ID).Order("id").Find(&memberships).Error)
	require.Len(t, memberships, 20)

	// decide races an approval against an exclusion for every membership
	// and returns how many of the calls succeeded.
	decide := func(t *testing.T, batch []models.Membership) int {
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		record := func(err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.True(t, apperrors.IsStateConflict(err), "unexpected error: %v", err)
		}
		for _, m := range batch {
			wg.Add(2)
			go func(id uint) {
				defer wg.Done()
				_, err := s.Approve(ctx, list.ID, id, "alice", "")
				record(err)
			}(m.ID)
			go func(id uint) {
				defer wg.Done()
				_, err := s.Exclude(ctx, list.ID, id, "bob", "board conflict", "")
				record(err)
			}(m.ID)
		}
		wg.Wait()
		return succeeded
	}

	t.Run("Should keep counters consistent while decisions race", func(t *testing.T) {
		assert.Equal(t, 15, decide(t, memberships[:15]))

		current, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, current.TotalDonors)
		assert.Equal(t, 15, current.Approved+current.Excluded)
		assert.Equal(t, 5, current.Pending)
		assert.Equal(t, models.ReviewPending, current.ReviewStatus)
		assertCountsConsistent(t, current)
	})

	t.Run("Should complete the review when the last decisions race", func(t *testing.T) {
		assert.Equal(t, 5, decide(t, memberships[15:]))

		current, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, 20, current.Approved+current.Excluded)
		assert.Zero(t, current.Pending)
		assert.Equal(t, models.ReviewCompleted, current.ReviewStatus)
		assertCountsConsistent(t, current)

		var logs int64
		require.NoError(t, db.Model(&models.ReviewLog{}).Where("donor_list_id = ?", list.ID).Count(&logs).Error)
		assert.EqualValues(t, 20, logs)
	})
}

func TestAutoExclusionRules(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)

	head := addDonor(t, db, "head", 9000)
	spouse := addDonor(t, db, "spouse", 8000, func(d *models.Donor) { d.RelatedDonorID = &head.ID })
	child := addDonor(t, db, "child", 7000, func(d *models.Donor) { d.RelatedDonorID = &spouse.ID })
	approved := addDonor(t, db, "approved", 6500)
	other := addDonor(t, db, "other", 6000)
	event := addEvent(t, s, 5000)

	list, err := s.Generate(ctx, event.ID, GenerateOptions{})
	require.NoError(t, err)
	_, err = s.Approve(ctx, list.ID, membershipFor(t, db, list.ID, approved.ID).ID, "reviewer", "")
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Donor{}).Where("id IN ?", []uint{head.ID, approved.ID}).Update("deceased", true).Error)

	n, err := s.RunAutoExclusion(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "exclusion cascades along related donors")

	assert.Equal(t, ReasonDonorDeceased, membershipFor(t, db, list.ID, head.ID).ExcludeReason)
	assert.Equal(t, ReasonRelatedExcluded, membershipFor(t, db, list.ID, spouse.ID).ExcludeReason)
	assert.Equal(t, ReasonRelatedExcluded, membershipFor(t, db, list.ID, child.ID).ExcludeReason)
	assert.Equal(t, models.MembershipApproved, membershipFor(t, db, list.ID, approved.ID).Status, "decided memberships are untouched")
	assert.Equal(t, models.MembershipPending, membershipFor(t, db, list.ID, other.ID).Status)

	current, err := s.GetList(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.AutoExcluded)
	assert.Equal(t, 1, current.Approved)
	assert.Equal(t, 1, current.Pending)
	assertCountsConsistent(t, current)

	t.Run("Should exclude donors related to a globally excluded donor outside the list", func(t *testing.T) {
		outsider := addDonor(t, db, "outsider", 100, func(d *models.Donor) { d.Excluded = true })
		require.NoError(t, db.Model(&models.Donor{}).Where("id = ?", other.ID).Update("related_donor_id", outsider.ID).Error)

		n, err := s.RunAutoExclusion(ctx, list.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, ReasonRelatedExcluded, membershipFor(t, db, list.ID, other.ID).ExcludeReason)

		current, err := s.GetList(ctx, event.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewCompleted, current.ReviewStatus)
	})
}

func TestGenerateWithAutoExclusion(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)

	excluded := addDonor(t, db, "excluded", 50000, func(d *models.Donor) { d.Excluded = true })
	addDonor(t, db, "linked", 9000, func(d *models.Donor) { d.RelatedDonorID = &excluded.ID })
	addDonor(t, db, "clean", 8000)
	event := addEvent(t, s, 5000)

	list, err := s.Generate(ctx, event.ID, GenerateOptions{AutoExclude: true})
	require.NoError(t, err)
	assert.Equal(t, 2, list.TotalDonors, "excluded donors are never selected")
	assert.Equal(t, 1, list.AutoExcluded)
	assert.Equal(t, 1, list.Pending)

	ids, err := s.ReviewListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{list.ID}, ids)
}

func TestAdvanceEvent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	event := addEvent(t, s, 0)

	t.Run("Should follow the lifecycle one step at a time", func(t *testing.T) {
		_, err := s.AdvanceEvent(ctx, event.ID, models.EventReview)
		assert.True(t, apperrors.IsStateConflict(err), "cannot skip list generation")

		ev, err := s.AdvanceEvent(ctx, event.ID, models.EventListGeneration)
		require.NoError(t, err)
		assert.Equal(t, models.EventListGeneration, ev.Status)
	})

	t.Run("Should require a list before review", func(t *testing.T) {
		_, err := s.AdvanceEvent(ctx, event.ID, models.EventReview)
		assert.True(t, apperrors.IsStateConflict(err))
	})

	t.Run("Should treat an empty list as complete", func(t *testing.T) {
		list, err := s.Generate(ctx, event.ID, GenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 0, list.TotalDonors)
		assert.True(t, EventReady(list))

		ev, err := s.AdvanceEvent(ctx, event.ID, models.EventReady)
		require.NoError(t, err)
		ev, err = s.AdvanceEvent(ctx, ev.ID, models.EventComplete)
		require.NoError(t, err)
		assert.Equal(t, models.EventComplete, ev.Status)
	})

	t.Run("Should reject unknown statuses and events", func(t *testing.T) {
		_, err := s.AdvanceEvent(ctx, event.ID, "archived")
		assert.True(t, apperrors.IsValidation(err))
		_, err = s.AdvanceEvent(ctx, 424242, models.EventReady)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("Should validate event input", func(t *testing.T) {
		_, err := s.CreateEvent(ctx, EventInput{Name: " "})
		assert.True(t, apperrors.IsValidation(err))
		_, err = s.CreateEvent(ctx, EventInput{Name: "x", MinGivingLevel: decimal.NewFromInt(-1)})
		assert.True(t, apperrors.IsValidation(err))
	})
}

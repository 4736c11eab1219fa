package reconciler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"donorflow/apperrors"
	"donorflow/models"
	"donorflow/services/parser"
	"donorflow/services/progress"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "donors.db")
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
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestMerge(t *testing.T) {
	existing := models.Donor{
		ID:                7,
		IdentityKey:       "ind:ada|lovelace",
		FirstName:         "Ada",
		LastName:          "Lovelace",
		City:              "London",
		TotalDonations:    decimal.NewFromInt(1000),
		TotalPledges:      decimal.NewFromInt(200),
		LargestGift:       decimal.NewFromInt(500),
		LargestGiftAppeal: "Spring",
		FirstGiftDate:     day(2019, 1, 1),
		FirstGiftAmount:   dec("50"),
		LastGiftDate:      day(2022, 6, 1),
		LastGiftAmount:    dec("75"),
		LastChannel:       "mail",
		Tags:              models.NewTagSet("gala"),
	}

	t.Run("Should add totals and keep monotone fields", func(t *testing.T) {
		merged := Merge(existing, parser.DonorRecord{
			TotalDonations:    dec("250"),
			LargestGift:       dec("400"),
			LargestGiftAppeal: "Winter",
			FirstGiftDate:     day(2020, 1, 1),
			FirstGiftAmount:   dec("10"),
			LastGiftDate:      day(2021, 1, 1),
			LastGiftAmount:    dec("20"),
		})

		assert.Equal(t, "1250", merged.TotalDonations.String())
		assert.Equal(t, "200", merged.TotalPledges.String(), "absent pledges leave the total alone")
		assert.Equal(t, "500", merged.LargestGift.String())
		assert.Equal(t, "Spring", merged.LargestGiftAppeal)
		assert.Equal(t, *day(2019, 1, 1), *merged.FirstGiftDate)
		assert.Equal(t, "50", merged.FirstGiftAmount.String())
		assert.Equal(t, *day(2022, 6, 1), *merged.LastGiftDate)
		assert.Equal(t, "75", merged.LastGiftAmount.String())
	})

	t.Run("Should replace largest gift and dates when the row wins", func(t *testing.T) {
		merged := Merge(existing, parser.DonorRecord{
			LargestGift:       dec("900"),
			LargestGiftAppeal: "Winter",
			FirstGiftDate:     day(2018, 5, 5),
			FirstGiftAmount:   dec("5"),
			LastGiftDate:      day(2023, 3, 3),
			LastGiftAmount:    dec("900"),
		})

		assert.Equal(t, "900", merged.LargestGift.String())
		assert.Equal(t, "Winter", merged.LargestGiftAppeal)
		assert.Equal(t, *day(2018, 5, 5), *merged.FirstGiftDate)
		assert.Equal(t, "5", merged.FirstGiftAmount.String())
		assert.Equal(t, *day(2023, 3, 3), *merged.LastGiftDate)
		assert.Equal(t, "900", merged.LastGiftAmount.String())
	})

	t.Run("Should union tags and overwrite present scalars only", func(t *testing.T) {
		excluded := true
		merged := Merge(existing, parser.DonorRecord{
			City:       "",
			LastAppeal: "Year End",
			Tags:       models.NewTagSet("Board", "gala"),
			Excluded:   &excluded,
		})

		assert.Equal(t, "London", merged.City)
		assert.Equal(t, "mail", merged.LastChannel)
		assert.Equal(t, "Year End", merged.LastAppeal)
		assert.Equal(t, models.TagSet{"board", "gala"}, merged.Tags)
		assert.True(t, merged.Excluded)
		assert.False(t, merged.Deceased)
	})

	t.Run("Should not modify the existing donor", func(t *testing.T) {
		before := *existing.FirstGiftDate
		_ = Merge(existing, parser.DonorRecord{FirstGiftDate: day(2000, 1, 1), Tags: models.NewTagSet("new")})

		assert.Equal(t, before, *existing.FirstGiftDate)
		assert.Equal(t, models.TagSet{"gala"}, existing.Tags)
	})

	t.Run("Should keep largest gift equal to the maximum seen", func(t *testing.T) {
		d := NewDonor(parser.DonorRecord{FirstName: "Max", LargestGift: dec("30")})
		for _, v := range []string{"10", "75.5", "75.49", "0", "60"} {
			d = Merge(d, parser.DonorRecord{LargestGift: dec(v)})
		}
		assert.Equal(t, "75.5", d.LargestGift.String())
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create then additively merge the same row", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())
		row := parser.Row{Number: 2, Record: parser.DonorRecord{
			FirstName:      " Ada ",
			LastName:       "Lovelace",
			City:           "London",
			TotalDonations: dec("100.25"),
			LargestGift:    dec("80"),
			Tags:           models.NewTagSet("gala", "board"),
		}}

		first, err := r.Reconcile(ctx, row)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, first.Kind)

		var created models.Donor
		require.NoError(t, db.First(&created, first.DonorID).Error)
		assert.Equal(t, "ind:ada|lovelace", created.IdentityKey)
		assert.Equal(t, "London", created.City)
		assert.Equal(t, "100.25", created.TotalDonations.String())
		assert.Equal(t, "import", created.Source)

		second, err := r.Reconcile(ctx, row)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, second.Kind)
		assert.Equal(t, first.DonorID, second.DonorID)

		var merged models.Donor
		require.NoError(t, db.First(&merged, first.DonorID).Error)
		assert.Equal(t, "200.5", merged.TotalDonations.String())
		assert.Equal(t, "80", merged.LargestGift.String())
		assert.Equal(t, models.TagSet{"board", "gala"}, merged.Tags)

		var count int64
		db.Model(&models.Donor{}).Count(&count)
		assert.EqualValues(t, 1, count)
	})

	t.Run("Should match identities regardless of case and spacing", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())

		_, err := r.Reconcile(ctx, parser.Row{Number: 2, Record: parser.DonorRecord{OrganizationName: "Acme  Foundation"}})
		require.NoError(t, err)
		out, err := r.Reconcile(ctx, parser.Row{Number: 3, Record: parser.DonorRecord{OrganizationName: "ACME foundation "}})
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, out.Kind)
	})

	t.Run("Should report missing identity as an error outcome", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())

		out, err := r.Reconcile(ctx, parser.Row{
			Number: 4,
			Record: parser.DonorRecord{City: "Paris"},
			Extra:  map[string]string{"Notes": "walk-in"},
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeError, out.Kind)
		require.NotNil(t, out.RowError)
		assert.Equal(t, 4, out.RowError.Row)
		assert.Equal(t, progress.RowErrorIdentity, out.RowError.Kind)
		assert.Contains(t, out.RowError.Message, "missing identity")
		assert.Equal(t, "walk-in", out.RowError.Extra["Notes"])
	})

	t.Run("Should skip rows the parser flagged", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())

		out, err := r.Reconcile(ctx, parser.Row{
			Number: 9,
			Record: parser.DonorRecord{FirstName: "Grace"},
			Err:    errors.New("total_donations: not a number"),
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, out.Kind)
		assert.Equal(t, progress.RowErrorParse, out.RowError.Kind)

		var count int64
		db.Model(&models.Donor{}).Count(&count)
		assert.EqualValues(t, 0, count)
	})

	t.Run("Should fold concurrent imports of one identity into one donor", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Reconcile(ctx, parser.Row{Number: 2, Record: parser.DonorRecord{
					FirstName: "Grace", LastName: "Hopper", TotalDonations: dec("10"),
				}})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		var donors []models.Donor
		require.NoError(t, db.Find(&donors).Error)
		require.Len(t, donors, 1)
		assert.Equal(t, "80", donors[0].TotalDonations.String())
	})

	t.Run("Should retry a lost create race as a merge", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())
		store := r.apply
		calls := 0
		r.apply = func(ctx context.Context, key string, rec parser.DonorRecord) (Outcome, error) {
			calls++
			if calls == 1 {
				// Another import commits the identity between our lookup and insert
				require.NoError(t, db.Create(&models.Donor{
					IdentityKey:    key,
					FirstName:      "Grace",
					LastName:       "Hopper",
					TotalDonations: decimal.NewFromInt(5),
				}).Error)
				return Outcome{}, gorm.ErrDuplicatedKey
			}
			return store(ctx, key, rec)
		}

		out, err := r.Reconcile(ctx, parser.Row{Number: 2, Record: parser.DonorRecord{
			FirstName: "Grace", LastName: "Hopper", TotalDonations: dec("10"),
		}})
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, out.Kind)
		assert.Equal(t, 2, calls)

		var donors []models.Donor
		require.NoError(t, db.Find(&donors).Error)
		require.Len(t, donors, 1)
		assert.Equal(t, out.DonorID, donors[0].ID)
		assert.Equal(t, "15", donors[0].TotalDonations.String())
	})

	t.Run("Should give up after repeated duplicate keys", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())
		calls := 0
		r.apply = func(context.Context, string, parser.DonorRecord) (Outcome, error) {
			calls++
			return Outcome{}, gorm.ErrDuplicatedKey
		}

		_, err := r.Reconcile(ctx, parser.Row{Number: 5, Record: parser.DonorRecord{FirstName: "Ada"}})
		require.Error(t, err)
		assert.True(t, apperrors.IsJobFatal(err))
		assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
		assert.Equal(t, maxAttempts, calls)
	})

	t.Run("Should refuse to merge into a donor with two identities", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())
		key, err := models.IdentityKey("Ada", "Lovelace", "")
		require.NoError(t, err)
		require.NoError(t, db.Create(&models.Donor{
			IdentityKey:      key,
			FirstName:        "Ada",
			LastName:         "Lovelace",
			OrganizationName: "Analytical Engines Ltd",
		}).Error)

		out, err := r.Reconcile(ctx, parser.Row{Number: 3, Record: parser.DonorRecord{
			FirstName: "Ada", LastName: "Lovelace", TotalDonations: dec("10"),
		}})
		require.NoError(t, err)
		assert.Equal(t, OutcomeError, out.Kind)
		require.NotNil(t, out.RowError)
		assert.Equal(t, progress.RowErrorIdentity, out.RowError.Kind)
		assert.Equal(t, models.ErrAmbiguousIdentity.Error(), out.RowError.Message)

		var stored models.Donor
		require.NoError(t, db.Where("identity_key = ?", key).Take(&stored).Error)
		assert.True(t, stored.TotalDonations.IsZero())
	})

	t.Run("Should surface storage failures as fatal", func(t *testing.T) {
		db := newTestDB(t)
		r := New(db, quietLogger())
		sqlDB, err := db.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		_, err = r.Reconcile(ctx, parser.Row{Number: 2, Record: parser.DonorRecord{FirstName: "Ada"}})
		require.Error(t, err)
		assert.True(t, apperrors.IsJobFatal(err))
	})
}

func TestDuplicateKeyIsTranslated(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Donor{IdentityKey: "org:acme", OrganizationName: "Acme"}).Error)

	err := db.Create(&models.Donor{IdentityKey: "org:acme", OrganizationName: "Acme"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

package reconciler

import (
	"time"

	"github.com/shopspring/decimal"

	"donorflow/models"
	"donorflow/services/parser"
)

// IdentityKey resolves the identity a parsed row refers to.
func IdentityKey(rec parser.DonorRecord) (string, error) {
	return models.IdentityKey(rec.FirstName, rec.LastName, rec.OrganizationName)
}

// NewDonor builds a donor from a row that matched no existing identity.
// IdentityKey and Source are left to the caller.
func NewDonor(rec parser.DonorRecord) models.Donor {
	d := models.Donor{
		FirstName:         rec.FirstName,
		LastName:          rec.LastName,
		NickName:          rec.NickName,
		OrganizationName:  rec.OrganizationName,
		Email:             rec.Email,
		City:              rec.City,
		TotalDonations:    valueOrZero(rec.TotalDonations),
		TotalPledges:      valueOrZero(rec.TotalPledges),
		LargestGift:       valueOrZero(rec.LargestGift),
		LargestGiftAppeal: rec.LargestGiftAppeal,
		FirstGiftDate:     copyTime(rec.FirstGiftDate),
		FirstGiftAmount:   copyDecimal(rec.FirstGiftAmount),
		LastGiftDate:      copyTime(rec.LastGiftDate),
		LastGiftAmount:    copyDecimal(rec.LastGiftAmount),
		LastChannel:       rec.LastChannel,
		LastAppeal:        rec.LastAppeal,
		Tags:              models.NewTagSet(rec.Tags...),
	}
	if rec.Excluded != nil {
		d.Excluded = *rec.Excluded
	}
	if rec.Deceased != nil {
		d.Deceased = *rec.Deceased
	}
	return d
}

// Merge folds an incoming row into an existing donor and returns the result.
// Totals add up, largest gift and gift dates are monotone, tags union, and
// every other field present in the row overwrites the stored value.
// existing is not modified.
func Merge(existing models.Donor, rec parser.DonorRecord) models.Donor {
	d := existing
	d.Tags = models.NewTagSet(existing.Tags...)
	d.FirstGiftDate = copyTime(existing.FirstGiftDate)
	d.FirstGiftAmount = copyDecimal(existing.FirstGiftAmount)
	d.LastGiftDate = copyTime(existing.LastGiftDate)
	d.LastGiftAmount = copyDecimal(existing.LastGiftAmount)

	if rec.TotalDonations != nil {
		d.TotalDonations = d.TotalDonations.Add(*rec.TotalDonations)
	}
	if rec.TotalPledges != nil {
		d.TotalPledges = d.TotalPledges.Add(*rec.TotalPledges)
	}

	if rec.LargestGift != nil && rec.LargestGift.GreaterThan(d.LargestGift) {
		d.LargestGift = *rec.LargestGift
		if rec.LargestGiftAppeal != "" {
			d.LargestGiftAppeal = rec.LargestGiftAppeal
		}
	}

	// Gift amounts follow the date that wins.
	switch {
	case rec.FirstGiftDate != nil && (d.FirstGiftDate == nil || rec.FirstGiftDate.Before(*d.FirstGiftDate)):
		d.FirstGiftDate = copyTime(rec.FirstGiftDate)
		if rec.FirstGiftAmount != nil {
			d.FirstGiftAmount = copyDecimal(rec.FirstGiftAmount)
		}
	case rec.FirstGiftDate == nil && d.FirstGiftDate == nil && d.FirstGiftAmount == nil:
		d.FirstGiftAmount = copyDecimal(rec.FirstGiftAmount)
	}
	switch {
	case rec.LastGiftDate != nil && (d.LastGiftDate == nil || rec.LastGiftDate.After(*d.LastGiftDate)):
		d.LastGiftDate = copyTime(rec.LastGiftDate)
		if rec.LastGiftAmount != nil {
			d.LastGiftAmount = copyDecimal(rec.LastGiftAmount)
		}
	case rec.LastGiftDate == nil && d.LastGiftDate == nil && d.LastGiftAmount == nil:
		d.LastGiftAmount = copyDecimal(rec.LastGiftAmount)
	}

	d.Tags = d.Tags.Union(rec.Tags)

	overwrite(&d.FirstName, rec.FirstName)
	overwrite(&d.LastName, rec.LastName)
	overwrite(&d.NickName, rec.NickName)
	overwrite(&d.OrganizationName, rec.OrganizationName)
	overwrite(&d.Email, rec.Email)
	overwrite(&d.City, rec.City)
	overwrite(&d.LastChannel, rec.LastChannel)
	overwrite(&d.LastAppeal, rec.LastAppeal)

	if rec.Excluded != nil {
		d.Excluded = *rec.Excluded
	}
	if rec.Deceased != nil {
		d.Deceased = *rec.Deceased
	}
	return d
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Donor{},
		&Event{},
		&DonorList{},
		&Membership{},
		&ReviewLog{},
		&ImportOperation{},
	)
}

// Seed a small donor pool for local development
func SeedDemoDonors(db *gorm.DB) error {
	amount := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

	demo := []Donor{
		{FirstName: "Ada", LastName: "Lovelace", City: "London", TotalDonations: amount(12000), LargestGift: amount(5000), Tags: NewTagSet("gala", "board")},
		{FirstName: "Grace", LastName: "Hopper", City: "Arlington", TotalDonations: amount(7500), LargestGift: amount(2500), Tags: NewTagSet("stem")},
		{OrganizationName: "Acme Foundation", City: "Austin", TotalDonations: amount(50000), LargestGift: amount(25000), Tags: NewTagSet("corporate", "stem")},
		{FirstName: "Alan", LastName: "Turing", City: "London", TotalDonations: amount(3000), LargestGift: amount(1000)},
		{OrganizationName: "Beta Trust", City: "Boston", TotalDonations: amount(9000), LargestGift: amount(9000), Excluded: true},
	}

	for _, donor := range demo {
		key, err := IdentityKey(donor.FirstName, donor.LastName, donor.OrganizationName)
		if err != nil {
			return err
		}
		donor.IdentityKey = key
		donor.Source = "seed"
		if err := db.FirstOrCreate(&donor, "identity_key = ?", key).Error; err != nil {
			return err
		}
	}
	return nil
}

package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingIdentity   = errors.New("missing identity")
	ErrAmbiguousIdentity = errors.New("ambiguous identity: both organization and individual names set")
)

// Donor is a single contributor, either an individual or an organization.
// Donors are never deleted; they are flagged Excluded instead, so the model
// carries no soft-delete column and IdentityKey stays unique.
type Donor struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Normalised identity, the serialization point for concurrent imports
	IdentityKey string `gorm:"not null;uniqueIndex;size:400" json:"identity_key"`

	// Individual identity
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	NickName  string `json:"nick_name,omitempty"`

	// Organization identity
	OrganizationName string `json:"organization_name,omitempty"`

	Email string `json:"email,omitempty"`
	City  string `gorm:"index" json:"city,omitempty"`

	// Giving figures
	TotalDonations    decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0;index" json:"total_donations"`
	TotalPledges      decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0" json:"total_pledges"`
	LargestGift       decimal.Decimal  `gorm:"type:numeric(14,2);not null;default:0" json:"largest_gift"`
	LargestGiftAppeal string           `json:"largest_gift_appeal,omitempty"`
	FirstGiftDate     *time.Time       `json:"first_gift_date,omitempty"`
	FirstGiftAmount   *decimal.Decimal `gorm:"type:numeric(14,2)" json:"first_gift_amount,omitempty"`
	LastGiftDate      *time.Time       `json:"last_gift_date,omitempty"`
	LastGiftAmount    *decimal.Decimal `gorm:"type:numeric(14,2)" json:"last_gift_amount,omitempty"`

	// Most recent solicitation
	LastChannel string `json:"last_channel,omitempty"`
	LastAppeal  string `json:"last_appeal,omitempty"`

	Tags TagSet `json:"tags"`

	// Status
	Excluded bool `gorm:"default:false;index" json:"excluded"`
	Deceased bool `gorm:"default:false;index" json:"deceased"`

	// Household or affiliate link, used by auto-exclusion
	RelatedDonorID *uint  `gorm:"index" json:"related_donor_id,omitempty"`
	Source         string `json:"source,omitempty"` // seed, import, manual
}

func (d *Donor) IsOrganization() bool {
	return strings.TrimSpace(d.OrganizationName) != ""
}

func (d *Donor) hasIndividualName() bool {
	return strings.TrimSpace(d.FirstName) != "" || strings.TrimSpace(d.LastName) != ""
}

// Validate checks that exactly one identity is populated.
func (d *Donor) Validate() error {
	org, ind := d.IsOrganization(), d.hasIndividualName()
	switch {
	case org && ind:
		return ErrAmbiguousIdentity
	case !org && !ind:
		return ErrMissingIdentity
	}
	return nil
}

// DisplayName is the name shown to reviewers.
func (d *Donor) DisplayName() string {
	if d.IsOrganization() {
		return d.OrganizationName
	}
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

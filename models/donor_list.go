package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewCompleted ReviewStatus = "completed"
)

type MembershipStatus string

const (
	MembershipPending      MembershipStatus = "pending"
	MembershipApproved     MembershipStatus = "approved"
	MembershipExcluded     MembershipStatus = "excluded"
	MembershipAutoExcluded MembershipStatus = "auto_excluded"
)

func (s MembershipStatus) IsTerminal() bool {
	return s == MembershipApproved || s == MembershipExcluded || s == MembershipAutoExcluded
}

// RequiresReason reports whether a membership in s must carry an exclusion reason.
func (s MembershipStatus) RequiresReason() bool {
	return s == MembershipExcluded || s == MembershipAutoExcluded
}

// DonorList is the generated roster for one event. The counters are derived
// by recount after every transition and never written on their own.
type DonorList struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EventID uint `gorm:"not null;uniqueIndex" json:"event_id"`

	// Statistics
	TotalDonors  int          `gorm:"default:0" json:"total_donors"`
	Approved     int          `gorm:"default:0" json:"approved"`
	Excluded     int          `gorm:"default:0" json:"excluded"`
	Pending      int          `gorm:"default:0" json:"pending"`
	AutoExcluded int          `gorm:"default:0" json:"auto_excluded"`
	ReviewStatus ReviewStatus `gorm:"not null;default:'completed'" json:"review_status"`

	// Criteria snapshot taken at generation time
	MinGivingLevel decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"min_giving_level"`
	FocusArea      string          `json:"focus_area,omitempty"`
	City           string          `json:"city,omitempty"`
	RequestedSize  int             `json:"requested_size,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at"`
	GeneratedBy    string          `json:"generated_by,omitempty"`

	Memberships []Membership `gorm:"foreignKey:DonorListID;constraint:OnDelete:CASCADE" json:"memberships,omitempty"`
}

// Membership is one donor's reviewable entry in a DonorList.
type Membership struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DonorListID uint `gorm:"not null;uniqueIndex:idx_membership_list_donor;index" json:"donor_list_id"`
	DonorID     uint `gorm:"not null;uniqueIndex:idx_membership_list_donor;index" json:"donor_id"`
	Rank        int  `gorm:"not null;default:0" json:"rank"`

	Status        MembershipStatus `gorm:"not null;default:'pending';index" json:"status"`
	ExcludeReason string           `json:"exclude_reason,omitempty"`
	ReviewedBy    string           `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
	Comment       string           `gorm:"type:text" json:"comment,omitempty"`
	AutoExcluded  bool             `gorm:"default:false" json:"auto_excluded"`

	Donor *Donor `gorm:"foreignKey:DonorID" json:"donor,omitempty"`
}

// ReviewLog records every membership transition, including reopens.
type ReviewLog struct {
	ID           uint             `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time        `json:"created_at"`
	MembershipID uint             `gorm:"not null;index" json:"membership_id"`
	DonorListID  uint             `gorm:"not null;index" json:"donor_list_id"`
	FromStatus   MembershipStatus `json:"from_status"`
	ToStatus     MembershipStatus `json:"to_status"`
	Actor        string           `json:"actor"`
	Reason       string           `gorm:"type:text" json:"reason,omitempty"`
}

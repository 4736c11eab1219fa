package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type EventStatus string

const (
	EventPlanning       EventStatus = "planning"
	EventListGeneration EventStatus = "list_generation"
	EventReview         EventStatus = "review"
	EventReady          EventStatus = "ready"
	EventComplete       EventStatus = "complete"
)

// eventFlow is the only allowed order of event statuses.
var eventFlow = []EventStatus{EventPlanning, EventListGeneration, EventReview, EventReady, EventComplete}

// Next returns the status that follows s, or false when s is final or unknown.
func (s EventStatus) Next() (EventStatus, bool) {
	for i, status := range eventFlow {
		if status == s && i+1 < len(eventFlow) {
			return eventFlow[i+1], true
		}
	}
	return "", false
}

func (s EventStatus) Valid() bool {
	for _, status := range eventFlow {
		if status == s {
			return true
		}
	}
	return false
}

// AllowsListGeneration reports whether a donor list may be (re)generated.
func (s EventStatus) AllowsListGeneration() bool {
	return s == EventPlanning || s == EventListGeneration || s == EventReview
}

// AllowsReview reports whether memberships may be edited.
func (s EventStatus) AllowsReview() bool {
	return s == EventReview
}

// Event is a fundraising occasion.
type Event struct {
	gorm.Model
	Name      string     `gorm:"not null" json:"name"`
	EventDate *time.Time `json:"event_date,omitempty"`
	Capacity  int        `gorm:"default:0" json:"capacity"`

	// Eligibility criteria
	MinGivingLevel decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"min_giving_level"`
	FocusArea      string          `json:"focus_area,omitempty"`
	City           string          `json:"city,omitempty"`

	Status    EventStatus `gorm:"not null;default:'planning'" json:"status"`
	CreatedBy string      `json:"created_by,omitempty"`

	DonorList *DonorList `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"donor_list,omitempty"`
}

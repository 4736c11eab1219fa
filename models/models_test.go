package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagSet(t *testing.T) {
	t.Run("Should normalise and dedupe tags", func(t *testing.T) {
		tags := NewTagSet(" Gala ", "board", "gala", "", "BOARD")

		assert.Equal(t, TagSet{"board", "gala"}, tags)
	})

	t.Run("Should produce the same stored form regardless of order", func(t *testing.T) {
		a := ParseTagSet("major,gala,board")
		b := ParseTagSet("board, Gala ,major")

		assert.Equal(t, a.String(), b.String())
		assert.Equal(t, "board,gala,major", a.String())
	})

	t.Run("Should union without duplication", func(t *testing.T) {
		existing := ParseTagSet("board,gala")
		incoming := ParseTagSet("gala,alumni")

		union := existing.Union(incoming)
		assert.Equal(t, TagSet{"alumni", "board", "gala"}, union)

		// Union is idempotent
		assert.Equal(t, union, union.Union(incoming))
	})

	t.Run("Should round-trip through Value and Scan", func(t *testing.T) {
		tags := NewTagSet("gala", "board")
		v, err := tags.Value()
		require.NoError(t, err)

		var scanned TagSet
		require.NoError(t, scanned.Scan(v))
		assert.Equal(t, tags, scanned)

		require.NoError(t, scanned.Scan([]byte("x,y")))
		assert.Equal(t, TagSet{"x", "y"}, scanned)

		require.NoError(t, scanned.Scan(nil))
		assert.Empty(t, scanned)

		assert.Error(t, scanned.Scan(42))
	})

	t.Run("Should match tags case-insensitively", func(t *testing.T) {
		tags := ParseTagSet("education,arts")
		assert.True(t, tags.Contains(" Education"))
		assert.False(t, tags.Contains("health"))
	})
}

func TestDonorValidate(t *testing.T) {
	tests := []struct {
		name    string
		donor   Donor
		wantErr error
	}{
		{name: "individual", donor: Donor{FirstName: "Ada", LastName: "Lovelace"}},
		{name: "last name only", donor: Donor{LastName: "Hopper"}},
		{name: "organization", donor: Donor{OrganizationName: "Acme Foundation"}},
		{name: "no identity", donor: Donor{City: "Austin"}, wantErr: ErrMissingIdentity},
		{name: "whitespace identity", donor: Donor{FirstName: "  "}, wantErr: ErrMissingIdentity},
		{name: "both identities", donor: Donor{FirstName: "Ada", OrganizationName: "Acme"}, wantErr: ErrAmbiguousIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.donor.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEventStatus(t *testing.T) {
	t.Run("Should walk the event flow in order", func(t *testing.T) {
		status := EventPlanning
		var seen []EventStatus
		for {
			next, ok := status.Next()
			if !ok {
				break
			}
			seen = append(seen, next)
			status = next
		}
		assert.Equal(t, []EventStatus{EventListGeneration, EventReview, EventReady, EventComplete}, seen)
	})

	t.Run("Should only allow review edits in review", func(t *testing.T) {
		assert.True(t, EventReview.AllowsReview())
		assert.False(t, EventReady.AllowsReview())
		assert.False(t, EventPlanning.AllowsReview())
	})

	t.Run("Should allow generation before the list is ready", func(t *testing.T) {
		assert.True(t, EventPlanning.AllowsListGeneration())
		assert.True(t, EventReview.AllowsListGeneration())
		assert.False(t, EventReady.AllowsListGeneration())
		assert.False(t, EventComplete.AllowsListGeneration())
	})
}

func TestIdentityKey(t *testing.T) {
	t.Run("Should normalise individual names", func(t *testing.T) {
		a, err := IdentityKey("  Ada ", "LOVELACE", "")
		require.NoError(t, err)
		b, err := IdentityKey("ada", "  lovelace", "")
		require.NoError(t, err)

		assert.Equal(t, "ind:ada|lovelace", a)
		assert.Equal(t, a, b)
	})

	t.Run("Should collapse inner whitespace in organization names", func(t *testing.T) {
		key, err := IdentityKey("", "", "  Acme   Family  Foundation ")
		require.NoError(t, err)
		assert.Equal(t, "org:acme family foundation", key)
	})

	t.Run("Should keep organizations and individuals apart", func(t *testing.T) {
		org, _ := IdentityKey("", "", "Smith")
		ind, _ := IdentityKey("", "Smith", "")
		assert.NotEqual(t, org, ind)
	})

	t.Run("Should reject missing and ambiguous identities", func(t *testing.T) {
		_, err := IdentityKey(" ", "", "")
		assert.ErrorIs(t, err, ErrMissingIdentity)

		_, err = IdentityKey("Ada", "", "Acme")
		assert.ErrorIs(t, err, ErrAmbiguousIdentity)
	})
}

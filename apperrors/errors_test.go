package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	t.Run("Should classify wrapped errors by kind", func(t *testing.T) {
		err := fmt.Errorf("generate: %w", StateConflict("event %d is not editable", 7))

		assert.True(t, IsStateConflict(err))
		assert.False(t, IsValidation(err))
		assert.Equal(t, KindStateConflict, KindOf(err))
		assert.Equal(t, "generate: event 7 is not editable", err.Error())
	})

	t.Run("Should match sentinels through errors.Is", func(t *testing.T) {
		sentinel := Validation("unsupported file format")
		err := fmt.Errorf("open upload: %w", sentinel)

		assert.True(t, errors.Is(err, sentinel))
		assert.False(t, errors.Is(err, Validation("file exceeds size limit")))
	})

	t.Run("Should keep the cause of job fatal errors", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := JobFatal(cause, "storage unavailable")

		assert.True(t, IsJobFatal(err))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "storage unavailable: connection refused", err.Error())
	})

	t.Run("Should return empty kind for plain errors", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	})
}

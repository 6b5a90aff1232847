package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeConflict, "still in use")
		assert.True(t, HasCode(err, CodeConflict))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("matches wrapped code", func(t *testing.T) {
		inner := New(CodeNotFound, "entity missing")
		outer := Wrap(inner, CodeInternal, "delete failed")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeNotFound))
	})

	t.Run("survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("context: %w", New(CodeValidation, "bad period"))
		assert.True(t, HasCode(err, CodeValidation))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWithFields(t *testing.T) {
	err := WithFields(CodeValidation, "draft is incomplete", "period_from", "contact_id")
	require.True(t, HasCode(err, CodeValidation))
	assert.Equal(t, []string{"period_from", "contact_id"}, FieldsOf(err))
	assert.Equal(t, "draft is incomplete", MessageOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

package apperrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"rewind/internal/apperrors"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := apperrors.Validationf("action_agent", cause)

	assert.ErrorIs(t, err, apperrors.Validation)
	assert.False(t, errors.Is(err, apperrors.TransientIO))
	assert.ErrorIs(t, err, cause)

	kind, ok := apperrors.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperrors.KindValidation, kind)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, apperrors.Wrap(apperrors.KindConfig, "store", nil))
}

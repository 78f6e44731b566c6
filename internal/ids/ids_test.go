package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rewind/internal/ids"
)

func TestNewIsUniqueAndNonEmpty(t *testing.T) {
	a := ids.New()
	b := ids.New()

	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}

package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheck(t *testing.T) {
	h, err := HashCost("hunter2", FastCost)
	require.NoError(t, err)
	assert.NotContains(t, h, "hunter2")

	assert.NoError(t, Check(h, "hunter2"))
	assert.ErrorIs(t, Check(h, "hunter3"), ErrMismatch)
	assert.Error(t, Check("!!not base64!!", "hunter2"))
}

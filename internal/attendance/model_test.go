package attendance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
)

func TestWithRotationSecret(t *testing.T) {
	fresh, err := attendance.User{ID: "u1"}.WithRotationSecret()
	require.NoError(t, err)
	assert.Len(t, fresh.RotationSecret, 64)

	other, err := attendance.User{ID: "u2"}.WithRotationSecret()
	require.NoError(t, err)
	assert.NotEqual(t, fresh.RotationSecret, other.RotationSecret)

	kept, err := fresh.WithRotationSecret()
	require.NoError(t, err)
	assert.Equal(t, fresh.RotationSecret, kept.RotationSecret)
}

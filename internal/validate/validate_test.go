package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

func TestValidator(t *testing.T) {
	t.Parallel()
	v := New()

	require.NoError(t, v.Validate(&credentials{Username: "testuser", Password: "password"}))

	err := v.Validate(&credentials{Username: "testuser"})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "field 'Password' is required", err.Error())
}

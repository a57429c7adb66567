package authclient_test

import (
	"testing"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "Valid password", password: "securePassword123!"},
		{name: "Empty password", password: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := authclient.HashPassword(tt.password)
			if tt.wantErr {
				assert.ErrorIs(t, err, authclient.ErrInvalidInput)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, authclient.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	hash, err := authclient.HashPassword("testPassword123!")
	require.NoError(t, err)

	assert.NoError(t, authclient.ComparePasswordAndHash("testPassword123!", hash))
	assert.ErrorIs(t, authclient.ComparePasswordAndHash("wrongPassword", hash), authclient.ErrInvalidCredential)
	assert.Error(t, authclient.ComparePasswordAndHash("testPassword123!", "not-a-hash"))
}

func TestBurnPasswordCompareDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { authclient.BurnPasswordCompare("anything") })
}

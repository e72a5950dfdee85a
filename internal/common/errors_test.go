package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad"), KindValidation},
		{"authentication", Authentication("no"), KindAuthentication},
		{"authorization", Authorization("nope"), KindAuthorization},
		{"not found", NotFound("gone"), KindNotFound},
		{"dependency", Dependency("down", errors.New("db")), KindDependency},
		{"wrapped", fmt.Errorf("outer: %w", Authentication("no")), KindAuthentication},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_MessageHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Dependency("something went wrong", cause)

	assert.Equal(t, "something went wrong", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Cause(), "connection refused")
}

func TestError_IsMatchesKindAndMessage(t *testing.T) {
	sentinel := Authentication("Incorrect email or password")

	assert.True(t, errors.Is(Authentication("Incorrect email or password"), sentinel))
	assert.False(t, errors.Is(Authentication("other"), sentinel))
	assert.False(t, errors.Is(Validation("Incorrect email or password"), sentinel))
}

func TestMakeRandHexString(t *testing.T) {
	s, err := MakeRandHexString(32)
	require.NoError(t, err)
	assert.Len(t, s, 64)

	other, err := MakeRandHexString(32)
	require.NoError(t, err)
	assert.NotEqual(t, s, other)

	empty, err := MakeRandHexString(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWipeByteArray(t *testing.T) {
	buf := GenerateRandByteArray(16)
	require.Len(t, buf, 16)

	WipeByteArray(buf)
	assert.Equal(t, make([]byte, 16), buf)

	WipeByteArray(nil)
}

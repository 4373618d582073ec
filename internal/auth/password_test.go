package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("secret1")
	req.NoError(err)
	req.NotEqual("secret1", hash)
	req.True(PasswordMatches(hash, "secret1"))
	req.False(PasswordMatches(hash, "secret2"))
	req.False(PasswordMatches("not-a-hash", "secret1"))

	_, err = HashPassword(strings.Repeat("p", maxPasswordBytes+1))
	req.Error(err)
}

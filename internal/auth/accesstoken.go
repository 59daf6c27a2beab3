package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessTokenTTL is how long an emailed survey link stays usable.
const AccessTokenTTL = 7 * 24 * time.Hour

// AccessTokenGenerator mints survey access tokens.
type AccessTokenGenerator interface {
	NewAccessToken() (string, error)
}

// UUIDTokens issues random (version 4) UUIDs. uuid.NewRandom reads from
// crypto/rand, so tokens are unguessable as well as unique.
type UUIDTokens struct{}

func (UUIDTokens) NewAccessToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("auth: generating access token: %w", err)
	}
	return id.String(), nil
}

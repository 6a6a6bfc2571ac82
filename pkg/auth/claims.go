package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ActorID     uuid.UUID
	Permissions []enums.Permission
	JTI         string
}

// AccessTokenClaims represents the typed JWT presented by staff terminals and
// the student portal. Permission codes are resolved upstream by the identity service.
type AccessTokenClaims struct {
	ActorID     uuid.UUID          `json:"actor_id"`
	Permissions []enums.Permission `json:"permissions"`
	jwt.RegisteredClaims
}

// Actor converts the claims into a capability set, dropping unknown codes.
func (c *AccessTokenClaims) Actor() Actor {
	return NewActor(c.ActorID, c.Permissions...)
}

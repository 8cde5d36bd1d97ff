package auth

import (
	"context"
	"errors"
	"time"

	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/golang-jwt/jwt/v5"
)

const defaultIdClaim = "id"

// JWTResolver verifies HMAC signed tokens. The user id is taken from the configured claim, falling back to "sub".
type JWTResolver struct {
	secret  []byte
	idClaim string
	users   UserLookup
}

func NewJWTResolver(secret []byte, idClaim string, users UserLookup) *JWTResolver {
	if idClaim == "" {
		idClaim = defaultIdClaim
	}
	return &JWTResolver{secret: secret, idClaim: idClaim, users: users}
}

func (r *JWTResolver) ResolveIdentity(ctx context.Context, cred Credential) (*types.Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(cred.Token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, types.NewAuthenticationError(err, "credential expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, types.NewAuthenticationError(err, "malformed credential")
	case err != nil || !token.Valid:
		return nil, types.NewAuthenticationError(err, "invalid credential")
	}
	userId, _ := claims[r.idClaim].(string)
	if userId == "" {
		userId, _ = claims.GetSubject()
	}
	if userId == "" {
		return nil, types.NewAuthenticationError(nil, "credential carries no user id")
	}
	return resolved(r.users.GetUser(ctx, userId))
}

// IssueToken signs a HS256 token for userId. It is used by the admin tool to hand out development credentials.
func IssueToken(secret []byte, idClaim, userId string, ttl time.Duration) (string, error) {
	if idClaim == "" {
		idClaim = defaultIdClaim
	}
	now := time.Now()
	claims := jwt.MapClaims{
		idClaim: userId,
		"sub":   userId,
		"iat":   now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/persistence"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/hashicorp/go-hclog"
)

// Credential is the opaque bearer credential presented at handshake time. Provider selects the OIDC provider and is
// ignored for JWT credentials.
type Credential struct {
	Token    string
	Provider string
}

// IdentityResolver verifies a credential and resolves it to a known identity.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, cred Credential) (*types.Identity, error)
}

// UserLookup is the part of the store the resolvers need.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*types.Identity, error)
	GetUserByEmail(ctx context.Context, email string) (*types.Identity, error)
}

// NewResolver returns the resolver selected by the auth configuration.
func NewResolver(cfg config.AuthConfig, users UserLookup) (IdentityResolver, error) {
	switch cfg.Type {
	case "", "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth.jwt_secret is required for jwt authentication")
		}
		return NewJWTResolver([]byte(cfg.JWTSecret), cfg.JWTIdClaim, users), nil
	case "oidc":
		if len(cfg.OIDCConfigs) == 0 {
			return nil, fmt.Errorf("at least one auth.oidc provider is required for oidc authentication")
		}
		return NewOIDCResolver(cfg.OIDCConfigs, users), nil
	}
	return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
}

// resolved maps the outcome of a store lookup, an identity that no longer exists is an authentication failure.
func resolved(user *types.Identity, err error) (*types.Identity, error) {
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, types.NewAuthenticationError(err, "unknown identity")
		}
		return nil, err
	}
	return user, nil
}

// Gatekeeper authenticates new connections.
type Gatekeeper struct {
	resolver IdentityResolver
	logger   hclog.Logger
}

func NewGatekeeper(resolver IdentityResolver, logger hclog.Logger) *Gatekeeper {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Gatekeeper{resolver: resolver, logger: logger}
}

// Authenticate returns the identity for cred. Every failure, including store errors, is reported as an
// authentication error, a connection is never admitted partially.
func (g *Gatekeeper) Authenticate(ctx context.Context, cred Credential) (*types.Identity, error) {
	if cred.Token == "" {
		return nil, types.NewAuthenticationError(nil, "missing credential")
	}
	identity, err := g.resolver.ResolveIdentity(ctx, cred)
	if err != nil {
		g.logger.Info("authentication failed", "error", err)
		if types.IsKind(err, types.ErrorKindAuthentication) {
			return nil, err
		}
		return nil, types.NewAuthenticationError(err, "credential could not be verified")
	}
	if identity == nil || identity.Id == "" {
		return nil, types.NewAuthenticationError(nil, "unknown identity")
	}
	g.logger.Debug("authenticated", "identity", identity.Id)
	return identity, nil
}

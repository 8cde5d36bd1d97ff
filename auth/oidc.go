package auth

import (
	"context"
	"sync"

	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/sync/singleflight"
)

// OIDCResolver verifies ID tokens of the configured OpenID Connect providers. Users are matched by the verified
// e-mail address, so it must be unique across the user base.
type OIDCResolver struct {
	configs map[string]config.OIDCConfig
	users   UserLookup

	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
	discovery singleflight.Group
}

func NewOIDCResolver(configs []config.OIDCConfig, users UserLookup) *OIDCResolver {
	byName := make(map[string]config.OIDCConfig, len(configs))
	for _, c := range configs {
		byName[c.Name] = c
	}
	return &OIDCResolver{configs: byName, users: users, verifiers: make(map[string]*oidc.IDTokenVerifier)}
}

// verifier discovers the provider on first use and caches the result. Concurrent first uses of a provider share
// one discovery and never hold the mutex while it runs.
func (r *OIDCResolver) verifier(ctx context.Context, name string) (*oidc.IDTokenVerifier, error) {
	oidcConf, ok := r.configs[name]
	if !ok {
		return nil, types.NewAuthenticationError(nil, "unknown provider %q", name)
	}
	r.mu.Lock()
	v, ok := r.verifiers[name]
	r.mu.Unlock()
	if ok {
		return v, nil
	}
	res, err, _ := r.discovery.Do(name, func() (interface{}, error) {
		provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
		if err != nil {
			return nil, err
		}
		conf := oidc.Config{}
		if oidcConf.ClientId == "" {
			conf.SkipClientIDCheck = true
		} else {
			conf.ClientID = oidcConf.ClientId
		}
		v := provider.Verifier(&conf)
		r.mu.Lock()
		r.verifiers[name] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*oidc.IDTokenVerifier), nil
}

func (r *OIDCResolver) ResolveIdentity(ctx context.Context, cred Credential) (*types.Identity, error) {
	name := cred.Provider
	if name == "" && len(r.configs) == 1 {
		for n := range r.configs {
			name = n
		}
	}
	verifier, err := r.verifier(ctx, name)
	if err != nil {
		return nil, err
	}
	idToken, err := verifier.Verify(ctx, cred.Token)
	if err != nil {
		return nil, types.NewAuthenticationError(err, "invalid id token")
	}
	claims := struct {
		Email string `json:"email"`
	}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, types.NewAuthenticationError(err, "invalid id token claims")
	}
	if claims.Email == "" {
		return nil, types.NewAuthenticationError(nil, "id token carries no e-mail address")
	}
	return resolved(r.users.GetUserByEmail(ctx, claims.Email))
}

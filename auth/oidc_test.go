package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sourabh10122002/talkie-server/config"
	"github.com/Sourabh10122002/talkie-server/testutil"
	"github.com/Sourabh10122002/talkie-server/types"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDCDiscoveryIsSharedAndUnlocked(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	var releaseOnce sync.Once
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&hits, 1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"issuer":%q,"jwks_uri":%q}`, srv.URL, srv.URL+"/keys")
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	r := NewOIDCResolver([]config.OIDCConfig{{Name: "test", ProviderUrl: srv.URL}}, testutil.NewStore(t))
	ctx := context.Background()

	const n = 5
	verifiers := make([]*oidc.IDTokenVerifier, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verifiers[i], errs[i] = r.verifier(ctx, "test")
		}(i)
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, 2*time.Second, 5*time.Millisecond)

	// discovery is pending, other lookups still go through
	locked := make(chan struct{})
	go func() {
		r.mu.Lock()
		r.mu.Unlock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("resolver mutex held during discovery")
	}
	_, err := r.verifier(ctx, "other")
	assert.True(t, types.IsKind(err, types.ErrorKindAuthentication), "%v", err)

	time.Sleep(50 * time.Millisecond)
	releaseOnce.Do(func() { close(release) })
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, verifiers[0], verifiers[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	cached, err := r.verifier(ctx, "test")
	require.NoError(t, err)
	assert.Same(t, verifiers[0], cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOIDCDiscoveryFailureIsNotCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewOIDCResolver([]config.OIDCConfig{{Name: "test", ProviderUrl: srv.URL}}, testutil.NewStore(t))
	_, err := r.verifier(context.Background(), "test")
	assert.Error(t, err)
	_, err = r.verifier(context.Background(), "test")
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

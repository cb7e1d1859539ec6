// ABOUTME: Tests for JWKS-backed verification of inbound service tokens
// ABOUTME: Spins up a fake OpenID metadata + JWKS endpoint and signs real tokens

package botauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentityProvider struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server
}

func newFakeIdentityProvider(t *testing.T) *fakeIdentityProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeIdentityProvider{key: key, kid: "test-key-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   "https://api.botframework.com",
			"jwks_uri": p.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		pub := &key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": p.kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeIdentityProvider) sign(t *testing.T, claims jwt.MapClaims, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	raw, err := token.SignedString(p.key)
	require.NoError(t, err)
	return raw
}

func serviceClaims(appID string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": "https://api.botframework.com",
		"aud": appID,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
		"serviceurl": "https://smba.trafficmanager.net/teams/",
	}
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	p := newFakeIdentityProvider(t)
	v := NewVerifier("app-1", p.server.URL+"/metadata", nil)

	raw := p.sign(t, serviceClaims("app-1"), p.kid)
	claims, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "https://smba.trafficmanager.net/teams/", claims["serviceurl"])
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	p := newFakeIdentityProvider(t)
	v := NewVerifier("app-1", p.server.URL+"/metadata", nil)

	raw := p.sign(t, serviceClaims("someone-else"), p.kid)
	_, err := v.Verify(context.Background(), raw)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	p := newFakeIdentityProvider(t)
	v := NewVerifier("app-1", p.server.URL+"/metadata", nil)

	claims := serviceClaims("app-1")
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err := v.Verify(context.Background(), p.sign(t, claims, p.kid))
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	p := newFakeIdentityProvider(t)
	v := NewVerifier("app-1", p.server.URL+"/metadata", nil)

	_, err := v.Verify(context.Background(), p.sign(t, serviceClaims("app-1"), "other-kid"))
	assert.Error(t, err)
}

func TestVerifyCachesKeysAcrossCalls(t *testing.T) {
	p := newFakeIdentityProvider(t)
	v := NewVerifier("app-1", p.server.URL+"/metadata", nil)

	_, err := v.Verify(context.Background(), p.sign(t, serviceClaims("app-1"), p.kid))
	require.NoError(t, err)

	// Keys are cached; a second verification succeeds even if the
	// provider goes away.
	p.server.Close()
	_, err = v.Verify(context.Background(), p.sign(t, serviceClaims("app-1"), p.kid))
	assert.NoError(t, err)
}

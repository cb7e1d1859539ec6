// ABOUTME: Inbound webhook JWT verification against the Bot Framework JWKS
// ABOUTME: Caches signing keys from the published OpenID metadata document

package botauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OpenIDMetadataURL is the Bot Framework channel OpenID configuration.
const OpenIDMetadataURL = "https://login.botframework.com/v1/.well-known/openidconfiguration"

// botServiceIssuer is the issuer the channel service signs tokens with.
const botServiceIssuer = "https://api.botframework.com"

// keyRefreshInterval bounds how long signing keys are served from cache.
const keyRefreshInterval = 24 * time.Hour

type openIDMetadata struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Verifier validates inbound Bot Framework service JWTs: RS256 signature
// against the published JWKS, issuer, and audience (the bot app id).
type Verifier struct {
	appID       string
	metadataURL string
	client      *http.Client
	logger      *slog.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewVerifier creates a verifier for the given bot app id. metadataURL is
// overridable for tests; empty selects the production endpoint.
func NewVerifier(appID, metadataURL string, logger *slog.Logger) *Verifier {
	if metadataURL == "" {
		metadataURL = OpenIDMetadataURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		appID:       appID,
		metadataURL: metadataURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With("component", "botauth"),
	}
}

// Verify parses and validates a raw bearer token. It returns the validated
// claims or an error describing the first check that failed.
func (v *Verifier) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	keyfunc := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		key, err := v.signingKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(botServiceIssuer),
		jwt.WithAudience(v.appID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("validating service token: %w", err)
	}
	return claims, nil
}

// signingKey returns the RSA key for kid, refreshing the JWKS cache when the
// kid is unknown or the cache has aged out.
func (v *Verifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < keyRefreshInterval {
		return key, nil
	}

	if err := v.refreshLocked(ctx); err != nil {
		return nil, err
	}

	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key for kid %q", kid)
	}
	return key, nil
}

func (v *Verifier) refreshLocked(ctx context.Context) error {
	meta, err := v.fetchJSON(ctx, v.metadataURL)
	if err != nil {
		return fmt.Errorf("fetching openid metadata: %w", err)
	}
	var md openIDMetadata
	if err := json.Unmarshal(meta, &md); err != nil {
		return fmt.Errorf("parsing openid metadata: %w", err)
	}

	raw, err := v.fetchJSON(ctx, md.JWKSURI)
	if err != nil {
		return fmt.Errorf("fetching jwks: %w", err)
	}
	var doc jwksDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parsing jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			v.logger.Warn("skipping unparseable jwks key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks document contained no usable RSA keys")
	}

	v.keys = keys
	v.fetchedAt = time.Now()
	v.logger.Debug("refreshed signing keys", "count", len(keys))
	return nil
}

func (v *Verifier) fetchJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func parseRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/igorsilveira/switchboard/pkg/a2a"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid push token")
	ErrTokenExpired = errors.New("push token expired")
	ErrBodyMismatch = errors.New("request body hash mismatch")
)

// DefaultMaxAge is how old a token's iat may be.
const DefaultMaxAge = 5 * time.Minute

// Verifier checks notification tokens against the JWKS of every agent it was
// told about. Key sets are cached and refreshed in the background.
type Verifier struct {
	cache  *jwk.Cache
	maxAge time.Duration
	now    func() time.Time

	mu   sync.RWMutex
	urls []string
}

type VerifierOption func(*Verifier)

func WithMaxAge(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.maxAge = d }
}

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier whose cache lives as long as ctx.
func NewVerifier(ctx context.Context, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		cache:  jwk.NewCache(ctx),
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// AddAgent registers the JWKS published by the agent at agentURL and fetches
// it once.
func (v *Verifier) AddAgent(ctx context.Context, agentURL string, hc *http.Client) error {
	jwksURL := strings.TrimRight(agentURL, "/") + a2a.JWKSPath

	var regOpts []jwk.RegisterOption
	regOpts = append(regOpts, jwk.WithMinRefreshInterval(15*time.Minute))
	if hc != nil {
		regOpts = append(regOpts, jwk.WithHTTPClient(hc))
	}
	if err := v.cache.Register(jwksURL, regOpts...); err != nil {
		return fmt.Errorf("registering %s: %w", jwksURL, err)
	}
	if _, err := v.cache.Refresh(ctx, jwksURL); err != nil {
		return fmt.Errorf("fetching %s: %w", jwksURL, err)
	}

	v.mu.Lock()
	v.urls = append(v.urls, jwksURL)
	v.mu.Unlock()
	return nil
}

// Verify checks the Authorization header against body: the token must be
// signed by a known agent key, carry an iat no older than the max age and a
// body hash equal to the sha256 of the compact JSON body.
func (v *Verifier) Verify(ctx context.Context, authorization string, body []byte) error {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return ErrMissingToken
	}

	tok, err := v.parse(ctx, []byte(raw))
	if err != nil {
		return err
	}

	if v.now().Sub(tok.IssuedAt()) > v.maxAge {
		return ErrTokenExpired
	}

	claim, _ := tok.Get(BodyHashClaim)
	want, _ := claim.(string)
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return fmt.Errorf("%w: body is not JSON", ErrBodyMismatch)
	}
	if want == "" || want != bodyHash(compact.Bytes()) {
		return ErrBodyMismatch
	}
	return nil
}

func (v *Verifier) parse(ctx context.Context, raw []byte) (jwt.Token, error) {
	v.mu.RLock()
	urls := append([]string(nil), v.urls...)
	v.mu.RUnlock()
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no agent keys registered", ErrInvalidToken)
	}

	var lastErr error
	for _, u := range urls {
		set, err := v.cache.Get(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		tok, err := jwt.Parse(raw,
			jwt.WithKeySet(set),
			jwt.WithValidate(true),
			jwt.WithRequiredClaim(jwt.IssuedAtKey),
			jwt.WithRequiredClaim(BodyHashClaim),
			jwt.WithClock(jwt.ClockFunc(v.now)),
			jwt.WithAcceptableSkew(30*time.Second),
		)
		if err == nil {
			return tok, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidToken, lastErr)
}

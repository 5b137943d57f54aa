// Package push signs, delivers and verifies A2A push notifications. Agents
// sign a JWT carrying the sha256 of the request body; receivers check it
// against the agent's published JWKS.
package push

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/igorsilveira/switchboard/pkg/a2a"
)

// BodyHashClaim holds the hex sha256 of the compact JSON request body.
const BodyHashClaim = "request_body_sha256"

// Signer signs notifications with an RSA key generated at startup and serves
// the public half as a JWKS. It satisfies a2a.Notifier.
type Signer struct {
	key        jwk.Key
	public     jwk.Set
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	verified map[string]bool
}

type SignerOption func(*Signer)

func WithSignerHTTPClient(hc *http.Client) SignerOption {
	return func(s *Signer) { s.httpClient = hc }
}

func WithSignerLogger(l *slog.Logger) SignerOption {
	return func(s *Signer) { s.logger = l }
}

func NewSigner(opts ...SignerOption) (*Signer, error) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, fmt.Errorf("wrapping signing key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, uuid.NewString()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, err
	}

	s := &Signer{
		key:        key,
		public:     set,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
		verified:   make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// JWKS serves the public key set.
func (s *Signer) JWKS() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.public)
	})
}

// Token signs a JWT binding the current time to body.
func (s *Signer) Token(body []byte) (string, error) {
	tok := jwt.New()
	if err := tok.Set(jwt.IssuedAtKey, s.now()); err != nil {
		return "", err
	}
	if err := tok.Set(BodyHashClaim, bodyHash(body)); err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	if err != nil {
		return "", fmt.Errorf("signing push token: %w", err)
	}
	return string(signed), nil
}

// Notify posts task to cfg.URL. The URL is checked with a validation token
// the first time it is seen.
func (s *Signer) Notify(ctx context.Context, cfg a2a.PushNotificationConfig, task a2a.Task) error {
	if err := s.verifyURL(ctx, cfg.URL); err != nil {
		return err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	token, err := s.Token(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification rejected with %d", resp.StatusCode)
	}
	s.logger.Info("push notification sent",
		slog.String("task_id", task.ID),
		slog.String("state", string(task.Status.State)),
	)
	return nil
}

// verifyURL sends a random validation token and expects it echoed back.
func (s *Signer) verifyURL(ctx context.Context, target string) error {
	s.mu.Lock()
	ok := s.verified[target]
	s.mu.Unlock()
	if ok {
		return nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid notification url: %w", err)
	}
	challenge := uuid.NewString()
	q := u.Query()
	q.Set("validationToken", challenge)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validating notification url: %w", err)
	}
	defer resp.Body.Close()
	echo, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK || string(echo) != challenge {
		return fmt.Errorf("notification url %s failed validation", target)
	}

	s.mu.Lock()
	s.verified[target] = true
	s.mu.Unlock()
	return nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

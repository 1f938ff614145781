package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/roomboard/passledger/internal/cacheutil"
	"github.com/roomboard/passledger/internal/circuitbreaker"
	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/httputil"
)

var (
	// ErrUnauthenticated means the token was rejected or did not map to a user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrIdentityUnavailable means the identity provider could not be reached.
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
)

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
}

// Resolver maps a bearer token to an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// HTTPResolver asks an external identity endpoint who owns a token.
// Successful lookups are cached briefly and concurrent lookups of the same token share one call.
type HTTPResolver struct {
	url      string
	apiKey   string
	client   *http.Client
	timeout  time.Duration
	breakers *circuitbreaker.Manager
	cache    *cacheutil.TTLCache[Identity]
	group    singleflight.Group
	logger   zerolog.Logger
}

// NewHTTPResolver builds a resolver from config. It returns nil when no URL is configured.
func NewHTTPResolver(cfg config.IdentityConfig, breakers *circuitbreaker.Manager, logger zerolog.Logger) *HTTPResolver {
	if cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPResolver{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		client:   httputil.NewClient(timeout),
		timeout:  timeout,
		breakers: breakers,
		cache:    cacheutil.NewTTLCache[Identity](cfg.CacheTTL.Duration, 4096),
		logger:   logger,
	}
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolve returns the identity for token, or ErrUnauthenticated / ErrIdentityUnavailable.
func (r *HTTPResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	key := tokenCacheKey(token)
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Shared by every waiter on this key, so the first caller's cancellation must not end it
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		res, err := r.breakers.Execute(circuitbreaker.ServiceIdentity, func() (interface{}, error) {
			id, err := r.fetch(fctx, token)
			if errors.Is(err, ErrUnauthenticated) {
				// A rejected token is a healthy provider response
				return lookup{rejected: true}, nil
			}
			return lookup{identity: id}, err
		})
		if err != nil {
			if circuitbreaker.IsOpen(err) {
				return Identity{}, fmt.Errorf("%w: circuit open", ErrIdentityUnavailable)
			}
			return Identity{}, err
		}
		result := res.(lookup)
		if result.rejected {
			return Identity{}, ErrUnauthenticated
		}
		r.cache.Set(key, result.identity)
		return result.identity, nil
	})
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			r.logger.Warn().Err(err).Msg("identity.resolve_failed")
		}
		return Identity{}, err
	}
	return v.(Identity), nil
}

type lookup struct {
	identity Identity
	rejected bool
}

func (r *HTTPResolver) fetch(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	body, err := httputil.ReadBody(resp, 64<<10)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Identity{}, ErrUnauthenticated
	case resp.StatusCode >= 500:
		return Identity{}, fmt.Errorf("%w: status %d", ErrIdentityUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Identity{}, ErrUnauthenticated
	}

	var id Identity
	if err := json.Unmarshal(body, &id); err != nil {
		return Identity{}, fmt.Errorf("%w: decode response: %v", ErrIdentityUnavailable, err)
	}
	if _, err := uuid.Parse(id.UserID); err != nil {
		return Identity{}, ErrUnauthenticated
	}
	id.UserID = strings.ToLower(id.UserID)
	return id, nil
}

// StaticResolver maps fixed tokens to identities, for the CLI and tests.
type StaticResolver map[string]Identity

func (s StaticResolver) Resolve(_ context.Context, token string) (Identity, error) {
	id, ok := s[token]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/paydesk/internal/processor/domain"
	"golang.org/x/sync/singleflight"
)

const tokenSafetyMargin = 60 * time.Second

var errMissingCredentials = errors.New("paypal_credentials_missing")

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// tokenSource caches the client-credentials token until shortly before it
// expires. Concurrent refreshes share one upstream call.
type tokenSource struct {
	client *Client
	group  singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(c *Client) *tokenSource {
	return &tokenSource{client: c}
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	ch := s.group.DoChan("token", func() (any, error) {
		if token, ok := s.cached(); ok {
			return token, nil
		}
		// The refresh outlives any single caller's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.client.cfg.UpstreamTimeout)
		defer cancel()
		return s.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("oauth.token: %w", domain.ErrUpstreamTimeout)
		}
		return "", ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

// Invalidate drops the cached token, forcing the next call to refresh.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *tokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.client.clock.Now().Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

func (s *tokenSource) fetch(ctx context.Context) (string, error) {
	cfg := s.client.cfg
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.Secret) == "" {
		return "", errMissingCredentials
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(cfg.ClientID, cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token tokenResponse
	if _, err := s.client.exchange(ctx, "oauth.token", req, &token); err != nil {
		return "", err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("%w: oauth.token: empty access token", domain.ErrUpstream)
	}

	ttl := time.Duration(token.ExpiresIn) * time.Second
	switch {
	case ttl > 2*tokenSafetyMargin:
		ttl -= tokenSafetyMargin
	case ttl > 0:
		ttl /= 2
	}

	s.mu.Lock()
	s.token = token.AccessToken
	s.expiresAt = s.client.clock.Now().Add(ttl)
	s.mu.Unlock()

	return token.AccessToken, nil
}

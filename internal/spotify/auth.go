package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/cache"
	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
	"github.com/KennXion/follow-swarm/pkg/telemetry"
)

// RefreshTokenStore supplies a user's decrypted refresh token. Credential
// storage and encryption are owned by the auth subsystem; the engine only
// consumes tokens through this boundary.
type RefreshTokenStore interface {
	RefreshToken(ctx context.Context, userID int64) (string, error)
}

// TokenProvider delivers a currently valid access token for a user
type TokenProvider interface {
	AccessToken(ctx context.Context, userID int64) (string, error)
}

// Authenticator implements TokenProvider with the refresh-token grant,
// caching the most recently issued token until shortly before expiry
type Authenticator struct {
	accountsURL  string
	clientID     string
	clientSecret string
	store        RefreshTokenStore
	cache        *cache.Cache
	http         *http.Client
	logger       *zap.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(cfg *config.SpotifyConfig, store RefreshTokenStore, redisCache *cache.Cache) *Authenticator {
	return &Authenticator{
		accountsURL:  strings.TrimRight(cfg.AccountsURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		store:        store,
		cache:        redisCache,
		http:         &http.Client{Timeout: cfg.Timeout},
		logger:       logging.GetLogger().With(zap.String("component", "spotify-auth")),
	}
}

// AccessToken returns a valid access token for the user, refreshing when the
// cached one has expired. Any failure means the credential is unusable and
// callers must not retry.
func (a *Authenticator) AccessToken(ctx context.Context, userID int64) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "spotify.access_token")
	defer span.End()

	cacheKey := fmt.Sprintf("token:%d", userID)
	if token, err := a.cache.Get(cacheKey); err == nil && token != "" {
		return token, nil
	}

	refreshToken, err := a.store.RefreshToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load refresh token: %w", err)
	}

	token, expiresIn, err := a.refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	// Cache until a minute before expiry so a token is never served stale
	if ttl := expiresIn - time.Minute; ttl > 0 {
		if err := a.cache.Set(cacheKey, token, ttl); err != nil && err != cache.ErrCacheDisabled {
			a.logger.Warn("Failed to cache access token", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	return token, nil
}

// refresh performs the refresh-token grant against the accounts service
func (a *Authenticator) refresh(ctx context.Context, refreshToken string) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.accountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}

	basic := base64.StdEncoding.EncodeToString([]byte(a.clientID + ":" + a.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token endpoint returned empty token", ErrAuth)
	}

	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}

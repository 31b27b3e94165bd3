package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/pkg/config"
	"github.com/KennXion/follow-swarm/pkg/logging"
	"github.com/KennXion/follow-swarm/pkg/telemetry"
)

// Follow outcome errors. The worker classifies these into its retry policy:
// auth errors are permanent and surface as a credential problem, invalid
// targets are permanent, rate limiting and server errors are transient.
var (
	ErrAuth             = errors.New("spotify: authorization rejected")
	ErrTargetInvalid    = errors.New("spotify: target invalid")
	ErrAlreadyFollowing = errors.New("spotify: already following target")
	ErrRateLimited      = errors.New("spotify: rate limited")
	ErrServer           = errors.New("spotify: server error")
)

// Client wraps the platform Web API
type Client struct {
	apiURL string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a new platform API client
func NewClient(cfg *config.SpotifyConfig) *Client {
	return &Client{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logging.GetLogger().With(zap.String("component", "spotify-client")),
	}
}

// Follow follows a single artist on behalf of the token's owner.
// A follow that is already in place upstream returns ErrAlreadyFollowing
// so callers can treat it as a no-op success.
func (c *Client) Follow(ctx context.Context, token, artistSpotifyID string) error {
	ctx, span := telemetry.StartSpan(ctx, "spotify.follow")
	defer span.End()

	endpoint := fmt.Sprintf("%s/me/following?type=artist&ids=%s", c.apiURL, url.QueryEscape(artistSpotifyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build follow request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures (including timeouts) are transient
		return fmt.Errorf("follow request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := classifyStatus(resp.StatusCode, string(body))

	c.logger.Debug("Follow request rejected",
		zap.Int("status", resp.StatusCode),
		zap.String("artist", artistSpotifyID),
		zap.Error(apiErr))

	return apiErr
}

// IsFollowing checks whether the token's owner already follows the artist
func (c *Client) IsFollowing(ctx context.Context, token, artistSpotifyID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "spotify.is_following")
	defer span.End()

	endpoint := fmt.Sprintf("%s/me/following/contains?type=artist&ids=%s", c.apiURL, url.QueryEscape(artistSpotifyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build contains request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("contains request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, classifyStatus(resp.StatusCode, string(body))
	}

	var result []bool
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode contains response: %w", err)
	}
	return len(result) > 0 && result[0], nil
}

// classifyStatus maps an API status code onto the outcome errors
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrAuth, status)
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return fmt.Errorf("%w (status %d): %s", ErrTargetInvalid, status, truncate(body, 200))
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d)", ErrRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w (status %d)", ErrServer, status)
	default:
		return fmt.Errorf("spotify: unexpected status %d: %s", status, truncate(body, 200))
	}
}

// Permanent reports whether the error can never succeed on retry
func Permanent(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrTargetInvalid)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

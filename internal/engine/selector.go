package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KennXion/follow-swarm/internal/models"
	"github.com/KennXion/follow-swarm/pkg/logging"
)

// Selector produces ordered candidate targets for a user, excluding any
// artist the user already has a pending or completed follow record for.
// A target whose previous attempt failed may be offered again.
type Selector struct {
	artists TargetStore
	logger  *zap.Logger
}

// NewSelector creates a new target selector
func NewSelector(artists TargetStore) *Selector {
	return &Selector{
		artists: artists,
		logger:  logging.GetLogger().With(zap.String("component", "target-selector")),
	}
}

// Targets returns up to limit candidates ordered by popularity descending,
// with catalogue creation order as the stable tiebreak so repeated calls on
// unchanged data are deterministic. limit <= 0 returns an empty list; a limit
// beyond the available candidates returns all of them.
func (s *Selector) Targets(ctx context.Context, userID int64, limit int) ([]models.Artist, error) {
	if limit <= 0 {
		return []models.Artist{}, nil
	}

	artists, err := s.artists.Candidates(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	s.logger.Debug("Selected targets",
		zap.Int64("user_id", userID),
		zap.Int("requested", limit),
		zap.Int("returned", len(artists)))

	return artists, nil
}

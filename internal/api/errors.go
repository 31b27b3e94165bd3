package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KennXion/follow-swarm/internal/engine"
)

// respondError maps an engine error onto the HTTP response. Rate limit
// rejections carry the limits snapshot so clients can back off until the
// next available slot.
func respondError(c *gin.Context, err error) {
	var rle *engine.RateLimitError
	if errors.As(err, &rle) {
		body := gin.H{"error": "rate limit exceeded"}
		if rle.Snapshot != nil {
			body["limits"] = rle.Snapshot
			if rle.Snapshot.NextAvailableSlot != nil {
				body["nextAvailableSlot"] = rle.Snapshot.NextAvailableSlot
			}
		}
		c.JSON(http.StatusTooManyRequests, body)
		return
	}

	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrSubscriptionInsufficient):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrBatchTooLarge),
		errors.Is(err, engine.ErrTargetUnknown):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrJobNotFound),
		errors.Is(err, engine.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrQueueUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

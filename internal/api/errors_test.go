package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/KennXion/follow-swarm/internal/engine"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{&engine.RateLimitError{}, http.StatusTooManyRequests},
		{engine.ErrSubscriptionInsufficient, http.StatusForbidden},
		{engine.ErrBatchTooLarge, http.StatusBadRequest},
		{engine.ErrTargetUnknown, http.StatusBadRequest},
		{engine.ErrJobNotFound, http.StatusNotFound},
		{engine.ErrUserNotFound, http.StatusNotFound},
		{engine.ErrQueueUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", engine.ErrBatchTooLarge), http.StatusBadRequest},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

package samr

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ventro/backend/internal/core"
)

const (
	thresholdKeyPrefix = "ventro:samr:threshold:"

	candidateMin  = 0.70
	candidateMax  = 0.99
	candidateStep = 0.01

	// F-beta with beta < 1 weights precision over recall: a noisy alert
	// stream erodes reviewer trust faster than an occasional miss.
	fBeta = 0.5
)

// FeedbackSource supplies the recent reviewer feedback window.
type FeedbackSource interface {
	RecentFeedback(ctx context.Context, orgID string, limit int) ([]core.SAMRFeedback, error)
}

// ThresholdService computes the per-org alert threshold from reviewer
// feedback, shrunk toward the configured prior, and caches it in Redis.
type ThresholdService struct {
	feedback   FeedbackSource
	rdb        redis.Cmdable
	prior      float64
	windowSize int
	minSamples int
	alpha      float64
	cacheTTL   time.Duration
}

func NewThresholdService(feedback FeedbackSource, rdb redis.Cmdable, prior float64, windowSize, minSamples int, alpha float64, cacheTTL time.Duration) *ThresholdService {
	return &ThresholdService{
		feedback:   feedback,
		rdb:        rdb,
		prior:      prior,
		windowSize: windowSize,
		minSamples: minSamples,
		alpha:      alpha,
		cacheTTL:   cacheTTL,
	}
}

// Current returns the org's threshold, serving from cache when possible.
// Every failure path degrades to the prior.
func (s *ThresholdService) Current(ctx context.Context, orgID string) float64 {
	if s.rdb != nil {
		if val, err := s.rdb.Get(ctx, thresholdKeyPrefix+orgID).Result(); err == nil {
			if t, perr := strconv.ParseFloat(val, 64); perr == nil {
				return t
			}
		}
	}

	t := s.compute(ctx, orgID)

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, thresholdKeyPrefix+orgID, strconv.FormatFloat(t, 'f', 4, 64), s.cacheTTL).Err(); err != nil {
			slog.Warn("threshold cache write failed", "org_id", orgID, "error", err)
		}
	}
	return t
}

// Invalidate drops the cached threshold so the next read recomputes.
// Called whenever new feedback lands.
func (s *ThresholdService) Invalidate(ctx context.Context, orgID string) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, thresholdKeyPrefix+orgID).Err(); err != nil {
		slog.Warn("threshold cache invalidation failed", "org_id", orgID, "error", err)
	}
	return nil
}

func (s *ThresholdService) compute(ctx context.Context, orgID string) float64 {
	window, err := s.feedback.RecentFeedback(ctx, orgID, s.windowSize)
	if err != nil {
		slog.Warn("feedback window unavailable, using prior threshold", "org_id", orgID, "error", err)
		return s.prior
	}
	if len(window) < s.minSamples {
		return s.prior
	}

	best := s.prior
	bestScore := -1.0
	for cand := candidateMin; cand <= candidateMax+1e-9; cand += candidateStep {
		score := fBetaScore(window, cand)
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}

	// Shrink the grid optimum toward the prior so a small window cannot
	// swing the threshold to an extreme.
	return s.alpha*best + (1-s.alpha)*s.prior
}

// fBetaScore replays the feedback window against a candidate threshold.
func fBetaScore(window []core.SAMRFeedback, threshold float64) float64 {
	var tp, fp, fn float64
	for _, fb := range window {
		wouldAlert := fb.SAMRTriggered && fb.Similarity >= threshold
		switch {
		case wouldAlert && fb.Correct:
			tp++
		case wouldAlert && !fb.Correct:
			fp++
		case !wouldAlert && fb.FalseNegative:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	b2 := fBeta * fBeta
	return (1 + b2) * precision * recall / (b2*precision + recall)
}

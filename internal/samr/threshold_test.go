package samr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/ventro/backend/internal/core"
)

type fakeFeedback struct {
	window []core.SAMRFeedback
	err    error
	calls  int
}

func (f *fakeFeedback) RecentFeedback(_ context.Context, _ string, _ int) ([]core.SAMRFeedback, error) {
	f.calls++
	return f.window, f.err
}

func feedbackAt(similarity float64, correct bool) core.SAMRFeedback {
	return core.SAMRFeedback{
		SAMRTriggered: true,
		AlertRaised:   true,
		Similarity:    similarity,
		Correct:       correct,
	}
}

func thresholdFixture(t *testing.T, fb *fakeFeedback) (*ThresholdService, redis.Cmdable) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewThresholdService(fb, rdb, 0.85, 30, 5, 0.30, time.Hour), rdb
}

func TestThresholdUsesPriorBelowMinSamples(t *testing.T) {
	fb := &fakeFeedback{window: []core.SAMRFeedback{feedbackAt(0.9, true)}}
	svc, _ := thresholdFixture(t, fb)

	assert.InDelta(t, 0.85, svc.Current(context.Background(), "org-1"), 1e-9)
}

func TestThresholdUsesPriorOnFeedbackError(t *testing.T) {
	fb := &fakeFeedback{err: errors.New("db down")}
	svc, _ := thresholdFixture(t, fb)

	assert.InDelta(t, 0.85, svc.Current(context.Background(), "org-1"), 1e-9)
}

func TestThresholdLearnsFromFeedback(t *testing.T) {
	// Alerts at 0.95 were all confirmed, alerts at 0.88 were all noise.
	// The optimizer should push the threshold above 0.88, shrunk back
	// toward the 0.85 prior.
	var window []core.SAMRFeedback
	for i := 0; i < 10; i++ {
		window = append(window, feedbackAt(0.95, true))
		window = append(window, feedbackAt(0.88, false))
	}
	fb := &fakeFeedback{window: window}
	svc, _ := thresholdFixture(t, fb)

	got := svc.Current(context.Background(), "org-1")
	assert.Greater(t, got, 0.85)
	assert.Less(t, got, 0.95)
}

func TestThresholdShrinkageBoundsExtremes(t *testing.T) {
	ctx := context.Background()

	// Every alert down at 0.72 confirmed: the grid optimum is the 0.70
	// floor, and shrinkage lands at 0.3*0.70 + 0.7*0.85 = 0.805.
	var low []core.SAMRFeedback
	for i := 0; i < 8; i++ {
		low = append(low, feedbackAt(0.72, true))
	}
	svc, _ := thresholdFixture(t, &fakeFeedback{window: low})
	got := svc.Current(ctx, "org-low")
	assert.InDelta(t, 0.805, got, 1e-9)

	// Only alerts at 0.995 confirmed, everything just below is noise: the
	// grid optimum is the 0.99 ceiling, shrunk to 0.3*0.99 + 0.7*0.85 = 0.892.
	var high []core.SAMRFeedback
	for i := 0; i < 8; i++ {
		high = append(high, feedbackAt(0.995, true))
		high = append(high, feedbackAt(0.985, false))
	}
	svc, _ = thresholdFixture(t, &fakeFeedback{window: high})
	got = svc.Current(ctx, "org-high")
	assert.InDelta(t, 0.892, got, 1e-9)
}

func TestThresholdIsCachedAndInvalidated(t *testing.T) {
	fb := &fakeFeedback{err: errors.New("db down")}
	svc, _ := thresholdFixture(t, fb)
	ctx := context.Background()

	svc.Current(ctx, "org-1")
	svc.Current(ctx, "org-1")
	assert.Equal(t, 1, fb.calls, "second read must come from cache")

	svc.Invalidate(ctx, "org-1")
	svc.Current(ctx, "org-1")
	assert.Equal(t, 2, fb.calls, "invalidation must force a recompute")
}

func TestThresholdSurvivesRedisOutage(t *testing.T) {
	fb := &fakeFeedback{err: errors.New("db down")}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	svc := NewThresholdService(fb, rdb, 0.85, 30, 5, 0.30, time.Hour)

	mr.Close()
	assert.InDelta(t, 0.85, svc.Current(context.Background(), "org-1"), 1e-9)
}

func TestFBetaScoreWeighsPrecision(t *testing.T) {
	window := []core.SAMRFeedback{
		feedbackAt(0.95, true),
		feedbackAt(0.92, true),
		feedbackAt(0.88, false),
		feedbackAt(0.86, false),
	}

	// At 0.90 both alerts are true positives; at 0.85 two false positives
	// join them, and with beta 0.5 the score must drop.
	assert.Greater(t, fBetaScore(window, 0.90), fBetaScore(window, 0.85))
}

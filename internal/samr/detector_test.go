package samr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEmbedder struct {
	vectors map[string][]float32
}

func (e *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vectors[text], nil
}

func detectorFixture(t *testing.T, embedder *mapEmbedder) *Detector {
	t.Helper()
	fb := &fakeFeedback{}
	svc := NewThresholdService(fb, nil, 0.85, 30, 5, 0.30, time.Hour)
	return NewDetector(embedder, svc, 1.0)
}

const numericEvidence = "PO-2024-0051 total 1500.00 against invoice 1500.00"

func TestAnalyzeAlertsWhenConclusionsIgnoreEvidence(t *testing.T) {
	// The reasoner gives the same verdict no matter what the numbers say,
	// so both conclusions embed to the same vector.
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"all totals match, no discrepancies": {1, 0, 0},
	}}
	d := detectorFixture(t, embedder)

	reason := func(context.Context, string) (string, error) {
		return "all totals match, no discrepancies", nil
	}

	out, err := d.Analyze(context.Background(), "sess-1", "org-1", numericEvidence, reason)
	require.NoError(t, err)
	assert.True(t, out.Perturbed)
	assert.InDelta(t, 1.0, out.Similarity, 1e-9)

	require.NotNil(t, out.Alert)
	assert.Equal(t, "sess-1", out.Alert.SessionID)
	assert.Contains(t, out.Alert.Interpretation, "REASONING FAILURE")
}

func TestAnalyzePassesWhenConclusionsTrackEvidence(t *testing.T) {
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"totals match":           {1, 0, 0},
		"totals no longer match": {0, 1, 0},
	}}
	d := detectorFixture(t, embedder)

	// A grounded reasoner changes its verdict once the numbers move.
	reason := func(_ context.Context, evidence string) (string, error) {
		if evidence == numericEvidence {
			return "totals match", nil
		}
		return "totals no longer match", nil
	}

	out, err := d.Analyze(context.Background(), "sess-1", "org-1", numericEvidence, reason)
	require.NoError(t, err)
	assert.True(t, out.Perturbed)
	assert.InDelta(t, 0.0, out.Similarity, 1e-9)
	assert.Nil(t, out.Alert)
}

func TestAnalyzeSkipsEvidenceWithoutNumbers(t *testing.T) {
	d := detectorFixture(t, &mapEmbedder{})

	calls := 0
	reason := func(context.Context, string) (string, error) {
		calls++
		return "", nil
	}

	out, err := d.Analyze(context.Background(), "sess-1", "org-1", "vendor correspondence only", reason)
	require.NoError(t, err)
	assert.False(t, out.Perturbed)
	assert.Nil(t, out.Alert)
	assert.Zero(t, calls, "no perturbation means no reasoning runs")
}

func TestAnalyzeNeverAlertsOnEmbeddingFallback(t *testing.T) {
	// Unknown texts embed to nil, which cosine treats as zero similarity.
	d := detectorFixture(t, &mapEmbedder{vectors: map[string][]float32{}})

	reason := func(context.Context, string) (string, error) {
		return "some verdict", nil
	}

	out, err := d.Analyze(context.Background(), "sess-1", "org-1", numericEvidence, reason)
	require.NoError(t, err)
	assert.Zero(t, out.Similarity)
	assert.Nil(t, out.Alert)
}

// Package samr implements semantic anchoring metamorphic review: the
// hallucination check that probes whether model conclusions actually
// depend on the document evidence.
//
// The test is metamorphic. Numbers in the evidence are perturbed and the
// reasoning is rerun; if the model's conclusion vector barely moves, the
// model was answering from priors rather than from the documents.
package samr

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/vector"
)

// Reasoner produces the model's reconciliation reasoning for a given
// evidence context. The pipeline passes a closure over the router.
type Reasoner func(ctx context.Context, evidence string) (string, error)

// Detector runs the metamorphic probe for one session.
type Detector struct {
	embedder  llm.Embedder
	threshold *ThresholdService
	strength  float64
	rng       *rand.Rand
}

func NewDetector(embedder llm.Embedder, threshold *ThresholdService, strength float64) *Detector {
	return &Detector{
		embedder:  embedder,
		threshold: threshold,
		strength:  strength,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Outcome carries the probe measurements whether or not an alert fired.
type Outcome struct {
	Alert      *core.SAMRAlert
	Similarity float64
	Threshold  float64
	Perturbed  bool
}

// Analyze perturbs the evidence, reruns the reasoning, and compares the
// two conclusion vectors. An alert fires only when a perturbation was
// actually applied and similarity stayed at or above the org threshold.
func (d *Detector) Analyze(ctx context.Context, sessionID, orgID, evidence string, reason Reasoner) (Outcome, error) {
	threshold := d.threshold.Current(ctx, orgID)
	out := Outcome{Threshold: threshold}

	perturbation := Perturb(evidence, d.strength, d.rng)
	out.Perturbed = perturbation.Applied
	if !perturbation.Applied {
		// Nothing numeric to perturb; the probe has no signal.
		return out, nil
	}

	baseline, err := reason(ctx, evidence)
	if err != nil {
		return out, fmt.Errorf("baseline reasoning: %w", err)
	}
	probed, err := reason(ctx, perturbation.Text)
	if err != nil {
		return out, fmt.Errorf("perturbed reasoning: %w", err)
	}

	vBase, err := d.embedder.Embed(ctx, baseline)
	if err != nil {
		return out, err
	}
	vProbe, err := d.embedder.Embed(ctx, probed)
	if err != nil {
		return out, err
	}

	// Zero vectors (embedding fallback) give similarity 0 and never alert.
	out.Similarity = vector.Cosine(vBase, vProbe)

	if out.Similarity >= threshold {
		out.Alert = &core.SAMRAlert{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			OrgID:      orgID,
			Similarity: out.Similarity,
			Threshold:  threshold,
			Perturbed:  true,
			Interpretation: fmt.Sprintf(
				"REASONING FAILURE: conclusions unchanged (similarity %.3f >= %.2f) after %d evidence values were perturbed; model output is not grounded in the documents",
				out.Similarity, threshold, perturbation.Changes),
			CreatedAt: time.Now().UTC(),
		}
	}
	return out, nil
}

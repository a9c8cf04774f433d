// Package pipeline drives a reconciliation session through its stages.
// The loop is supervised: each stage catches its own failure, records it,
// and the session still advances, so one flaky stage produces a degraded
// workpaper instead of a hung session. Hard ceilings on iterations and
// accumulated errors stop runaway runs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/extraction"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/progress"
	"github.com/ventro/backend/internal/quant"
	"github.com/ventro/backend/internal/reconcile"
	"github.com/ventro/backend/internal/samr"
	"github.com/ventro/backend/internal/webhooks"
	"github.com/ventro/backend/internal/workpaper"
)

// Store is the persistence surface the orchestrator writes through.
type Store interface {
	UpdateSession(ctx context.Context, s *core.Session) error
	SaveExtractionResults(ctx context.Context, sessionID string, results []core.ExtractionResult) error
	SaveFindings(ctx context.Context, sessionID string, findings []core.Finding) error
	SaveAlert(ctx context.Context, alert *core.SAMRAlert) error
	SaveWorkpaper(ctx context.Context, sessionID string, html []byte, hash string) error
}

// DocumentSource loads the session's documents and their decrypted text.
type DocumentSource interface {
	LoadDocuments(ctx context.Context, ids []string) ([]core.Document, map[string]string, error)
}

// Orchestrator wires the stage implementations together.
type Orchestrator struct {
	store      Store
	docs       DocumentSource
	engine     *extraction.Engine
	validator  *quant.Validator
	detector   *samr.Detector
	router     *llm.Router
	publisher  *progress.Publisher
	dispatcher *webhooks.Dispatcher

	maxIterations int
	maxErrors     int
	samrEnabled   bool
}

func NewOrchestrator(
	store Store,
	docs DocumentSource,
	engine *extraction.Engine,
	validator *quant.Validator,
	detector *samr.Detector,
	router *llm.Router,
	publisher *progress.Publisher,
	dispatcher *webhooks.Dispatcher,
	maxIterations, maxErrors int,
	samrEnabled bool,
) *Orchestrator {
	return &Orchestrator{
		store:         store,
		docs:          docs,
		engine:        engine,
		validator:     validator,
		detector:      detector,
		router:        router,
		publisher:     publisher,
		dispatcher:    dispatcher,
		maxIterations: maxIterations,
		maxErrors:     maxErrors,
		samrEnabled:   samrEnabled,
	}
}

// runState carries stage artifacts across the loop.
type runState struct {
	documents  []core.Document
	texts      map[string]string
	results    []core.ExtractionResult
	pairs      map[string][]core.LinePair // "leftDoc|rightDoc" -> pairs
	findings   []core.Finding
	alerts     []core.SAMRAlert
	compliance *core.ComplianceReport
	verdict    core.Verdict
	synthesis  *core.Synthesis
}

// Run advances the session until a terminal state.
func (o *Orchestrator) Run(ctx context.Context, session *core.Session) error {
	rs := &runState{pairs: map[string][]core.LinePair{}}

	for !Terminal(session.State) {
		session.Iterations++
		if session.Iterations > o.maxIterations {
			return o.fail(ctx, session, "iteration ceiling exceeded")
		}
		if session.ErrorCount > o.maxErrors {
			return o.fail(ctx, session, "too many stage errors")
		}

		next, err := o.step(ctx, session, rs)
		if err != nil {
			// The stage already recorded its own failure; a step error
			// here means persistence itself is broken.
			return err
		}
		if !CanTransition(session.State, next) {
			return o.fail(ctx, session, fmt.Sprintf("illegal transition %s -> %s", session.State, next))
		}
		session.State = next
		session.UpdatedAt = time.Now().UTC()
		if err := o.store.UpdateSession(ctx, session); err != nil {
			return fmt.Errorf("persisting session state: %w", err)
		}
	}

	if session.State == core.StateCompleted {
		o.publisher.Done(ctx, session.ID, "reconciliation complete")
		o.dispatcher.Emit(webhooks.EventReconciliationCompleted, session.OrgID, map[string]interface{}{
			"session_id": session.ID,
			"verdict":    string(rs.verdict),
		})
		if rs.verdict == core.VerdictDiscrepancy {
			o.dispatcher.Emit(webhooks.EventFindingDiscrepancy, session.OrgID, map[string]interface{}{
				"session_id": session.ID,
				"findings":   len(rs.findings),
			})
		}
	}
	return nil
}

// step executes the stage for the current state and returns the next one.
func (o *Orchestrator) step(ctx context.Context, session *core.Session, rs *runState) (core.SessionState, error) {
	switch session.State {
	case core.StateInitialized:
		o.stage(ctx, session, "extraction", 0.15, func() error { return o.runExtraction(ctx, session, rs) })
		return core.StateExtracted, nil

	case core.StateExtracted:
		o.stage(ctx, session, "quantitative", 0.35, func() error { return o.runQuant(ctx, session, rs) })
		return core.StateQuantified, nil

	case core.StateQuantified:
		o.stage(ctx, session, "compliance", 0.5, func() error { return o.runCompliance(ctx, session, rs) })
		return core.StateComplianceChecked, nil

	case core.StateComplianceChecked:
		if !o.samrEnabled {
			return core.StateReconciled, nil
		}
		o.stage(ctx, session, "samr", 0.7, func() error { return o.runSAMR(ctx, session, rs) })
		return core.StateSAMRComplete, nil

	case core.StateSAMRComplete:
		o.stage(ctx, session, "reconciliation", 0.85, func() error { return o.runReconcile(ctx, session, rs) })
		return core.StateReconciled, nil

	case core.StateReconciled:
		// Reconciliation runs here when SAMR was skipped.
		if rs.verdict == "" {
			o.stage(ctx, session, "reconciliation", 0.85, func() error { return o.runReconcile(ctx, session, rs) })
		}
		o.stage(ctx, session, "workpaper", 0.95, func() error { return o.runWorkpaper(ctx, session, rs) })
		return core.StateCompleted, nil

	default:
		return core.StateFailed, fmt.Errorf("unknown state %s", session.State)
	}
}

// stage runs fn under the supervision contract: failures increment the
// session error count and are reported, but never panic the loop.
func (o *Orchestrator) stage(ctx context.Context, session *core.Session, name string, fraction float64, fn func() error) {
	o.publisher.Stage(ctx, session.ID, name, "running "+name, fraction)
	if err := fn(); err != nil {
		session.ErrorCount++
		slog.Error("pipeline stage failed", "session_id", session.ID, "stage", name, "error", err)
		o.publisher.Stage(ctx, session.ID, name, name+" failed: "+err.Error(), fraction)
	}
}

func (o *Orchestrator) fail(ctx context.Context, session *core.Session, reason string) error {
	session.State = core.StateFailed
	session.UpdatedAt = time.Now().UTC()
	if err := o.store.UpdateSession(ctx, session); err != nil {
		slog.Error("persisting failed session", "session_id", session.ID, "error", err)
	}
	o.publisher.Error(ctx, session.ID, reason)
	o.dispatcher.Emit(webhooks.EventSessionFailed, session.OrgID, map[string]interface{}{
		"session_id": session.ID,
		"reason":     reason,
	})
	return fmt.Errorf("session %s failed: %s", session.ID, reason)
}

// ===== Stages =====

func (o *Orchestrator) runExtraction(ctx context.Context, session *core.Session, rs *runState) error {
	docs, texts, err := o.docs.LoadDocuments(ctx, session.DocumentIDs)
	if err != nil {
		return fmt.Errorf("loading documents: %w", err)
	}
	rs.documents = docs
	rs.texts = texts

	results, err := o.engine.ExtractTriplet(ctx, docs, texts)
	if err != nil {
		return err
	}
	rs.results = results
	return o.store.SaveExtractionResults(ctx, session.ID, results)
}

func (o *Orchestrator) runQuant(ctx context.Context, session *core.Session, rs *runState) error {
	// Resolve line pairs first so cross-document checks compare matched
	// lines instead of relying on position.
	byID := map[string]*core.ExtractionResult{}
	for i := range rs.results {
		byID[rs.results[i].DocumentID] = &rs.results[i]
	}
	for i := range rs.results {
		for j := i + 1; j < len(rs.results); j++ {
			left, right := &rs.results[i], &rs.results[j]
			match := reconcile.MatchLines(left.LineItems, right.LineItems)
			rs.pairs[left.DocumentID+"|"+right.DocumentID] = match.Pairs
			rs.findings = append(rs.findings, stamp(session.ID, reconcile.UnmatchedFindings(left, right, match))...)
		}
	}

	pairsFor := func(leftDoc, rightDoc string) []core.LinePair {
		if p, ok := rs.pairs[leftDoc+"|"+rightDoc]; ok {
			return p
		}
		// Reverse orientation: swap the indexes.
		if p, ok := rs.pairs[rightDoc+"|"+leftDoc]; ok {
			swapped := make([]core.LinePair, len(p))
			for i, lp := range p {
				swapped[i] = core.LinePair{LeftIndex: lp.RightIndex, RightIndex: lp.LeftIndex, Score: lp.Score}
			}
			return swapped
		}
		return nil
	}

	findings := o.validator.ValidateTriplet(rs.results, pairsFor)
	rs.findings = append(rs.findings, stamp(session.ID, findings)...)
	return nil
}

func (o *Orchestrator) runCompliance(ctx context.Context, session *core.Session, rs *runState) error {
	prompt := compliancePrompt(rs)
	raw, _, err := o.router.Complete(ctx, llm.CompletionRequest{
		System:      "You are a procurement compliance reviewer. Respond with a single JSON object.",
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		return err
	}

	var report core.ComplianceReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		report = core.ComplianceReport{Status: "not_evaluated", RecommendedAction: "manual_review"}
	}
	report.SessionID = session.ID
	rs.compliance = &report

	for _, v := range report.PolicyViolations {
		rs.findings = append(rs.findings, core.Finding{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			Type:        core.FindingComplianceViolation,
			Severity:    core.SeverityMedium,
			Description: v,
		})
	}
	return nil
}

func (o *Orchestrator) runSAMR(ctx context.Context, session *core.Session, rs *runState) error {
	evidence := evidenceContext(rs)
	reason := func(ctx context.Context, evidence string) (string, error) {
		out, _, err := o.router.Complete(ctx, llm.CompletionRequest{
			System:      "You are a reconciliation analyst. Summarize whether these documents match and why, citing the numbers.",
			Prompt:      evidence,
			Temperature: 0,
			MaxTokens:   512,
		})
		return out, err
	}

	outcome, err := o.detector.Analyze(ctx, session.ID, session.OrgID, evidence, reason)
	if err != nil {
		return err
	}
	if outcome.Alert != nil {
		rs.alerts = append(rs.alerts, *outcome.Alert)
		rs.findings = append(rs.findings, core.Finding{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			Type:        core.FindingReasoningFailure,
			Severity:    core.SeverityCritical,
			Description: outcome.Alert.Interpretation,
		})
		if err := o.store.SaveAlert(ctx, outcome.Alert); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runReconcile(ctx context.Context, session *core.Session, rs *runState) error {
	rs.verdict, rs.synthesis = reconcile.NewSynthesizer(o.router).Synthesize(ctx, rs.results, rs.findings)
	session.Verdict = string(rs.verdict)
	return o.store.SaveFindings(ctx, session.ID, rs.findings)
}

func (o *Orchestrator) runWorkpaper(ctx context.Context, session *core.Session, rs *runState) error {
	out, err := workpaper.Compose(workpaper.Input{
		Session:    *session,
		Documents:  rs.documents,
		Results:    rs.results,
		Findings:   rs.findings,
		Alerts:     rs.alerts,
		Compliance: rs.compliance,
		Verdict:    rs.verdict,
		Synthesis:  rs.synthesis,
	})
	if err != nil {
		return err
	}
	return o.store.SaveWorkpaper(ctx, session.ID, out.HTML, out.Hash)
}

// ===== Helpers =====

func stamp(sessionID string, findings []core.Finding) []core.Finding {
	for i := range findings {
		findings[i].ID = uuid.NewString()
		findings[i].SessionID = sessionID
	}
	return findings
}

// evidenceContext is the numeric summary fed to the SAMR probe.
func evidenceContext(rs *runState) string {
	var b strings.Builder
	for _, r := range rs.results {
		fmt.Fprintf(&b, "%s %s vendor=%s total=%s\n", r.DocType, r.DocNumber, r.Vendor, r.DocumentTotal)
		for _, li := range r.LineItems {
			fmt.Fprintf(&b, "  %s qty=%s unit=%s total=%s\n", li.Description, li.Quantity, li.UnitPrice, li.LineTotal)
		}
	}
	return b.String()
}

func compliancePrompt(rs *runState) string {
	var b strings.Builder
	b.WriteString("Review this three-way match for policy compliance.\n\n")
	b.WriteString(evidenceContext(rs))
	b.WriteString("\nExisting findings:\n")
	for _, f := range rs.findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Description)
	}
	b.WriteString(`
Respond as JSON:
{"compliance_status": "compliant"|"flagged"|"non_compliant",
 "risk_score": number 0..1,
 "flags": [string],
 "policy_violations": [string],
 "fraud_indicators": [string],
 "recommended_action": "approve"|"manual_review"|"reject"}`)
	return b.String()
}

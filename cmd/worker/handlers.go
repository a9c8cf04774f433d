package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/jobs"
	"github.com/ventro/backend/internal/metrics"
	"github.com/ventro/backend/internal/service"
)

// registerHandlers binds the queue task types to their implementations.
func registerHandlers(app *service.App) {
	app.Jobs.Register(jobs.TaskRunSession, runSessionHandler(app))
	app.Jobs.Register(jobs.TaskProcessDocument, processDocumentHandler(app))
	app.Jobs.Register(jobs.TaskMatchAndDispatch, matchAndDispatchHandler(app))
}

// runSessionHandler drives one session through the pipeline. Replays
// are tolerated: a session already in a terminal state is a no-op.
func runSessionHandler(app *service.App) jobs.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.RunSessionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return core.Wrap(core.KindValidation, "decoding run_session payload", err)
		}

		session, err := app.Sessions.ByID(ctx, p.SessionID)
		if err != nil {
			return err
		}
		if session.State == core.StateCompleted || session.State == core.StateFailed {
			slog.Info("session already terminal, skipping", "session_id", session.ID, "state", session.State)
			return nil
		}

		start := time.Now()
		err = app.Orchestrator.Run(ctx, session)
		metrics.StageDuration.WithLabelValues("full_pipeline").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SessionsCompleted.WithLabelValues(string(core.StateFailed)).Inc()
			return err
		}
		metrics.SessionsCompleted.WithLabelValues(string(session.State)).Inc()
		return nil
	}
}

// processDocumentHandler indexes one batch document into the retriever
// ahead of the match callback.
func processDocumentHandler(app *service.App) jobs.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.ProcessDocumentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return core.Wrap(core.KindValidation, "decoding process_document payload", err)
		}

		docs, texts, err := app.Loader.LoadDocuments(ctx, []string{p.DocumentID})
		if err != nil {
			return err
		}
		if _, err := app.Engine.IndexDocument(ctx, docs[0].ID, texts[docs[0].ID]); err != nil {
			return err
		}
		return nil
	}
}

// matchAndDispatchHandler is the chord callback: group the batch into
// triplets and queue a reconciliation session per group.
func matchAndDispatchHandler(app *service.App) jobs.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p jobs.BatchPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return core.Wrap(core.KindValidation, "decoding match_and_dispatch payload", err)
		}

		docs, err := app.Documents.ByIDs(ctx, p.DocumentIDs)
		if err != nil {
			return err
		}

		result := app.Matcher.Match(ctx, docs)
		for _, triplet := range result.Triplets {
			members := triplet.Documents()
			ids := make([]string, len(members))
			for i, d := range members {
				ids[i] = d.ID
			}

			session := &core.Session{
				ID:          uuid.NewString(),
				OrgID:       p.OrgID,
				DocumentIDs: ids,
				State:       core.StateInitialized,
				CreatedBy:   p.CreatedBy,
				CreatedAt:   time.Now().UTC(),
				UpdatedAt:   time.Now().UTC(),
			}
			if err := app.Sessions.Create(ctx, session); err != nil {
				return err
			}
			if _, err := app.Jobs.Enqueue(ctx, jobs.TaskRunSession, jobs.RunSessionPayload{SessionID: session.ID}); err != nil {
				return err
			}
			metrics.SessionsStarted.Inc()
		}

		if len(result.Unmatched) > 0 {
			ids := make([]string, len(result.Unmatched))
			for i, d := range result.Unmatched {
				ids[i] = d.ID
			}
			slog.Warn("batch documents left unmatched", "org_id", p.OrgID, "document_ids", ids)
			if err := app.Recorder.Record(ctx, "batch.unmatched", p.CreatedBy, p.OrgID, "batch", "",
				map[string]interface{}{"document_ids": ids}); err != nil {
				return err
			}
		}
		return nil
	}
}

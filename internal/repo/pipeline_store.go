package repo

import (
	"context"

	"github.com/ventro/backend/internal/core"
)

// PipelineStore bundles the repositories the orchestrator persists
// through into one surface.
type PipelineStore struct {
	Sessions *SessionRepo
	SAMR     *SAMRRepo
}

func NewPipelineStore(sessions *SessionRepo, samr *SAMRRepo) *PipelineStore {
	return &PipelineStore{Sessions: sessions, SAMR: samr}
}

func (s *PipelineStore) UpdateSession(ctx context.Context, sess *core.Session) error {
	return s.Sessions.UpdateSession(ctx, sess)
}

func (s *PipelineStore) SaveExtractionResults(ctx context.Context, sessionID string, results []core.ExtractionResult) error {
	return s.Sessions.SaveExtractionResults(ctx, sessionID, results)
}

func (s *PipelineStore) SaveFindings(ctx context.Context, sessionID string, findings []core.Finding) error {
	return s.Sessions.SaveFindings(ctx, sessionID, findings)
}

func (s *PipelineStore) SaveAlert(ctx context.Context, alert *core.SAMRAlert) error {
	return s.SAMR.SaveAlert(ctx, alert)
}

func (s *PipelineStore) SaveWorkpaper(ctx context.Context, sessionID string, html []byte, hash string) error {
	return s.Sessions.SaveWorkpaper(ctx, sessionID, html, hash)
}

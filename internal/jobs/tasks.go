package jobs

// Task types shared between the API (producer) and the worker (consumer).
const (
	// TaskRunSession drives one reconciliation session through the
	// pipeline.
	TaskRunSession = "run_session"

	// TaskProcessDocument and TaskMatchAndDispatch form the batch chord:
	// one indexing task per document, then a callback that groups the
	// batch into triplets and starts their sessions.
	TaskProcessDocument  = "process_document"
	TaskMatchAndDispatch = "match_and_dispatch"
)

type RunSessionPayload struct {
	SessionID string `json:"session_id"`
}

type ProcessDocumentPayload struct {
	DocumentID string `json:"document_id"`
	OrgID      string `json:"org_id"`
}

type BatchPayload struct {
	OrgID       string   `json:"org_id"`
	CreatedBy   string   `json:"created_by"`
	DocumentIDs []string `json:"document_ids"`
}

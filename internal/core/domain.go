package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ===== Documents =====

type DocumentType string

const (
	DocPurchaseOrder    DocumentType = "purchase_order"
	DocGoodsReceiptNote DocumentType = "goods_receipt_note"
	DocInvoice          DocumentType = "invoice"
)

// Document is the stored metadata for one uploaded file. The ciphertext
// itself lives in the encrypted file store keyed by StoragePath.
type Document struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"org_id"`
	Type        DocumentType `json:"type"`
	Filename    string       `json:"filename"`
	ContentHash string       `json:"content_hash"` // SHA-256 hex of plaintext
	StoragePath string       `json:"storage_path"`
	Vendor      string       `json:"vendor,omitempty"`
	DocNumber   string       `json:"doc_number,omitempty"`
	// Confidence of the upload-time type classification, 0..1.
	ClassificationConfidence float64   `json:"classification_confidence"`
	Version                  int       `json:"version"`
	UploadedBy               string    `json:"uploaded_by"`
	CreatedAt                time.Time `json:"created_at"`
}

// DocumentVersion records one revision of a document. Versions are
// monotone per document id and never reused.
type DocumentVersion struct {
	DocumentID  string    `json:"document_id"`
	Version     int       `json:"version"`
	ContentHash string    `json:"content_hash"`
	StoragePath string    `json:"storage_path"`
	UploadedBy  string    `json:"uploaded_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ===== Extraction =====

type LineItem struct {
	Description string          `json:"description"`
	PartNumber  string          `json:"part_number,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   Money           `json:"unit_price"`
	LineTotal   Money           `json:"line_total"`
}

// Citation anchors an extracted field to its source location. A field
// whose value could not be located in any chunk carries no citation.
type Citation struct {
	Field      string    `json:"field"`
	DocumentID string    `json:"document_id"`
	Page       int       `json:"page"`
	Snippet    string    `json:"snippet"`
	BBox       []float64 `json:"bbox,omitempty"`
}

type ExtractionResult struct {
	DocumentID    string       `json:"document_id"`
	DocType       DocumentType `json:"doc_type"`
	Vendor        string       `json:"vendor"`
	DocNumber     string       `json:"doc_number"`
	Date          string       `json:"date,omitempty"`
	Currency      string       `json:"currency"`
	LineItems     []LineItem   `json:"line_items"`
	DocumentTotal Money        `json:"document_total"`
	// How the values were produced: the provider name, or
	// "rule_based_fallback" when every provider was unavailable.
	Method    string     `json:"extraction_method"`
	Citations []Citation `json:"citations,omitempty"`
	Partial   bool       `json:"partial,omitempty"`
}

// Chunk is one retrievable fragment of a parsed document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Page       int       `json:"page"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// ===== Sessions =====

type SessionState string

const (
	StateInitialized       SessionState = "initialized"
	StateExtracted         SessionState = "extracted"
	StateQuantified        SessionState = "quantified"
	StateComplianceChecked SessionState = "compliance_checked"
	StateSAMRComplete      SessionState = "samr_complete"
	StateReconciled        SessionState = "reconciled"
	StateCompleted         SessionState = "completed"
	StateFailed            SessionState = "failed"
)

// Session is one three-way reconciliation run over a PO/GRN/Invoice triplet.
type Session struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"org_id"`
	DocumentIDs []string     `json:"document_ids"`
	State       SessionState `json:"state"`
	Iterations  int          `json:"iterations"`
	ErrorCount  int          `json:"error_count"`
	Verdict     string       `json:"verdict,omitempty"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ===== Findings =====

type FindingType string

const (
	FindingLineItemTotalMismatch    FindingType = "line_item_total_mismatch"
	FindingDocumentTotalMismatch    FindingType = "document_total_mismatch"
	FindingCrossDocQuantityMismatch FindingType = "cross_document_quantity_mismatch"
	FindingPriceDiscrepancy         FindingType = "price_discrepancy"
	FindingMissingLineItem          FindingType = "missing_line_item"
	FindingReasoningFailure         FindingType = "reasoning_failure"
	FindingComplianceViolation      FindingType = "compliance_violation"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Finding struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id"`
	Type        FindingType            `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Expected    string                 `json:"expected,omitempty"`
	Actual      string                 `json:"actual,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// ===== Reconciliation =====

// LinePair is a resolved correspondence between line items of two documents.
type LinePair struct {
	LeftIndex  int     `json:"left_index"`
	RightIndex int     `json:"right_index"`
	Score      float64 `json:"score"`
}

type Verdict string

const (
	VerdictMatched     Verdict = "matched"
	VerdictPartial     Verdict = "partial_match"
	VerdictDiscrepancy Verdict = "discrepancy"
)

// Synthesis is the model-written verdict: overall status, per-line match
// states, a recommendation, and the narrative carried into the workpaper.
type Synthesis struct {
	OverallStatus      string           `json:"overall_status"` // full_match, partial_match, mismatch, exception
	Confidence         float64          `json:"confidence"`
	LineItemMatches    []SynthesisMatch `json:"line_item_matches"`
	DiscrepancySummary []string         `json:"discrepancy_summary"`
	Recommendation     string           `json:"recommendation"` // approve, reject, investigate, partial_approve
	AuditNarrative     string           `json:"audit_narrative"`
}

// SynthesisMatch is one reconciled line in the synthesis. IDs are stable:
// assigned at parse time when the model omits them.
type SynthesisMatch struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// ===== SAMR =====

// SAMRAlert is raised when perturbed inputs fail to move the model's
// reasoning vector, indicating answers detached from the evidence.
type SAMRAlert struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	OrgID          string    `json:"org_id"`
	Similarity     float64   `json:"similarity"`
	Threshold      float64   `json:"threshold"`
	Perturbed      bool      `json:"perturbed"`
	Interpretation string    `json:"interpretation"`
	CreatedAt      time.Time `json:"created_at"`
}

// SAMRFeedback is a reviewer's judgment on an alert, or on a miss that
// surfaced later.
type SAMRFeedback struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"org_id"`
	SessionID     string    `json:"session_id"`
	AlertRaised   bool      `json:"alert_raised"`
	SAMRTriggered bool      `json:"samr_triggered"`
	Correct       bool      `json:"correct"`
	FalseNegative bool      `json:"false_negative"`
	Similarity    float64   `json:"similarity"`
	CreatedAt     time.Time `json:"created_at"`
}

// ===== Users =====

type User struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// ===== Audit =====

// AuditEvent is one link in the per-org tamper-evident chain.
type AuditEvent struct {
	ID           int64     `json:"id"`
	Action       string    `json:"action"`
	UserID       string    `json:"user_id"`
	OrgID        string    `json:"org_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"` // JSON object
	PrevHash     string    `json:"prev_hash"`
	RowHash      string    `json:"row_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// ===== Webhooks =====

type WebhookEndpoint struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ===== Compliance =====

type ComplianceReport struct {
	SessionID         string   `json:"session_id"`
	Status            string   `json:"compliance_status"`
	RiskScore         float64  `json:"risk_score"`
	Flags             []string `json:"flags"`
	PolicyViolations  []string `json:"policy_violations"`
	FraudIndicators   []string `json:"fraud_indicators"`
	RecommendedAction string   `json:"recommended_action"`
}

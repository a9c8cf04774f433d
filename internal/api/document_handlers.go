package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ventro/backend/internal/auth"
	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/extraction"
	"github.com/ventro/backend/internal/middleware"
)

const maxUploadBytes = 20 << 20 // 20 MiB

// handleUploadDocument ingests one document: classify, encrypt, store,
// record metadata at version 1.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())

	content, filename, ok := readUpload(w, r)
	if !ok {
		return
	}

	docType := core.DocumentType(r.FormValue("type"))
	confidence := 1.0
	if docType == "" {
		docType, confidence = extraction.Classify(filename, string(content))
	} else if docType != core.DocPurchaseOrder && docType != core.DocGoodsReceiptNote && docType != core.DocInvoice {
		respondBadRequest(w, "unknown document type")
		return
	}

	path, hash, err := s.Files.Save(content)
	if err != nil {
		respondError(w, err)
		return
	}

	doc := &core.Document{
		ID:                       uuid.NewString(),
		OrgID:                    claims.OrgID,
		Type:                     docType,
		Filename:                 filename,
		ContentHash:              hash,
		StoragePath:              path,
		Vendor:                   r.FormValue("vendor"),
		DocNumber:                r.FormValue("doc_number"),
		ClassificationConfidence: confidence,
		UploadedBy:               claims.Subject,
		CreatedAt:                time.Now().UTC(),
	}
	if err := s.Documents.Create(r.Context(), doc); err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "document.uploaded", claims.Subject, claims.OrgID,
		"document", doc.ID, map[string]interface{}{
			"type": string(docType), "filename": filename, "content_hash": hash,
		}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

// handleUploadVersion appends a new revision to an existing document.
func (s *Server) handleUploadVersion(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	docID := mux.Vars(r)["id"]

	doc, err := s.Documents.ByID(r.Context(), docID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, doc.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return
	}

	content, _, ok := readUpload(w, r)
	if !ok {
		return
	}
	path, hash, err := s.Files.Save(content)
	if err != nil {
		respondError(w, err)
		return
	}

	version := &core.DocumentVersion{
		DocumentID:  docID,
		ContentHash: hash,
		StoragePath: path,
		UploadedBy:  claims.Subject,
		CreatedAt:   time.Now().UTC(),
	}
	n, err := s.Documents.AddVersion(r.Context(), version)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.Recorder.Record(r.Context(), "document.version_added", claims.Subject, claims.OrgID,
		"document", docID, map[string]interface{}{"version": n, "content_hash": hash}); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, version)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	limit, offset := pagination(r)
	docs, err := s.Documents.ListByOrg(r.Context(), claims.OrgID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	doc, err := s.Documents.ByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, doc.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	docID := mux.Vars(r)["id"]

	doc, err := s.Documents.ByID(r.Context(), docID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !auth.CanAccessOrg(claims.Role, claims.OrgID, doc.OrgID) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "cross-organization access denied"})
		return
	}

	versions, err := s.Documents.Versions(r.Context(), docID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// readUpload pulls the file part out of a multipart request and rejects
// content the pipeline must never see: oversize bodies are 413, empty
// files and PDFs carrying embedded JavaScript are 422.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return nil, "", false
		}
		respondBadRequest(w, "invalid multipart upload")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondBadRequest(w, "file part is required")
		return nil, "", false
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds size limit"})
			return nil, "", false
		}
		respondError(w, err)
		return nil, "", false
	}
	if len(content) == 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "empty file"})
		return nil, "", false
	}
	if containsEmbeddedJS(content) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "embedded_js"})
		return nil, "", false
	}
	return content, header.Filename, true
}

// containsEmbeddedJS reports whether a PDF carries JavaScript actions.
// PDF name objects are byte literals, so a byte scan is sufficient; the
// check is scoped to PDFs to avoid false positives on plain text.
func containsEmbeddedJS(content []byte) bool {
	if !bytes.HasPrefix(content, []byte("%PDF")) {
		return false
	}
	return bytes.Contains(content, []byte("/JavaScript")) || bytes.Contains(content, []byte("/JS"))
}

package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ventro/backend/internal/core"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id, org_id, doc_type, filename, content_hash, storage_path,
	vendor, doc_number, classification_confidence, version, uploaded_by, created_at`

// Create inserts a document at version 1 together with its first
// version row, atomically.
func (r *DocumentRepo) Create(ctx context.Context, d *core.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	d.Version = 1
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.OrgID, d.Type, d.Filename, d.ContentHash, d.StoragePath,
		d.Vendor, d.DocNumber, d.ClassificationConfidence, d.Version,
		d.UploadedBy, d.CreatedAt); err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, content_hash, storage_path, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, 1, d.ContentHash, d.StoragePath, d.UploadedBy, d.CreatedAt); err != nil {
		return fmt.Errorf("inserting document version: %w", err)
	}

	return tx.Commit()
}

// AddVersion appends the next version for a document. The parent row is
// locked first to serialize concurrent uploads of the same document;
// the new number then comes from the current maximum inside the same
// transaction, so versions stay monotone. Postgres forbids FOR UPDATE
// on an aggregate, which is why the lock and the MAX are separate
// statements.
func (r *DocumentRepo) AddVersion(ctx context.Context, v *core.DocumentVersion) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM documents WHERE id = $1 FOR UPDATE`,
		v.DocumentID).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return 0, core.E(core.KindNotFound, "document not found")
	}
	if err != nil {
		return 0, fmt.Errorf("locking document: %w", err)
	}

	var next int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM document_versions
		WHERE document_id = $1`, v.DocumentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("computing next version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, content_hash, storage_path, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.DocumentID, next, v.ContentHash, v.StoragePath, v.UploadedBy, v.CreatedAt); err != nil {
		return 0, fmt.Errorf("inserting document version: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET version = $2, content_hash = $3, storage_path = $4
		WHERE id = $1`, v.DocumentID, next, v.ContentHash, v.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("updating document head: %w", err)
	}
	if err := requireRow(res, "document"); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	v.Version = next
	return next, nil
}

func (r *DocumentRepo) ByID(ctx context.Context, id string) (*core.Document, error) {
	var d core.Document
	err := r.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = $1`, id).Scan(
		&d.ID, &d.OrgID, &d.Type, &d.Filename, &d.ContentHash, &d.StoragePath,
		&d.Vendor, &d.DocNumber, &d.ClassificationConfidence, &d.Version,
		&d.UploadedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, core.E(core.KindNotFound, "document not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &d, nil
}

func (r *DocumentRepo) ByIDs(ctx context.Context, ids []string) ([]core.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (r *DocumentRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]core.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (r *DocumentRepo) Versions(ctx context.Context, documentID string) ([]core.DocumentVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT document_id, version, content_hash, storage_path, uploaded_by, created_at
		FROM document_versions WHERE document_id = $1 ORDER BY version`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing document versions: %w", err)
	}
	defer rows.Close()

	var versions []core.DocumentVersion
	for rows.Next() {
		var v core.DocumentVersion
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.ContentHash,
			&v.StoragePath, &v.UploadedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func scanDocuments(rows *sql.Rows) ([]core.Document, error) {
	var docs []core.Document
	for rows.Next() {
		var d core.Document
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Type, &d.Filename, &d.ContentHash,
			&d.StoragePath, &d.Vendor, &d.DocNumber, &d.ClassificationConfidence,
			&d.Version, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

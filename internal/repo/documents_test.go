package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

func TestAddVersionLocksParentRowBeforeComputingMax(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()

	// Expectations are ordered: the parent-row lock must run before the
	// aggregate, since Postgres rejects FOR UPDATE on an aggregate query.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM documents WHERE id = \$1 FOR UPDATE`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) \+ 1 FROM document_versions`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO document_versions`).
		WithArgs("doc-1", 3, "hash-v3", "orgs/org-1/doc-1/v3", "user-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE documents SET version`).
		WithArgs("doc-1", 3, "hash-v3", "orgs/org-1/doc-1/v3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v := &core.DocumentVersion{
		DocumentID:  "doc-1",
		ContentHash: "hash-v3",
		StoragePath: "orgs/org-1/doc-1/v3",
		UploadedBy:  "user-1",
		CreatedAt:   now,
	}
	next, err := NewDocumentRepo(db).AddVersion(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	assert.Equal(t, 3, v.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddVersionUnknownDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM documents WHERE id = \$1 FOR UPDATE`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err = NewDocumentRepo(db).AddVersion(context.Background(), &core.DocumentVersion{DocumentID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

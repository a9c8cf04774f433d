// Package storage is the encrypted blob store for uploaded documents.
// Files are envelope-encrypted at rest; paths are content-addressed
// under the configured root so duplicate uploads share storage.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/crypto"
)

type FileStore struct {
	root string
	enc  *crypto.Encryptor
}

func NewFileStore(root string, enc *crypto.Encryptor) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &FileStore{root: root, enc: enc}, nil
}

// Save encrypts and writes plaintext, returning the relative storage
// path and the plaintext SHA-256 hex.
func (s *FileStore) Save(plaintext []byte) (path string, contentHash string, err error) {
	sum := sha256.Sum256(plaintext)
	contentHash = hex.EncodeToString(sum[:])
	// Two-level fanout keeps directory sizes bounded.
	path = filepath.Join(contentHash[:2], contentHash[2:4], contentHash)

	full := filepath.Join(s.root, path)
	if _, err := os.Stat(full); err == nil {
		return path, contentHash, nil
	}

	sealed, err := s.enc.Seal(plaintext)
	if err != nil {
		return "", "", fmt.Errorf("encrypting document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", "", fmt.Errorf("creating storage directory: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o640); err != nil {
		return "", "", fmt.Errorf("writing document: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", "", fmt.Errorf("committing document: %w", err)
	}
	return path, contentHash, nil
}

// Load reads and decrypts a stored blob.
func (s *FileStore) Load(path string) ([]byte, error) {
	sealed, err := os.ReadFile(filepath.Join(s.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.E(core.KindNotFound, "stored document not found")
		}
		return nil, fmt.Errorf("reading document: %w", err)
	}
	plaintext, err := s.enc.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("decrypting document: %w", err)
	}
	return plaintext, nil
}

// DocumentRepo is the metadata lookup the loader needs.
type DocumentRepo interface {
	ByIDs(ctx context.Context, ids []string) ([]core.Document, error)
}

// DocumentLoader resolves session document ids to metadata plus
// decrypted text for the pipeline.
type DocumentLoader struct {
	repo  DocumentRepo
	store *FileStore
}

func NewDocumentLoader(repo DocumentRepo, store *FileStore) *DocumentLoader {
	return &DocumentLoader{repo: repo, store: store}
}

func (l *DocumentLoader) LoadDocuments(ctx context.Context, ids []string) ([]core.Document, map[string]string, error) {
	docs, err := l.repo.ByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(docs) != len(ids) {
		return nil, nil, core.E(core.KindNotFound, "one or more session documents are missing")
	}

	texts := make(map[string]string, len(docs))
	for _, doc := range docs {
		plaintext, err := l.store.Load(doc.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading document %s: %w", doc.ID, err)
		}
		texts[doc.ID] = string(plaintext)
	}
	return docs, texts, nil
}

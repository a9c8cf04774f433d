package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestReadUploadAcceptsRegularFile(t *testing.T) {
	rec := httptest.NewRecorder()
	content, filename, ok := readUpload(rec, multipartUpload(t, "inv.pdf", []byte("%PDF-1.7 invoice body")))

	require.True(t, ok)
	assert.Equal(t, "inv.pdf", filename)
	assert.Equal(t, []byte("%PDF-1.7 invoice body"), content)
}

func TestReadUploadRejectsEmptyFile(t *testing.T) {
	rec := httptest.NewRecorder()
	_, _, ok := readUpload(rec, multipartUpload(t, "empty.pdf", nil))

	require.False(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty file")
}

func TestReadUploadRejectsOversizeBody(t *testing.T) {
	rec := httptest.NewRecorder()
	_, _, ok := readUpload(rec, multipartUpload(t, "huge.pdf", bytes.Repeat([]byte{'a'}, maxUploadBytes+1)))

	require.False(t, ok)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestReadUploadRejectsPDFWithEmbeddedJavaScript(t *testing.T) {
	pdf := []byte("%PDF-1.7\n1 0 obj\n<< /Type /Action /S /JavaScript /JS (app.alert('x')) >>\nendobj")
	rec := httptest.NewRecorder()
	_, _, ok := readUpload(rec, multipartUpload(t, "trap.pdf", pdf))

	require.False(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "embedded_js")
}

func TestContainsEmbeddedJSScopedToPDF(t *testing.T) {
	assert.True(t, containsEmbeddedJS([]byte("%PDF-1.4 ... /JavaScript ...")))
	assert.True(t, containsEmbeddedJS([]byte("%PDF-1.4 ... /JS (x) ...")))
	assert.False(t, containsEmbeddedJS([]byte("%PDF-1.4 plain content")))

	// Plain text mentioning the markers is not a PDF and passes.
	assert.False(t, containsEmbeddedJS([]byte("notes about /JavaScript actions")))
}

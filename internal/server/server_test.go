package server

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/rivet/attachment"
	"github.com/rivetlabs/rivet/internal/config"
	"github.com/rivetlabs/rivet/internal/repository"
	"github.com/rivetlabs/rivet/storage"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		SigningSecret: []byte("testsecret"),
		SignedURLTTL:  time.Minute,
		AllowedTypes:  []string{"image/*"},
		MaxFileSize:   1 << 20,
		Styles:        map[string]attachment.Style{"thumb": {Geometry: "100x100#"}},
	}
	backend := storage.NewMemory()
	def, err := NewImageDefinition(cfg, backend)
	require.NoError(t, err)
	return New(cfg, nil, def, backend, nil)
}

func TestPhotoResponseIncludesStyleURLs(t *testing.T) {
	s := testServer(t)
	photo := &repository.Photo{
		ID:    "42",
		Title: "sunset",
		Image: attachment.Meta{FileName: "sunset.jpg", ContentType: "image/jpeg", FileSize: 10, UpdatedAt: time.Now()},
	}

	resp := s.photoResponse(photo)
	urls := resp["urls"].(map[string]string)
	assert.Equal(t, "/photos/images/42/original_sunset.jpg", urls["original"])
	assert.Equal(t, "/photos/images/42/thumb_sunset.jpg", urls["thumb"])

	files := resp["files"].(map[string]string)
	assert.Contains(t, files["thumb"], "/photos/42/file/thumb?expires=")
	assert.Contains(t, files["thumb"], "&sig=")
}

func TestPhotoResponseMissingFile(t *testing.T) {
	s := testServer(t)
	photo := &repository.Photo{ID: "42", Title: "empty"}

	resp := s.photoResponse(photo)
	urls := resp["urls"].(map[string]string)
	assert.Equal(t, "/photos/images/missing_thumb.png", urls["thumb"])
	_, hasFiles := resp["files"]
	assert.False(t, hasFiles, "no signed links without an attached file")
}

func TestUploadRejectsDisallowedContentType(t *testing.T) {
	s := testServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	s.handlePhotos(rec, req)
	assert.Equal(t, 422, rec.Code)
	assert.Contains(t, rec.Body.String(), "content type")
}

func TestUploadRequiresFileField(t *testing.T) {
	s := testServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("title", "no file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	s.handlePhotos(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestHandleFileRejectsBadSignature(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/photos/42/file/thumb?expires=99999999999&sig=bogus", nil)
	rec := httptest.NewRecorder()

	s.handlePhotoRoute(rec, req)
	assert.Equal(t, 403, rec.Code)
}

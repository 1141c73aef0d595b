package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/rivet/geometry"
	"github.com/rivetlabs/rivet/processor"
	"github.com/rivetlabs/rivet/storage"
)

type testRecord struct {
	Attachments
	id   string
	meta map[string]Meta
}

func (r *testRecord) RecordID() string    { return r.id }
func (r *testRecord) RecordClass() string { return "Photo" }
func (r *testRecord) AttachmentMeta(name string) Meta {
	return r.meta[name]
}
func (r *testRecord) SetAttachmentMeta(name string, m Meta) {
	if r.meta == nil {
		r.meta = make(map[string]Meta)
	}
	r.meta[name] = m
}

// fakeBackend records every storage operation in order and can fail writes.
type fakeBackend struct {
	mu         sync.Mutex
	objects    map[string][]byte
	writes     []string
	deletes    []string
	failWrites bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (b *fakeBackend) Write(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return &storage.StorageError{Op: "write", Path: path, Err: errors.New("injected failure")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[path] = data
	b.writes = append(b.writes, path)
	return nil
}

func (b *fakeBackend) Read(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, &storage.StorageError{Op: "read", Path: path, Err: storage.ErrNotFound}
	}
	return data, nil
}

func (b *fakeBackend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	b.deletes = append(b.deletes, path)
	return nil
}

func (b *fakeBackend) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func (b *fakeBackend) URL(ctx context.Context, path string) (string, error) {
	return "fake://" + path, nil
}

func defineImage(t *testing.T, backend storage.Backend, styles map[string]Style, extra ...func(*Spec)) *Definition {
	t.Helper()
	spec := Spec{Name: "image", Styles: styles, Backend: backend}
	for _, fn := range extra {
		fn(&spec)
	}
	def, err := Define(spec)
	require.NoError(t, err)
	return def
}

func stubTools(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	identify := filepath.Join(dir, "identify")
	convert := filepath.Join(dir, "convert")
	require.NoError(t, os.WriteFile(identify, []byte("#!/bin/sh\necho 400x300\n"), 0o755))
	require.NoError(t, os.WriteFile(convert, []byte("#!/bin/sh\nfor a in \"$@\"; do last=\"$a\"; done\nprintf variant > \"$last\"\n"), 0o755))
	origIdentify, origConvert := geometry.IdentifyCommand, processor.ConvertCommand
	geometry.IdentifyCommand = identify
	processor.ConvertCommand = convert
	t.Cleanup(func() {
		geometry.IdentifyCommand = origIdentify
		processor.ConvertCommand = origConvert
	})
}

func TestDefineDefaults(t *testing.T) {
	def := defineImage(t, newFakeBackend(), nil)
	assert.Equal(t, "image", def.Name())
	assert.Equal(t, []string{"original"}, def.StyleNames())
	assert.Equal(t, DefaultURLTemplate, def.spec.URLTemplate)
	assert.Equal(t, def.spec.URLTemplate, def.spec.PathTemplate)
	assert.Equal(t, OriginalStyle, def.spec.DefaultStyle)
	assert.NotNil(t, def.spec.Interpolator)
}

func TestDefineRejectsMissingPieces(t *testing.T) {
	_, err := Define(Spec{Backend: newFakeBackend()})
	assert.Error(t, err)

	_, err = Define(Spec{Name: "image"})
	assert.Error(t, err)

	_, err = Define(Spec{Name: "image", Backend: newFakeBackend(), DefaultStyle: "thumb"})
	assert.Error(t, err, "default style must be configured")
}

func TestAssignStagesWithoutStorageWrites(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)

	err := att.Assign(context.Background(), FromBytes("my portrait.jpg", "image/jpeg", []byte("jpegbytes")))
	require.NoError(t, err)

	assert.True(t, att.Present())
	assert.True(t, att.Dirty())
	assert.Empty(t, backend.writes, "no bytes may reach storage before save")
	assert.Equal(t, "my_portrait.jpg", rec.meta["image"].FileName)
	assert.Equal(t, int64(9), rec.meta["image"].FileSize)
}

func TestSaveFlushesQueuedWrite(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("jpegbytes"))))
	require.NoError(t, att.Save(ctx))

	assert.False(t, att.Dirty())
	assert.Equal(t, []string{"/photos/images/42/original_portrait.jpg"}, backend.writes)
	data, err := backend.Read(ctx, "/photos/images/42/original_portrait.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))
}

func TestReassignDeletesOldVariantsAfterNewWrites(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("first.jpg", "image/jpeg", []byte("one"))))
	require.NoError(t, att.Save(ctx))
	require.NoError(t, att.Assign(ctx, FromBytes("second.jpg", "image/jpeg", []byte("two"))))
	require.NoError(t, att.Save(ctx))

	assert.Equal(t, []string{
		"/photos/images/42/original_first.jpg",
		"/photos/images/42/original_second.jpg",
	}, backend.writes)
	assert.Equal(t, []string{"/photos/images/42/original_first.jpg"}, backend.deletes)

	ok, err := backend.Exists(ctx, "/photos/images/42/original_second.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReassignSameFilenameKeepsVariants(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("one"))))
	require.NoError(t, att.Save(ctx))
	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("two"))))
	require.NoError(t, att.Save(ctx))

	ok, err := backend.Exists(ctx, "/photos/images/42/original_portrait.jpg")
	require.NoError(t, err)
	assert.True(t, ok, "variant must survive a same-filename reassign save")
	data, err := backend.Read(ctx, "/photos/images/42/original_portrait.jpg")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Empty(t, backend.deletes, "nothing stale to remove when the paths are unchanged")
}

func TestWriteFailureBlocksDeferredDeletes(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("first.jpg", "image/jpeg", []byte("one"))))
	require.NoError(t, att.Save(ctx))

	require.NoError(t, att.Assign(ctx, FromBytes("second.jpg", "image/jpeg", []byte("two"))))
	backend.failWrites = true
	err := att.Save(ctx)

	var se *storage.StorageError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, backend.deletes, "a failed write must leave deferred deletes unexecuted")
}

func TestAssignThenClearIsNetNoop(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("bytes"))))
	require.NoError(t, att.Assign(ctx, nil))
	require.NoError(t, att.Save(ctx))

	assert.Empty(t, backend.writes)
	assert.Empty(t, backend.deletes)
	assert.False(t, att.Present())
	assert.Equal(t, Meta{}, rec.meta["image"])
}

func TestClearPersistedAttachment(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("bytes"))))
	require.NoError(t, att.Save(ctx))
	require.NoError(t, att.Assign(ctx, nil))
	require.NoError(t, att.Save(ctx))

	assert.Equal(t, []string{"/photos/images/42/original_portrait.jpg"}, backend.deletes)
	assert.False(t, att.Present())
}

func TestDestroyAttachedFiles(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, map[string]Style{
		"thumb":  {Geometry: "100x100#"},
		"medium": {Geometry: "300x300"},
	})
	rec := &testRecord{id: "7", meta: map[string]Meta{
		"image": {FileName: "portrait.jpg", ContentType: "image/jpeg", FileSize: 5, UpdatedAt: time.Now()},
	}}
	att := rec.Attachments.Get(def, rec)

	require.NoError(t, att.DestroyAttachedFiles(context.Background()))

	// Exactly one delete per persisted style, no writes, executed immediately.
	assert.Len(t, backend.deletes, 3)
	assert.Empty(t, backend.writes)
	assert.Contains(t, backend.deletes, "/photos/images/7/original_portrait.jpg")
	assert.Contains(t, backend.deletes, "/photos/images/7/thumb_portrait.jpg")
	assert.Contains(t, backend.deletes, "/photos/images/7/medium_portrait.jpg")
	assert.False(t, att.Present())
}

func TestMultiStyleAssignAndSave(t *testing.T) {
	stubTools(t)
	backend := newFakeBackend()
	def := defineImage(t, backend, map[string]Style{
		"thumb": {Geometry: "100x100#"},
	}, func(s *Spec) { s.Whiny = true })
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("jpegbytes"))))
	require.Empty(t, att.Errors)
	require.NoError(t, att.Save(ctx))

	assert.Equal(t, []string{
		"/photos/images/42/original_portrait.jpg",
		"/photos/images/42/thumb_portrait.jpg",
	}, backend.writes)
	data, err := backend.Read(ctx, "/photos/images/42/thumb_portrait.jpg")
	require.NoError(t, err)
	assert.Equal(t, "variant", string(data))
}

func TestUnreadableSourceFailsValidation(t *testing.T) {
	stubTools(t)
	broken := filepath.Join(t.TempDir(), "identify")
	require.NoError(t, os.WriteFile(broken, []byte("#!/bin/sh\nexit 1\n"), 0o755))
	geometry.IdentifyCommand = broken

	backend := newFakeBackend()
	def := defineImage(t, backend, map[string]Style{
		"thumb": {Geometry: "100x100#"},
	})
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("broken.jpg", "image/jpeg", []byte("not an image"))))

	assert.False(t, att.Valid())
	var nie *geometry.NotIdentifiedError
	require.True(t, errors.As(errors.Join(att.Errors...), &nie),
		"an unreadable source must be reported on the attachment even when not whiny")
}

func TestInvalidAssignmentStagesNothing(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil, func(s *Spec) {
		s.Validations = []Validation{ValidateContentType("image/*")}
	})
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("doc.txt", "text/plain", []byte("hi"))))
	assert.False(t, att.Valid())
	require.Len(t, att.Errors, 1)

	require.NoError(t, att.Save(ctx))
	assert.Empty(t, backend.writes)
	assert.Empty(t, backend.deletes)
}

func TestValidators(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil, func(s *Spec) {
		s.Validations = []Validation{
			ValidatePresence(),
			ValidateContentType("image/jpeg", "image/png"),
			ValidateSize(3, 1000),
		}
	})
	rec := &testRecord{id: "1"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	require.NoError(t, att.Assign(ctx, FromBytes("a.jpg", "image/jpeg", []byte("okbytes"))))
	assert.True(t, att.Valid())

	require.NoError(t, att.Assign(ctx, FromBytes("a.jpg", "image/jpeg", []byte("x"))))
	assert.False(t, att.Valid(), "too small")

	require.NoError(t, att.Assign(ctx, nil))
	att.Validate()
	assert.False(t, att.Valid(), "presence")
}

func TestURLAndString(t *testing.T) {
	backend := newFakeBackend()
	def := defineImage(t, backend, nil)
	rec := &testRecord{id: "42"}
	att := rec.Attachments.Get(def, rec)
	ctx := context.Background()

	u, err := att.URL("thumb")
	require.NoError(t, err)
	assert.Equal(t, "/photos/images/missing_thumb.png", u, "missing-file URL before assignment")

	require.NoError(t, att.Assign(ctx, FromBytes("portrait.jpg", "image/jpeg", []byte("bytes"))))
	u, err = att.URL("thumb")
	require.NoError(t, err)
	assert.Equal(t, "/photos/images/42/thumb_portrait.jpg", u)
	assert.Equal(t, "/photos/images/42/original_portrait.jpg", att.String())

	remote, err := att.RemoteURL(ctx, "original")
	require.NoError(t, err)
	assert.Equal(t, "fake:///photos/images/42/original_portrait.jpg", remote)
}

func TestAttachmentsCacheReturnsSameInstance(t *testing.T) {
	def := defineImage(t, newFakeBackend(), nil)
	rec := &testRecord{id: "1"}
	first := rec.Attachments.Get(def, rec)
	second := rec.Attachments.Get(def, rec)
	assert.Same(t, first, second)
}

func TestAssignRejectsNamelessUpload(t *testing.T) {
	def := defineImage(t, newFakeBackend(), nil)
	rec := &testRecord{id: "1"}
	att := rec.Attachments.Get(def, rec)

	err := att.Assign(context.Background(), FromBytes("", "image/jpeg", []byte("x")))
	assert.Error(t, err)
}

func TestFromPathUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text content"), 0o644))

	up, err := FromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "note.txt", up.Filename())
	assert.Equal(t, int64(18), up.Size())
	assert.Contains(t, up.ContentType(), "text/plain")

	rc, err := up.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "plain text content", string(data))
}

func ExampleDefine() {
	def, _ := Define(Spec{
		Name:    "image",
		Backend: storage.NewMemory(),
		Styles: map[string]Style{
			"thumb": {Geometry: "100x100#"},
		},
	})
	fmt.Println(def.StyleNames())
	// Output: [original thumb]
}

// Package attachment binds uploaded files to records of a persistent entity:
// it derives styled variants from an assignment, computes their storage
// locations through templated paths, and commits writes and deletes in step
// with the owning record's save and destroy lifecycle.
//
// Between Assign and the next successful Save nothing touches permanent
// storage; all work is staged in temp files and in-memory queues, so a
// discarded or rolled-back record leaves no storage side effects.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/rivetlabs/rivet/geometry"
	"github.com/rivetlabs/rivet/processor"
)

// Attachment is the per-record, per-attribute controller. It is not safe for
// concurrent mutation; a record instance and its attachments belong to one
// caller at a time.
type Attachment struct {
	def    *Definition
	record Record

	meta  Meta // pending state, assigned but maybe not yet saved
	saved Meta // what permanent storage currently reflects
	dirty bool

	queuedForWrite  map[string]*os.File
	writeOrder      []string
	queuedForDelete []string

	// Errors collects validation and processing failures from the last
	// assignment so the host can surface them through its own reporting.
	Errors []error
}

func newAttachment(def *Definition, r Record) *Attachment {
	meta := r.AttachmentMeta(def.spec.Name)
	return &Attachment{
		def:            def,
		record:         r,
		meta:           meta,
		saved:          meta,
		queuedForWrite: make(map[string]*os.File),
	}
}

// interpolation.Attachment implementation; the attachment resolves tokens
// against its pending state.

func (a *Attachment) Name() string             { return a.def.spec.Name }
func (a *Attachment) RecordID() string         { return a.record.RecordID() }
func (a *Attachment) RecordClass() string      { return a.record.RecordClass() }
func (a *Attachment) OriginalFilename() string { return a.meta.FileName }
func (a *Attachment) UpdatedAt() time.Time     { return a.meta.UpdatedAt }
func (a *Attachment) DefaultStyle() string     { return a.def.spec.DefaultStyle }

// metaView resolves tokens against an explicit Meta, which lets delete paths
// be computed from the previously persisted state after meta has moved on.
type metaView struct {
	att  *Attachment
	meta Meta
}

func (v metaView) Name() string             { return v.att.Name() }
func (v metaView) RecordID() string         { return v.att.RecordID() }
func (v metaView) RecordClass() string      { return v.att.RecordClass() }
func (v metaView) OriginalFilename() string { return v.meta.FileName }
func (v metaView) UpdatedAt() time.Time     { return v.meta.UpdatedAt }
func (v metaView) DefaultStyle() string     { return v.att.DefaultStyle() }

// Meta returns the pending metadata.
func (a *Attachment) Meta() Meta { return a.meta }

// Present reports whether a file is assigned or persisted.
func (a *Attachment) Present() bool { return a.meta.Present() }

// Dirty reports whether there is pending state not yet flushed by Save.
func (a *Attachment) Dirty() bool { return a.dirty }

// Valid reports whether the last assignment passed all validations.
func (a *Attachment) Valid() bool { return len(a.Errors) == 0 }

// Path resolves the storage path for a style from the path template.
func (a *Attachment) Path(style string) (string, error) {
	return a.def.spec.Interpolator.Expand(a.def.spec.PathTemplate, a, style)
}

// URL resolves the public URL for a style: the URL template when a file is
// present, the missing-file template otherwise.
func (a *Attachment) URL(style string) (string, error) {
	if a.meta.Present() {
		return a.def.spec.Interpolator.Expand(a.def.spec.URLTemplate, a, style)
	}
	return a.def.spec.Interpolator.Expand(a.def.spec.DefaultURLTemplate, a, style)
}

// RemoteURL asks the storage backend for a retrieval URL (presigned on S3).
func (a *Attachment) RemoteURL(ctx context.Context, style string) (string, error) {
	path, err := a.Path(style)
	if err != nil {
		return "", err
	}
	return a.def.spec.Backend.URL(ctx, path)
}

// String renders the default style's URL, or empty on resolution failure.
func (a *Attachment) String() string {
	u, err := a.URL(a.def.spec.DefaultStyle)
	if err != nil {
		return ""
	}
	return u
}

// Validate reruns the spec's validations against the pending state and
// repopulates Errors.
func (a *Attachment) Validate() {
	a.Errors = a.Errors[:0]
	for _, v := range a.def.spec.Validations {
		if err := v(a); err != nil {
			a.Errors = append(a.Errors, err)
		}
	}
}

// Assign stages an upload: the original is copied to a temp file, a variant
// is produced per configured style, and previously persisted variants are
// queued for deletion. Nothing is written to storage until Save.
//
// Assign(ctx, nil) clears the attachment: it queues the persisted variants
// for deletion and blanks the metadata. Reassigning before Save discards the
// prior pending state without any storage effect.
func (a *Attachment) Assign(ctx context.Context, up Upload) error {
	a.discardPending()

	if up == nil {
		a.queueSavedForDelete()
		a.setMeta(Meta{})
		a.dirty = true
		return nil
	}
	if up.Filename() == "" {
		return fmt.Errorf("attachment %q: upload has no original filename", a.def.spec.Name)
	}

	tmp, written, err := a.stageOriginal(up)
	if err != nil {
		return err
	}

	size := up.Size()
	if size <= 0 {
		size = written
	}
	a.setMeta(Meta{
		FileName:    sanitizeFilename(up.Filename()),
		ContentType: up.ContentType(),
		FileSize:    size,
		UpdatedAt:   time.Now().UTC(),
	})
	a.dirty = true

	a.Validate()
	if len(a.Errors) > 0 {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil
	}

	a.queueSavedForDelete()

	if err := a.process(ctx, tmp); err != nil {
		a.discardPending()
		return err
	}
	return nil
}

// stageOriginal copies the upload stream to a temp file the attachment owns.
func (a *Attachment) stageOriginal(up Upload) (*os.File, int64, error) {
	src, err := up.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(os.TempDir(), fmt.Sprintf("rivet-%s%s", uuid.NewString(), filepath.Ext(up.Filename())))
	tmp, err := os.Create(path)
	if err != nil {
		return nil, 0, fmt.Errorf("stage upload: %w", err)
	}
	written, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(path)
		return nil, 0, fmt.Errorf("stage upload: %w", err)
	}
	return tmp, written, nil
}

// process runs the thumbnail processor for every non-original style,
// sequentially in StyleNames order so error reporting is deterministic.
func (a *Attachment) process(ctx context.Context, original *os.File) error {
	a.enqueueWrite(OriginalStyle, original)
	for _, name := range a.def.styleNames {
		if name == OriginalStyle {
			continue
		}
		st := a.def.spec.Styles[name]
		th, err := processor.NewThumbnail(original, processor.Options{
			Geometry:       st.Geometry,
			Format:         st.Format,
			ConvertOptions: st.ConvertOptions,
			Whiny:          a.def.spec.Whiny,
			Attachment:     a.def.spec.Name,
		})
		if err != nil {
			a.Errors = append(a.Errors, err)
			continue
		}
		out, err := th.Make(ctx)
		if err != nil {
			var cnf *geometry.CommandNotFoundError
			if errors.As(err, &cnf) {
				return err
			}
			a.Errors = append(a.Errors, err)
			continue
		}
		if out == nil {
			// Quiet processing failure: this style gets no variant.
			continue
		}
		a.enqueueWrite(name, out)
	}
	return nil
}

func (a *Attachment) enqueueWrite(style string, f *os.File) {
	if _, ok := a.queuedForWrite[style]; !ok {
		a.writeOrder = append(a.writeOrder, style)
	}
	a.queuedForWrite[style] = f
}

// queueSavedForDelete defers removal of every variant permanent storage still
// holds, with paths resolved against the persisted metadata.
func (a *Attachment) queueSavedForDelete() {
	if !a.saved.Present() {
		return
	}
	view := metaView{att: a, meta: a.saved}
	for _, style := range a.def.styleNames {
		path, err := a.def.spec.Interpolator.Expand(a.def.spec.PathTemplate, view, style)
		if err != nil {
			log.Printf("attachment %s: resolve delete path for style %s: %v", a.def.spec.Name, style, err)
			continue
		}
		a.queuedForDelete = append(a.queuedForDelete, path)
	}
}

// Save flushes the staged state. The host record invokes it from its
// post-save hook, after its own persistence succeeded.
//
// Writes run first; a write failure is fatal and leaves the deferred deletes
// untouched (already-written variants are not rolled back). Deletes then run
// best-effort: individual failures are logged and skipped, since a stale
// orphaned file is an acceptable degraded outcome.
func (a *Attachment) Save(ctx context.Context) error {
	written := make(map[string]bool, len(a.writeOrder))
	for _, style := range a.writeOrder {
		f := a.queuedForWrite[style]
		path, err := a.Path(style)
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat staged %s variant: %w", style, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind staged %s variant: %w", style, err)
		}
		if err := a.def.spec.Backend.Write(ctx, path, f, info.Size(), a.contentTypeFor(style)); err != nil {
			return err
		}
		written[path] = true
	}
	for _, path := range a.queuedForDelete {
		// A reassign that keeps the filename resolves the old paths to the
		// same locations the flush just wrote; removing those would destroy
		// the fresh variants.
		if written[path] {
			continue
		}
		if err := a.def.spec.Backend.Delete(ctx, path); err != nil {
			log.Printf("attachment %s: deferred delete %s: %v", a.def.spec.Name, path, err)
		}
	}
	valid := a.Valid()
	a.discardPending()
	if valid {
		a.saved = a.meta
	}
	a.dirty = false
	return nil
}

// DestroyAttachedFiles removes every persisted variant immediately. The host
// record invokes it from its pre-destroy hook; delete failures are logged and
// never block the record's destruction.
func (a *Attachment) DestroyAttachedFiles(ctx context.Context) error {
	a.discardPending()
	a.queueSavedForDelete()
	for _, path := range a.queuedForDelete {
		if err := a.def.spec.Backend.Delete(ctx, path); err != nil {
			log.Printf("attachment %s: destroy delete %s: %v", a.def.spec.Name, path, err)
		}
	}
	a.queuedForDelete = nil
	a.setMeta(Meta{})
	a.saved = Meta{}
	a.dirty = false
	return nil
}

// discardPending drops staged temp files and queues without touching storage.
func (a *Attachment) discardPending() {
	for _, f := range a.queuedForWrite {
		f.Close()
		os.Remove(f.Name())
	}
	a.queuedForWrite = make(map[string]*os.File)
	a.writeOrder = nil
	a.queuedForDelete = nil
	a.Errors = nil
}

func (a *Attachment) setMeta(m Meta) {
	a.meta = m
	a.record.SetAttachmentMeta(a.def.spec.Name, m)
}

// contentTypeFor derives the stored content type: the upload's own type for
// the original, the style format's type when the format is overridden.
func (a *Attachment) contentTypeFor(style string) string {
	if style == OriginalStyle {
		return a.meta.ContentType
	}
	if format := a.def.spec.Styles[style].Format; format != "" {
		if ct := mime.TypeByExtension("." + format); ct != "" {
			return ct
		}
	}
	return a.meta.ContentType
}

var unsafeFilenameChars = regexp.MustCompile(`[^\w.\-]`)

func sanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(filepath.Base(name), "_")
}

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/rivetlabs/rivet/attachment"
	"github.com/rivetlabs/rivet/internal/preview"
	"github.com/rivetlabs/rivet/internal/queue"
	"github.com/rivetlabs/rivet/internal/repository"
	"github.com/rivetlabs/rivet/storage"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	repo    *repository.PhotoRepository
	def     *attachment.Definition
	backend storage.Backend
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo *repository.PhotoRepository, def *attachment.Definition, backend storage.Backend) *Processor {
	return &Processor{repo: repo, def: def, backend: backend}
}

// Handler registers the reprocess job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ReprocessTask, p.handleReprocess)
	return mux
}

// handleReprocess rebuilds every styled variant of a photo from the persisted
// original: the original bytes are read back from storage and run through the
// normal assign/save cycle.
func (p *Processor) handleReprocess(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReprocessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	photo, err := p.repo.Get(ctx, payload.PhotoID)
	if err != nil {
		return fmt.Errorf("load photo %s: %w", payload.PhotoID, err)
	}
	att := photo.Attachments.Get(p.def, photo)
	if !att.Present() {
		log.Printf("reprocess %s: no attachment, skipping", payload.PhotoID)
		return nil
	}
	originalPath, err := att.Path(attachment.OriginalStyle)
	if err != nil {
		return fmt.Errorf("resolve original path: %w", err)
	}
	data, err := p.backend.Read(ctx, originalPath)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}
	meta := att.Meta()
	if err := att.Assign(ctx, attachment.FromBytes(meta.FileName, meta.ContentType, data)); err != nil {
		return fmt.Errorf("assign original: %w", err)
	}
	if !att.Valid() {
		return fmt.Errorf("reprocess %s: %v", payload.PhotoID, att.Errors)
	}
	if err := att.Save(ctx); err != nil {
		return fmt.Errorf("save variants: %w", err)
	}
	if err := p.repo.UpdateMeta(ctx, photo); err != nil {
		return fmt.Errorf("update photo meta: %w", err)
	}
	if strings.EqualFold(meta.ContentType, "application/pdf") {
		if err := p.writePDFPreview(ctx, originalPath, data); err != nil {
			// Preview is best-effort; the variants themselves are done.
			log.Printf("reprocess %s: pdf preview: %v", payload.PhotoID, err)
		}
	}
	log.Printf("photo %s reprocessed (%d bytes original)", payload.PhotoID, len(data))
	return nil
}

func (p *Processor) writePDFPreview(ctx context.Context, originalPath string, data []byte) error {
	pv, err := preview.FromPDF(data)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("pages: %d\n\n%s", pv.Pages, pv.Snippet)
	reader := bytes.NewReader([]byte(body))
	return p.backend.Write(ctx, originalPath+".txt", reader, int64(len(body)), "text/plain; charset=utf-8")
}

package attachment

import "time"

// Meta carries the four persisted fields of one attachment on one record:
// <name>_file_name, <name>_content_type, <name>_file_size, <name>_updated_at.
type Meta struct {
	FileName    string
	ContentType string
	FileSize    int64
	UpdatedAt   time.Time
}

// Present reports whether a file has been assigned.
func (m Meta) Present() bool { return m.FileName != "" }

// Record is the contract a host entity satisfies to own attachments. The host
// must call Save on each attachment after its own successful persistence and
// DestroyAttachedFiles before its own deletion.
type Record interface {
	RecordID() string
	RecordClass() string
	AttachmentMeta(name string) Meta
	SetAttachmentMeta(name string, m Meta)
}

// Attachments is the per-record attachment cache. Embed it in a record type
// and fetch attachments through Get; instances are created lazily on first
// access and live exactly as long as the record value does.
type Attachments struct {
	byName map[string]*Attachment
}

// Get returns the record's attachment for def, creating it on first access.
func (a *Attachments) Get(def *Definition, r Record) *Attachment {
	if a.byName == nil {
		a.byName = make(map[string]*Attachment)
	}
	if att, ok := a.byName[def.spec.Name]; ok {
		return att
	}
	att := newAttachment(def, r)
	a.byName[def.spec.Name] = att
	return att
}

package session

import (
	"slices"
	"time"

	"github.com/starford/quire/internal/cache"
	"github.com/starford/quire/internal/lineending"
)

// Kind separates documents that have never been written to a real path
// from those that have.
type Kind string

const (
	Temporary Kind = "temporary"
	Persisted Kind = "persisted"
)

// Document is a read-only view of an open document.
type Document struct {
	Path            string           `json:"path"`
	Name            string           `json:"name"`
	Kind            Kind             `json:"kind"`
	Content         string           `json:"content"`
	OriginalContent string           `json:"-"`
	Modified        bool             `json:"isModified"`
	Encoding        string           `json:"encoding"`
	LineEnding      lineending.Style `json:"lineEnding"`
}

// IsTemporary reports whether the document has no backing file yet.
func (d Document) IsTemporary() bool { return d.Kind == Temporary }

// EffectivelyEmpty reports whether the buffer holds nothing worth keeping.
func (d Document) EffectivelyEmpty() bool {
	return d.Content == "" || d.Content == d.OriginalContent
}

// document is the registry's mutable record. Fields are guarded by
// Session.mu.
type document struct {
	path       string
	name       string
	kind       Kind
	content    string
	original   string
	dirty      bool // forced modified, set by a line-ending rewrite
	encoding   string
	lineEnding lineending.Style
}

func (d *document) modified() bool {
	return d.dirty || d.content != d.original
}

func (d *document) effectivelyEmpty() bool {
	return d.content == "" || d.content == d.original
}

// unsaved reports whether closing d would lose work.
func (d *document) unsaved() bool {
	if !d.modified() {
		return false
	}
	return d.kind == Persisted || !d.effectivelyEmpty()
}

func (d *document) view() Document {
	return Document{
		Path:            d.path,
		Name:            d.name,
		Kind:            d.kind,
		Content:         d.content,
		OriginalContent: d.original,
		Modified:        d.modified(),
		Encoding:        d.encoding,
		LineEnding:      d.lineEnding,
	}
}

func (d *document) cacheEntry() cache.Entry {
	return cache.Entry{Content: d.content, Encoding: d.encoding, LineEnding: string(d.lineEnding)}
}

var timeZero time.Time

func containsDoc(docs []*document, d *document) bool {
	return slices.Contains(docs, d)
}

func cacheEntryFor(content, encoding string, le lineending.Style) cache.Entry {
	return cache.Entry{Content: content, Encoding: encoding, LineEnding: string(le)}
}

package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/quire/internal/lineending"
	"github.com/starford/quire/internal/parser"
	"github.com/starford/quire/internal/prompt"
	"github.com/starford/quire/internal/session"
)

// OpenRequest opens a file. An empty path asks the user to pick one.
type OpenRequest struct {
	Path string `json:"path" example:"/home/me/notes/todo.md"`
}

func (r *OpenRequest) Validate() error { return nil }

// CreateRequest creates a temporary document.
type CreateRequest struct {
	Name    string `json:"name" example:"untitled"`
	Content string `json:"content"`
}

func (r *CreateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Length(0, 255)),
	)
}

// UpdateContentRequest replaces the current buffer.
type UpdateContentRequest struct {
	Content *string `json:"content"`
}

func (r *UpdateContentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.NotNil),
	)
}

// SaveRequest saves a document, the current one when Path is empty.
type SaveRequest struct {
	Path   string `json:"path"`
	Target string `json:"target"`
	SaveAs bool   `json:"saveAs"`
}

func (r *SaveRequest) Validate() error { return nil }

// PathRequest addresses one open document.
type PathRequest struct {
	Path string `json:"path" example:"temp://untitled"`
}

func (r *PathRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required),
	)
}

// RenameRequest renames an open document.
type RenameRequest struct {
	Path string `json:"path"`
	Name string `json:"name" example:"ideas.md"`
}

func (r *RenameRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
	)
}

// LineEndingRequest converts a document's line terminators.
type LineEndingRequest struct {
	Path       string `json:"path"`
	LineEnding string `json:"lineEnding" example:"CRLF"`
}

func (r *LineEndingRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.LineEnding, validation.Required,
			validation.In(string(lineending.LF), string(lineending.CRLF), string(lineending.CR))),
	)
}

// AnswerRequest answers an outstanding prompt.
type AnswerRequest struct {
	Path      string `json:"path"`
	Choice    string `json:"choice"`
	Cancelled bool   `json:"cancelled"`
}

func (r *AnswerRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Choice, validation.In(string(prompt.UseExternal), string(prompt.KeepCurrent))),
	)
}

// DocumentListItem is a document in a listing, without its buffer.
type DocumentListItem struct {
	Path       string           `json:"path"`
	Name       string           `json:"name"`
	Kind       session.Kind     `json:"kind"`
	Modified   bool             `json:"isModified"`
	Encoding   string           `json:"encoding"`
	LineEnding lineending.Style `json:"lineEnding"`
	Current    bool             `json:"current"`
	Summary    parser.Summary   `json:"summary"`
}

// DocumentListResponse wraps the open documents.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents"`
	Current   string             `json:"current"`
}

// UpdateContentResponse reports whether the buffer changed.
type UpdateContentResponse struct {
	Changed  bool             `json:"changed"`
	Document session.Document `json:"document"`
}

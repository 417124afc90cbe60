// Package prompt turns the dialog calls of a headless core into events a UI
// answers asynchronously. Each prompt blocks its caller until an answer is
// posted or the caller's context ends.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/quire/internal/apperr"
	"github.com/starford/quire/internal/sse"
)

// Type identifies the dialog a prompt stands for.
type Type string

const (
	Open    Type = "open"
	SaveAs  Type = "save_as"
	Confirm Type = "confirm"
)

// Choice is the outcome of a conflict confirmation.
type Choice string

const (
	UseExternal Choice = "external"
	KeepCurrent Choice = "current"
	// Dismissed leaves both the buffer and the file untouched.
	Dismissed Choice = ""
)

// Question describes a conflict confirmation.
type Question struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Prompt is an outstanding dialog as seen by the UI.
type Prompt struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	DefaultName string    `json:"defaultName,omitempty"`
	Question    *Question `json:"question,omitempty"`
	Choices     []Choice  `json:"choices,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Answer is what the UI posts back.
type Answer struct {
	Path      string `json:"path,omitempty"`
	Choice    Choice `json:"choice,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Publisher delivers prompt events to connected UIs.
type Publisher interface {
	Publish(event sse.Event)
}

type waiter struct {
	prompt Prompt
	answer chan Answer
}

// Broker tracks outstanding prompts.
type Broker struct {
	pub    Publisher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*waiter
}

// NewBroker creates a broker. pub may be nil, in which case prompts are
// only discoverable through Pending.
func NewBroker(pub Publisher, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{pub: pub, logger: logger, pending: make(map[string]*waiter)}
}

// PromptOpen asks for a file to open. ok is false when the user cancelled.
func (b *Broker) PromptOpen(ctx context.Context) (string, bool, error) {
	a, err := b.ask(ctx, Prompt{Type: Open})
	if err != nil {
		return "", false, err
	}
	if a.Cancelled || a.Path == "" {
		return "", false, nil
	}
	return a.Path, true, nil
}

// PromptSaveAs asks for a save target, suggesting defaultName.
func (b *Broker) PromptSaveAs(ctx context.Context, defaultName string) (string, bool, error) {
	a, err := b.ask(ctx, Prompt{Type: SaveAs, DefaultName: defaultName})
	if err != nil {
		return "", false, err
	}
	if a.Cancelled || a.Path == "" {
		return "", false, nil
	}
	return a.Path, true, nil
}

// Confirm asks the user to pick between the external and the current
// version of a document.
func (b *Broker) Confirm(ctx context.Context, q Question) (Choice, error) {
	a, err := b.ask(ctx, Prompt{
		Type:     Confirm,
		Question: &q,
		Choices:  []Choice{UseExternal, KeepCurrent},
	})
	if err != nil {
		return "", err
	}
	return a.Choice, nil
}

func (b *Broker) ask(ctx context.Context, p Prompt) (Answer, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()
	w := &waiter{prompt: p, answer: make(chan Answer, 1)}

	b.mu.Lock()
	b.pending[p.ID] = w
	b.mu.Unlock()

	b.logger.Debug("prompt: issued", slog.String("id", p.ID), slog.String("type", string(p.Type)))
	b.publish("prompt."+string(p.Type), p)

	select {
	case a := <-w.answer:
		return a, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, p.ID)
		b.mu.Unlock()
		b.publish("prompt.expired", map[string]string{"id": p.ID})
		return Answer{}, fmt.Errorf("prompt: %s: %w", p.Type, apperr.ErrCancelled)
	}
}

// Answer resolves the prompt with the given id.
func (b *Broker) Answer(id string, a Answer) error {
	b.mu.Lock()
	w, ok := b.pending[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("prompt %s: %w", id, apperr.ErrNotFound)
	}
	if w.prompt.Type == Confirm && !a.Cancelled && !slices.Contains(w.prompt.Choices, a.Choice) {
		b.mu.Unlock()
		return fmt.Errorf("prompt %s: invalid choice %q", id, a.Choice)
	}
	if a.Cancelled {
		a.Choice = Dismissed
	}
	delete(b.pending, id)
	b.mu.Unlock()

	w.answer <- a
	b.logger.Debug("prompt: answered", slog.String("id", id))
	return nil
}

// Pending returns outstanding prompts, oldest first.
func (b *Broker) Pending() []Prompt {
	b.mu.Lock()
	out := make([]Prompt, 0, len(b.pending))
	for _, w := range b.pending {
		out = append(out, w.prompt)
	}
	b.mu.Unlock()
	slices.SortFunc(out, func(x, y Prompt) int { return x.CreatedAt.Compare(y.CreatedAt) })
	return out
}

func (b *Broker) publish(typ string, data any) {
	if b.pub == nil {
		return
	}
	b.pub.Publish(sse.Event{Type: typ, Data: data})
}

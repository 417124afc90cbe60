package session

import "log/slog"

// EventKind names a registry mutation.
type EventKind string

const (
	Opened    EventKind = "opened"
	Created   EventKind = "created"
	Closed    EventKind = "closed"
	Switched  EventKind = "switched"
	Updated   EventKind = "updated"
	Saved     EventKind = "saved"
	Renamed   EventKind = "renamed"
	Refreshed EventKind = "refreshed"
	Conflict  EventKind = "conflict"
)

// Event reports one registry mutation. OldPath is set when a document
// changed its key.
type Event struct {
	Kind    EventKind `json:"kind"`
	Path    string    `json:"path"`
	OldPath string    `json:"oldPath,omitempty"`
}

// Subscribe registers fn to be called after every mutation, outside the
// registry lock, on the goroutine that performed it.
func (s *Session) Subscribe(fn func(Event)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Session) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, ev := range events {
		s.logger.Debug("session: event", slog.String("kind", string(ev.Kind)), slog.String("path", ev.Path))
		for _, fn := range subs {
			fn(ev)
		}
	}
}

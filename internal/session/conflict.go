package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/quire/internal/pathutil"
	"github.com/starford/quire/internal/prompt"
)

// resolve asks the user whether the external or the local version of key
// wins and applies the answer.
func (s *Session) resolve(ctx context.Context, key string) {
	if s.prompter == nil {
		s.logger.Warn("session: conflict left unresolved, no dialog service", slog.String("path", key))
		return
	}
	choice, err := s.prompter.Confirm(ctx, prompt.Question{
		Path:    key,
		Message: fmt.Sprintf("%s changed on disk. Keep your unsaved changes or load the external version?", pathutil.FileName(key)),
	})
	if err != nil {
		s.logger.Warn("session: conflict dialog failed",
			slog.String("path", key),
			slog.String("error", err.Error()))
		return
	}

	switch choice {
	case prompt.UseExternal:
		_, err = s.Refresh(ctx, key)
	case prompt.KeepCurrent:
		_, err = s.Save(ctx, SaveOptions{Document: key})
	default:
		s.logger.Info("session: conflict dismissed", slog.String("path", key))
		return
	}
	if err != nil {
		s.logger.Warn("session: apply conflict choice failed",
			slog.String("path", key),
			slog.String("choice", string(choice)),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("session: conflict resolved", slog.String("path", key), slog.String("choice", string(choice)))
}

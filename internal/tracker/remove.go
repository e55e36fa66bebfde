package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Remover deletes a generated artifact from the workspace
type Remover struct {
	menu   *CardMenu
	logger *slog.Logger
}

// NewRemover creates a remover
func NewRemover(m *CardMenu, log *slog.Logger) *Remover {
	return &Remover{menu: m, logger: logger.OrDefault(log)}
}

// Remove opens the artifact's card menu and picks delete
func (r *Remover) Remove(ctx context.Context, s *session.Session, ref *models.ArtifactRef) error {
	if ref == nil || ref.Kind != models.ArtifactRemote {
		return nil
	}
	if err := r.menu.Open(ctx, s.Page, ref.URL); err != nil {
		if fatal := asFatal(err); fatal != nil {
			return fatal
		}
		return fmt.Errorf("failed to open card menu: %w", err)
	}
	if err := r.menu.Choose(ctx, s.Page, r.menu.profile.Menu.DeleteTexts); err != nil {
		if fatal := asFatal(err); fatal != nil {
			return fatal
		}
		return fmt.Errorf("failed to choose delete: %w", err)
	}
	s.Touch()
	logger.FromContext(ctx, r.logger).Info("artifact removed from workspace", "artifact", ref.URL)
	return nil
}

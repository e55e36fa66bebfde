package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// TablePath is where the scene table of a batch is exported
func (o *Orchestrator) TablePath(b *models.Batch) string {
	return filepath.Join(o.RunDir(b), "scenes.json")
}

// exportTable writes the scene table next to the scene files
func (o *Orchestrator) exportTable(b *models.Batch) error {
	b.RLock()
	rows := b.Table()
	b.RUnlock()

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scene table: %w", err)
	}
	path := o.TablePath(b)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scene table: %w", err)
	}
	return os.Rename(tmp, path)
}

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/flowreel/internal/page"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Manager keeps cookie snapshots exported from live sessions
type Manager struct {
	snapshots sync.Map // snapshotID -> *models.CookieSnapshot
	storePath string   // Base path for exported bundles
}

// NewManager creates a snapshot manager rooted at storePath
func NewManager(storePath string) (*Manager, error) {
	if err := os.MkdirAll(storePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Manager{
		storePath: storePath,
	}, nil
}

// Export reads the page's cookie jar and writes it as a bundle Load accepts
func (m *Manager) Export(ctx context.Context, p page.Page, batchID string) (*models.CookieSnapshot, error) {
	cookies, err := p.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	snap := &models.CookieSnapshot{
		ID:        uuid.New().String(),
		BatchID:   batchID,
		Count:     len(cookies),
		CreatedAt: time.Now(),
	}
	snap.Path = filepath.Join(m.storePath, snap.ID+".json")

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(snap.Path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write cookie bundle: %w", err)
	}

	m.snapshots.Store(snap.ID, snap)
	return snap, nil
}

// Get retrieves a snapshot by ID
func (m *Manager) Get(id string) (*models.CookieSnapshot, error) {
	value, ok := m.snapshots.Load(id)
	if !ok {
		return nil, fmt.Errorf("snapshot not found")
	}
	return value.(*models.CookieSnapshot), nil
}

// Delete removes a snapshot and its file
func (m *Manager) Delete(id string) error {
	snap, err := m.Get(id)
	if err != nil {
		return err
	}

	if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cookie bundle: %w", err)
	}

	m.snapshots.Delete(id)
	return nil
}

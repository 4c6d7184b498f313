package recordstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

// Store keeps one raw JSON document per patient.
type Store interface {
	Type() string
	Save(ctx context.Context, patientID string, data []byte) error
	// Load returns an error wrapping errors.ErrNotFound for unknown patients.
	Load(ctx context.Context, patientID string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, patientID string) error
}

type Factory func(cfg config.RecordStoreConfig) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.RecordStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("%w: record_store.type is required", appErr.ErrConfiguration)
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported record store type: %s", appErr.ErrConfiguration, cfg.Type)
	}
	return factory(cfg)
}

const recordExt = ".json"

// objectName maps a patient id to a flat, path-safe file name.
func objectName(patientID string) (string, error) {
	if strings.TrimSpace(patientID) == "" {
		return "", fmt.Errorf("%w: patient id is required", appErr.ErrInvalid)
	}
	return url.PathEscape(patientID) + recordExt, nil
}

func patientIDFromObject(name string) (string, bool) {
	if !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	id, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func notFound(patientID string) error {
	return fmt.Errorf("patient record %s: %w", patientID, appErr.ErrNotFound)
}

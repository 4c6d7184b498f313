package recordstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xxxsen/clinicalcopilot/internal/config"
	appErr "github.com/xxxsen/clinicalcopilot/internal/pkg/errors"
)

type localStore struct {
	dir string
}

func init() {
	Register(config.RecordStoreLocal, func(cfg config.RecordStoreConfig) (Store, error) {
		return NewLocal(cfg.Dir)
	})
}

func NewLocal(dir string) (Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: local record store dir is required", appErr.ErrConfiguration)
	}
	return &localStore{dir: dir}, nil
}

func (s *localStore) Type() string {
	return config.RecordStoreLocal
}

func (s *localStore) Save(ctx context.Context, patientID string, data []byte) error {
	name, err := objectName(patientID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

func (s *localStore) Load(ctx context.Context, patientID string) ([]byte, error) {
	name, err := objectName(patientID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(patientID)
	}
	return data, err
}

func (s *localStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := patientIDFromObject(entry.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *localStore) Delete(ctx context.Context, patientID string) error {
	name, err := objectName(patientID)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return notFound(patientID)
	}
	return err
}

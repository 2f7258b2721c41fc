package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// FileStore は domain.ProfileStore のJSONファイル実装。
// ジョブスナップショットとは独立したファイルにプロファイルを保持する。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore は新しい FileStore を作成する
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// GetProfile はプロファイルを取得する。
// 存在しない場合は domain.ErrNotFound を返す。
func (s *FileStore) GetProfile(ctx context.Context, userKey string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}

	profile, ok := data[userKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return profile, nil
}

// PutProfile はプロファイルを保存する
func (s *FileStore) PutProfile(ctx context.Context, userKey string, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[userKey] = profile

	return s.save(data)
}

func (s *FileStore) load() (map[string]domain.Profile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]domain.Profile{}, nil
		}
		return nil, fmt.Errorf("failed to read profile store: %w", err)
	}

	data := map[string]domain.Profile{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse profile store: %w", err)
	}
	return data, nil
}

// save は一時ファイルへの書き込みとrenameで破損を防ぐ
func (s *FileStore) save(data map[string]domain.Profile) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp profile file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write profile store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp profile file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace profile store: %w", err)
	}
	return nil
}

// コンパイル時の型チェック
var _ domain.ProfileStore = (*FileStore)(nil)

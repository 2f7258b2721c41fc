package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

type stubProfileStore struct {
	profiles map[string]domain.Profile
	getErr   error
	putCount int
}

func (s *stubProfileStore) GetProfile(ctx context.Context, userKey string) (domain.Profile, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.profiles[userKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubProfileStore) PutProfile(ctx context.Context, userKey string, profile domain.Profile) error {
	s.putCount++
	s.profiles[userKey] = profile
	return nil
}

func TestUpsertProfile_MergesIntoExistingProfile(t *testing.T) {
	store := &stubProfileStore{profiles: map[string]domain.Profile{
		"Developers": {"tone": "formal", "interests": "Go"},
	}}

	err := upsertProfile(context.Background(), store, "Developers", domain.Profile{"tone": "casual"})
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{"tone": "casual", "interests": "Go"}, store.profiles["Developers"])
}

func TestUpsertProfile_CreatesProfileWhenMissing(t *testing.T) {
	store := &stubProfileStore{profiles: map[string]domain.Profile{}}

	err := upsertProfile(context.Background(), store, "Developers", domain.Profile{"tone": "casual"})
	require.NoError(t, err)
	assert.Equal(t, domain.Profile{"tone": "casual"}, store.profiles["Developers"])
}

func TestUpsertProfile_ReadFailureDoesNotOverwrite(t *testing.T) {
	// 壊れたプロファイルファイル等の読み込み失敗を空プロファイル扱いにすると、
	// 保存時に既存データを破壊してしまう
	store := &stubProfileStore{
		profiles: map[string]domain.Profile{},
		getErr:   errors.New("profiles file is corrupt"),
	}

	err := upsertProfile(context.Background(), store, "Developers", domain.Profile{"tone": "casual"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profiles file is corrupt")
	assert.Zero(t, store.putCount, "読み込みに失敗した場合は保存しない")
}

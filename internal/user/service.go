package user

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/filegate/service/internal/storage"
)

type Service struct {
	repo  *Repository
	store storage.ObjectStore
}

func NewService(repo *Repository, store storage.ObjectStore) *Service {
	return &Service{repo: repo, store: store}
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// SetAvatar points the profile at a freshly uploaded avatar object. The old
// avatar object, when present, is removed best effort; a store failure there
// must not fail the profile update that already happened.
func (s *Service) SetAvatar(ctx context.Context, userID, storeKey string) error {
	previous, err := s.repo.SetAvatar(ctx, userID, storeKey)
	if err != nil {
		return err
	}
	if previous != nil && *previous != storeKey {
		if err := s.store.Delete(ctx, *previous); err != nil {
			log.Warn().Err(err).Str("key", *previous).Msg("failed to remove previous avatar object")
		}
	}
	return nil
}

package fs

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	pl "github.com/panyam/passlink"
)

// FSMagicLinkStore keeps all links of a user in one file,
// {StoragePath}/magic_links/{user_id}.json, so deleting a user's links is a
// single remove.
type FSMagicLinkStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSMagicLinkStore(storagePath string) *FSMagicLinkStore {
	return &FSMagicLinkStore{StoragePath: storagePath}
}

func (s *FSMagicLinkStore) linksPath(userID string) string {
	return filepath.Join(s.StoragePath, "magic_links", keyFileName(userID))
}

func (s *FSMagicLinkStore) read(userID string) ([]*pl.MagicLink, error) {
	var links []*pl.MagicLink
	if _, err := readJSONFile(s.linksPath(userID), &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (s *FSMagicLinkStore) CreateLink(ctx context.Context, link *pl.MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, err := s.read(link.UserID)
	if err != nil {
		return err
	}
	links = append(links, link)
	return writeJSONFile(s.linksPath(link.UserID), links)
}

func (s *FSMagicLinkStore) LatestLink(ctx context.Context, userID string) (*pl.MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, err := s.read(userID)
	if err != nil {
		return nil, err
	}
	var latest *pl.MagicLink
	for _, l := range links {
		if latest == nil || l.CreatedAt.After(latest.CreatedAt) {
			latest = l
		}
	}
	if latest == nil {
		return nil, pl.ErrLinkNotFound
	}
	return latest, nil
}

func (s *FSMagicLinkStore) HasActiveLink(ctx context.Context, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, err := s.read(userID)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if !l.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *FSMagicLinkStore) DeleteUserLinks(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, err := s.read(userID)
	if err != nil {
		return 0, err
	}
	if _, err := removeFile(s.linksPath(userID)); err != nil {
		return 0, err
	}
	return int64(len(links)), nil
}

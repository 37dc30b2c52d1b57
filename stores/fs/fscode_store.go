package fs

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	pl "github.com/panyam/passlink"
)

// FSVerificationCodeStore keeps each user's verification code in
// {StoragePath}/verification_codes/{user_id}.json.
//
// ReplaceCode's version check and write happen under one mutex, so the
// compare-and-swap holds within a process.
type FSVerificationCodeStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSVerificationCodeStore(storagePath string) *FSVerificationCodeStore {
	return &FSVerificationCodeStore{StoragePath: storagePath}
}

func (s *FSVerificationCodeStore) codePath(userID string) string {
	return filepath.Join(s.StoragePath, "verification_codes", keyFileName(userID))
}

func (s *FSVerificationCodeStore) SaveCode(ctx context.Context, code *pl.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code.Version = 1
	return writeJSONFile(s.codePath(code.UserID), code)
}

func (s *FSVerificationCodeStore) GetCode(ctx context.Context, userID string) (*pl.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(userID)
}

func (s *FSVerificationCodeStore) read(userID string) (*pl.VerificationCode, error) {
	var code pl.VerificationCode
	found, err := readJSONFile(s.codePath(userID), &code)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pl.ErrCodeNotFound
	}
	return &code, nil
}

func (s *FSVerificationCodeStore) ReplaceCode(ctx context.Context, userID string, expectedVersion int, code string, createdAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(userID)
	if err == pl.ErrCodeNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if current.Version != expectedVersion {
		return false, nil
	}
	current.Code = code
	current.CreatedAt = createdAt
	current.Version++
	if err := writeJSONFile(s.codePath(userID), current); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FSVerificationCodeStore) DeleteUserCodes(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := removeFile(s.codePath(userID))
	if err != nil || !removed {
		return 0, err
	}
	return 1, nil
}

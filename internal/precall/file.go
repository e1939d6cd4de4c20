package precall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/better-wallet/smart-account/internal/logger"
	"github.com/better-wallet/smart-account/pkg/types"
)

// FileStore keeps one JSON file per account under dir
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed and returns a store rooted there
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("pre-call directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create pre-call directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(address common.Address) string {
	return filepath.Join(s.dir, strings.ToLower(address.Hex())+".json")
}

func (s *FileStore) Get(ctx context.Context, address common.Address) ([]types.PreCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(address))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-calls: %w", err)
	}

	var preCalls []types.PreCall
	if err := json.Unmarshal(data, &preCalls); err != nil {
		return nil, fmt.Errorf("failed to decode pre-calls: %w", err)
	}
	return preCalls, nil
}

// Set writes to a temp file and renames it over the previous entry
func (s *FileStore) Set(ctx context.Context, address common.Address, preCalls []types.PreCall) error {
	data, err := json.Marshal(preCalls)
	if err != nil {
		return fmt.Errorf("failed to encode pre-calls: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".precalls-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pre-calls: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(address)); err != nil {
		return fmt.Errorf("failed to replace pre-calls: %w", err)
	}

	logger.Debug(ctx, "pre-calls stored", "address", address.Hex(), "count", len(preCalls))
	return nil
}

func (s *FileStore) Clear(ctx context.Context, address common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(address))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pre-calls: %w", err)
	}
	if err == nil {
		logger.Debug(ctx, "pre-calls cleared", "address", address.Hex())
	}
	return nil
}

var _ Store = (*FileStore)(nil)

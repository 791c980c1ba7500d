package backend

import (
	"context"
	"fmt"

	"finman/internal/ledger/jsonfile"
	"finman/internal/ledger/memory"
	"finman/internal/log"
	"finman/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentStorage),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case JSONBackend:
		store := jsonfile.NewStore(config.LedgerFile)
		f.logger.InfoContext(ctx, "Initialized JSON ledger backend", "path", config.LedgerFile)
		return &BackendResult{Store: store, Type: config.Type, Cleanup: store.Close}, nil

	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite ledger backend", "db_path", config.SQLiteDBPath)
		return &BackendResult{Store: repo, Type: config.Type, Cleanup: repo.Close}, nil

	case MemoryBackend:
		store := memory.New()
		if config.LedgerFile != "" {
			seeded, err := memory.NewFromFile(config.LedgerFile)
			if err != nil {
				return nil, fmt.Errorf("failed to seed memory backend: %w", err)
			}
			store = seeded
		}
		f.logger.InfoContext(ctx, "Initialized memory ledger backend", "seed", config.LedgerFile)
		return &BackendResult{Store: store, Type: config.Type, Cleanup: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

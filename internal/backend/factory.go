package backend

import (
	"context"
	"errors"
	"fmt"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/log"
	"saldo/internal/services"
	"saldo/internal/sheets"
	gsheet "saldo/internal/sheets/google"
	"saldo/internal/store"
	"saldo/internal/store/memory"
	"saldo/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	var client *amqp.Client
	if config.AMQPURL != "" {
		client, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
			client = nil
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange, "queue", config.AMQPQueue)
		}
	}

	var mirror sheets.LedgerMirror
	if config.GoogleSpreadsheetID != "" {
		m, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			SheetName:       config.GoogleSheetName,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		}, f.logger)
		if err != nil {
			closeAll(client, s)
			return nil, fmt.Errorf("failed to initialize Google Sheets mirror: %w", err)
		}
		mirror = m
	}

	b := wire(s, client, mirror, config, f.logger)

	f.logger.InfoContext(ctx, "Initialized backend",
		"type", config.Type.String(),
		"amqp_enabled", client != nil,
		"sheets_enabled", mirror != nil)

	return &BackendResult{
		Backend: b,
		Cleanup: func() error { return closeAll(client, s) },
	}, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (store.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := sqlite.Open(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.InfoContext(ctx, "Opened SQLite store", "db_path", config.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.InfoContext(ctx, "Using in-memory store")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// wire builds the services around s. The query cache is invalidated by the
// coordinator's commit hook and by account creation.
func wire(s store.Store, client *amqp.Client, mirror sheets.LedgerMirror, config Config, logger *log.Logger) *Backend {
	queries := services.NewQueryService(s, config.NetWorthCacheTTL, logger)
	s = store.WithAccountHook(s, queries.Invalidate)

	opts := services.CoordinatorOptions{
		CreditLimit:     config.CreditLimit,
		ConflictRetries: config.ConflictRetries,
		Logger:          logger,
		OnCommit:        queries.Invalidate,
	}
	if client != nil {
		opts.Publisher = client
	}
	coord := services.NewCoordinator(s, opts)

	caches := cache.NewManager(logger)
	if c := queries.Cache(); c != nil {
		caches.Register(c)
	}

	return &Backend{
		Store:       s,
		Coordinator: coord,
		Budgets:     services.NewBudgetService(s, logger, config.ReconcileConcurrency),
		Queries:     queries,
		Recurring:   services.NewRecurringProcessor(s, coord, logger),
		Caches:      caches,
		AMQP:        client,
		Mirror:      mirror,
	}
}

func closeAll(client *amqp.Client, s store.Store) error {
	var errs []error
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp: %w", err))
		}
	}
	if err := s.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// Package app assembles objgate's components from a config.Config: the
// storage driver for the configured provider, the multipart manager, the
// upload journal and the gateway service on top of them.
package app

import (
	"context"

	"github.com/koustreak/objgate/internal/config"
	"github.com/koustreak/objgate/internal/database"
	"github.com/koustreak/objgate/internal/database/mysql"
	"github.com/koustreak/objgate/internal/database/postgres"
	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
	"github.com/koustreak/objgate/internal/filestore/memory"
	"github.com/koustreak/objgate/internal/filestore/minio"
	"github.com/koustreak/objgate/internal/filestore/s3"
	"github.com/koustreak/objgate/internal/gateway"
	"github.com/koustreak/objgate/internal/journal"
	"github.com/koustreak/objgate/internal/logger"
	"github.com/koustreak/objgate/internal/multipart"
)

// App owns every long-lived resource. Close releases them.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Store   filestore.Store
	Journal journal.Journal
	Service *gateway.Service

	db database.DB
}

// New connects to the storage backend and, for a SQL journal, to the
// database, migrating the journal table. Nothing is left open on error.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	store, err := OpenStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Store: store}

	if err := a.openJournal(ctx); err != nil {
		a.Close()
		return nil, err
	}

	mp, err := multipart.New(store, &cfg.Multipart, log.With().Str("component", "multipart").Logger())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service = gateway.New(store, mp, a.Journal, log.With().Str("component", "gateway").Logger(), gateway.Options{
		PresignTTL: cfg.Storage.PresignTTL,
	})

	log.InfoWith("objgate ready", map[string]any{
		"provider":     string(cfg.Storage.Provider),
		"journal":      cfg.Journal.Driver,
		"part_size":    cfg.Multipart.PartSize,
		"part_workers": cfg.Multipart.Concurrency,
	})
	return a, nil
}

// OpenStore returns the driver for cfg.Provider.
func OpenStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	switch cfg.Provider {
	case filestore.ProviderMemory:
		return memory.New(), nil
	case filestore.ProviderMinIO:
		d, err := minio.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case filestore.ProviderS3:
		d, err := s3.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, errs.Invalidf("unknown storage provider %q", cfg.Provider)
	}
}

func (a *App) openJournal(ctx context.Context) error {
	jc := a.Config.Journal
	switch {
	case jc.Driver == "", jc.Driver == config.JournalNone:
		a.Journal = journal.Nop{}
		return nil
	case jc.Driver == config.JournalMemory:
		a.Journal = journal.NewMemory(jc.Capacity)
		return nil
	case !jc.SQL():
		return errs.Invalidf("unknown journal driver %q", jc.Driver)
	}

	db, err := openDB(ctx, jc.Database())
	if err != nil {
		return err
	}
	a.db = db

	sj := journal.NewSQL(db, a.Log.With().Str("component", "journal").Logger())
	if err := sj.Migrate(ctx); err != nil {
		return err
	}
	a.Journal = sj
	return nil
}

func openDB(ctx context.Context, cfg *database.Config) (database.DB, error) {
	switch cfg.Driver {
	case database.DriverPostgres:
		db, err := postgres.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	case database.DriverMySQL:
		db, err := mysql.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, errs.Invalidf("unsupported journal database %q", cfg.Driver)
	}
}

// Close releases the database pool and the storage driver.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.WarnWith("storage close failed", err, nil)
		}
	}
}

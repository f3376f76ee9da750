package migration

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	// Blank import required for PostgreSQL driver registration for migrations
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"golang.org/x/exp/slog"
)

// Migrator подмножество migrate.Migrate, которое нужно Migration
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine создает мигратор по источнику и адресу БД; в тестах подменяется
type MigrationEngine func(sourceURL, databaseURL string) (Migrator, error)

// Migration применяет миграции схемы очереди синхронизации
type Migration struct {
	sourceURL   string
	databaseURL string
	engine      MigrationEngine
	log         *slog.Logger
}

func NewMigration(migrationsPath, databaseURI string, engine MigrationEngine, log *slog.Logger) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		sourceURL:   "file://" + migrationsPath,
		databaseURL: databaseURI,
		engine:      engine,
		log:         log.With("component", "migration"),
	}
}

// DefaultEngine открывает file:// источник и postgres
func DefaultEngine(sourceURL, databaseURL string) (Migrator, error) {
	return migrate.New(sourceURL, databaseURL)
}

func (mg *Migration) Up() (err error) {
	m, err := mg.engine(mg.sourceURL, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()
	if uerr := m.Up(); uerr != nil {
		if errors.Is(uerr, migrate.ErrNoChange) {
			mg.log.Debug("schema is up to date")
			return nil
		}
		return fmt.Errorf("%w; migration up error", uerr)
	}
	mg.log.Info("migrations applied", "source", mg.sourceURL)
	return nil
}

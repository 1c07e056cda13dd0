package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rosterimport/internal/config"
	"github.com/JonMunkholm/rosterimport/internal/core"
)

// Backend is an opened store with its lifecycle hooks.
type Backend struct {
	Store core.Store

	// Ping is nil for the memory store.
	Ping    func(ctx context.Context) error
	Migrate func(ctx context.Context) error
	Close   func()
}

// Open connects the store selected by cfg. DB_IN_MEMORY gives a memory
// store seeded with a demo tenant; otherwise a PostgreSQL pool is opened
// and, with DB_AUTO_MIGRATE, the schema is applied.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	if cfg.Database.InMemory {
		mem := NewMemory()
		tenant, year := SeedDemo(mem)
		slog.Warn("using in-memory store; data is lost on exit",
			"demo_tenant_id", tenant,
			"demo_academic_year_id", year.ID,
		)
		return &Backend{
			Store:   mem,
			Migrate: func(context.Context) error { return nil },
			Close:   func() {},
		}, nil
	}

	pool, err := Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	pg := NewPostgres(pool, Options{
		CreateAccounts: cfg.Import.CreateAccounts,
		PasswordCost:   cfg.Import.PasswordCost,
	})
	b := &Backend{Store: pg, Ping: pg.Ping, Migrate: pg.Migrate, Close: pool.Close}

	if cfg.Database.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		slog.Info("database schema applied")
	}
	return b, nil
}

// SeedDemo adds a tenant with one academic year and a few classes.
func SeedDemo(m *Memory) (uuid.UUID, core.AcademicYear) {
	tenant := uuid.New()
	year := m.AddAcademicYear(tenant, "2025")
	for _, class := range []string{"Grade 5A", "Grade 5B", "Grade 6A"} {
		m.AddClass(tenant, class)
	}
	return tenant, year
}

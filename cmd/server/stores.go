package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Rrens/live-assist/internal/api/handler"
	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/repository"
	"github.com/Rrens/live-assist/internal/repository/memory"
	"github.com/Rrens/live-assist/internal/repository/mongo"
	"github.com/Rrens/live-assist/internal/repository/postgres"
	"github.com/Rrens/live-assist/internal/repository/sqlite"
	"github.com/Rrens/live-assist/internal/scheduler"
	"github.com/rs/zerolog/log"
)

// stores are the repositories selected by store.driver.
type stores struct {
	users    domain.UserRepository
	usage    domain.UsageRepository
	sessions domain.SessionRepository
	turns    domain.TurnRepository
	history  scheduler.HistoryPruner
	ready    map[string]handler.Pinger
	closers  []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{ready: make(map[string]handler.Pinger)}

	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		usage := postgres.NewUsageRepository(db.Pool)
		st.users = postgres.NewUserRepository(db.Pool)
		st.usage = usage
		st.history = usage
		st.sessions = postgres.NewSessionRepository(db.Pool)
		st.turns = postgres.NewTurnRepository(db.Pool)
		st.ready["postgres"] = db
		st.closers = append(st.closers, db.Close)

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		usage := sqlite.NewUsageRepository(db)
		st.users = sqlite.NewUserRepository(db)
		st.usage = usage
		st.history = usage
		st.sessions = sqlite.NewSessionRepository(db)
		st.turns = sqlite.NewTurnRepository(db)
		st.ready["sqlite"] = db
		st.closers = append(st.closers, closeLogged("sqlite", db))

	case "memory":
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		usage := memory.NewUsageRepository()
		st.users = memory.NewUserRepository()
		st.usage = usage
		st.history = usage
		st.sessions = memory.NewSessionRepository()
		st.turns = memory.NewTurnRepository()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Mongo.URI != "" {
		archive, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		st.turns = repository.NewFanOutTurns(st.turns, archive)
		st.ready["mongo"] = archive
		st.closers = append(st.closers, func() {
			if err := archive.Close(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to disconnect mongo")
			}
		})
		log.Info().Str("database", cfg.Mongo.Database).Msg("Archiving conversation turns to mongo")
	}

	return st, nil
}

func closeLogged(name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("store", name).Msg("Failed to close store")
		}
	}
}

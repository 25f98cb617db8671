package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/turnforge/internal/port/database"
)

// Store implements the database ports using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ database.EventRepository = (*Store)(nil)
	_ database.MessageStore    = (*Store)(nil)
)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

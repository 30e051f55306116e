package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Errors returned by ConnectPostgres.
var (
	ErrFailedToParseDBConfig    = errors.New("profile: failed to parse database config")
	ErrFailedToOpenDBConnection = errors.New("profile: failed to open database connection")
)

// PostgresConfig holds the profile database settings. An empty URL disables
// profile lookups.
type PostgresConfig struct {
	ConnectionString string        `env:"PROFILE_DATABASE_URL"`
	MaxOpenConns     int32         `env:"PROFILE_DB_MAX_OPEN_CONNS" envDefault:"4"`
	RetryAttempts    int           `env:"PROFILE_DB_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval    time.Duration `env:"PROFILE_DB_RETRY_INTERVAL" envDefault:"2s"`
	CacheTTL         time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
}

// ConnectPostgres opens a pool and pings it, backing off linearly between
// attempts.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}

	for i := range max(cfg.RetryAttempts, 1) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrFailedToOpenDBConnection, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}
	return nil, ErrFailedToOpenDBConnection
}

// Querier is the subset of pgxpool.Pool used by PostgresStore.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const lookupSQL = `SELECT id::text, COALESCE(user_type, ''), COALESCE(username, ''), COALESCE(display_name, ''), COALESCE(email, '')
FROM users WHERE id::text = $1`

// PostgresStore reads profiles from the users table.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore returns a store over db.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Lookup implements Store.
func (s *PostgresStore) Lookup(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, lookupSQL, id).Scan(&p.ID, &p.Type, &p.Username, &p.DisplayName, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: lookup %s: %w", id, err)
	}
	return p, nil
}

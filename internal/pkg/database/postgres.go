package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Database stores appliance value history in postgres. The schema is owned by
// the migrations folder, see package migration.
type Database struct {
	conn *pgxpool.Pool
}

func NewDatabase(conn *pgxpool.Pool) *Database {
	return &Database{
		conn: conn,
	}
}

// Connect opens a pool for dsn and pings it.
func Connect(ctx context.Context, dsn string) (*Database, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewDatabase(pool), nil
}

func (db *Database) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

func (db *Database) Close() error {
	if db.conn == nil {
		return nil
	}
	db.conn.Close()
	return nil
}

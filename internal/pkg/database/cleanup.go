package database

import (
	"context"
	"time"
)

// Cleanup removes property history older than retention and returns the
// number of deleted rows.
func (db *Database) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.conn.Exec(ctx, "DELETE FROM Property WHERE time_stamp < $1", time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

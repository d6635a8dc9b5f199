package database

import (
	"context"
	"time"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/jackc/pgx/v5"
)

const propertyColumns = `id, time_stamp, unit_of_measurement, value, identifier, slug, vendor_key, is_numeric`

// GetProperties returns the history of one sensor, newest first. Without a
// range the last two days are returned.
func (db *Database) GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error) {
	if from == nil || to == nil {
		from = func() *time.Time {
			t := time.Now().AddDate(0, 0, -2)
			return &t
		}()
		to = func() *time.Time {
			t := time.Now()
			return &t
		}()
	}
	query := `
	SELECT ` + propertyColumns + `
	FROM Property
	WHERE identifier = $1 AND slug = $2 AND time_stamp BETWEEN $3 AND $4
	ORDER BY time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query, identifier, slug, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProperties(rows)
}

// GetLatestProperties returns the newest value of every sensor of an appliance.
func (db *Database) GetLatestProperties(ctx context.Context, identifier string) (model.Properties, error) {
	query := `
	SELECT DISTINCT ON (slug) ` + propertyColumns + `
	FROM Property
	WHERE identifier = $1
	ORDER BY slug, time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProperties(rows)
}

func scanProperties(rows pgx.Rows) (model.Properties, error) {
	properties := model.Properties{}
	for rows.Next() {
		var property model.Property
		if err := rows.Scan(&property.Id, &property.TimeStamp, &property.Unit, &property.Value, &property.Identifier, &property.Slug, &property.Key, &property.Numeric); err != nil {
			return nil, err
		}
		properties = append(properties, property)
	}

	if err := rows.Err(); err != nil {
		if err == pgx.ErrNoRows {
			return properties, nil
		}
		return nil, err
	}

	return properties, nil
}

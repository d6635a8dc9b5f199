package database

import (
	"context"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	"github.com/anicoll/homeconnect-integration/internal/pkg/publisher"
	"github.com/jackc/pgx/v5"
)

func (d *Database) Write(ctx context.Context, data model.Properties) error {
	if len(data) == 0 {
		return nil
	}
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, record := range data {
		batch.Queue(`
			INSERT INTO Property (time_stamp, unit_of_measurement, value, identifier, slug, vendor_key, is_numeric)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, record.TimeStamp, record.Unit, record.Value, record.Identifier, record.Slug, record.Key, record.Numeric)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (d *Database) RegisterAppliance(ctx context.Context, a model.Appliance) error {
	_, err := d.conn.Exec(ctx, `
		INSERT INTO Appliance (identifier, appliance_id, name, brand, type, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (identifier) DO UPDATE
		SET name = EXCLUDED.name, brand = EXCLUDED.brand, type = EXCLUDED.type,
		    model = EXCLUDED.model, updated_at = EXCLUDED.updated_at;`,
		publisher.Identifier(a.ID), a.ID, a.Name, a.Brand, a.Type, a.Model)
	return err
}

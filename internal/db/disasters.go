package db

import (
	"context"
	"fmt"

	"relief-service/internal/models"
)

const disasterColumns = `id, type, city, state, lat, lng, severity, source, status, reporter_id, confidence, created_at`

// CreateDisaster inserts a new disaster record.
func (d *DB) CreateDisaster(ctx context.Context, dis models.Disaster) error {
	query := `
	INSERT INTO disasters (` + disasterColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := d.conn(ctx).Exec(ctx, query,
		dis.ID,
		dis.Type,
		dis.Location.City,
		dis.Location.State,
		dis.Location.Lat,
		dis.Location.Lng,
		dis.Severity,
		dis.Source,
		dis.Status,
		dis.ReporterID,
		dis.Confidence,
		dis.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert disaster: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDisaster(row scanner) (models.Disaster, error) {
	var dis models.Disaster
	err := row.Scan(
		&dis.ID,
		&dis.Type,
		&dis.Location.City,
		&dis.Location.State,
		&dis.Location.Lat,
		&dis.Location.Lng,
		&dis.Severity,
		&dis.Source,
		&dis.Status,
		&dis.ReporterID,
		&dis.Confidence,
		&dis.CreatedAt,
	)
	return dis, err
}

func (d *DB) GetDisaster(ctx context.Context, id string) (models.Disaster, error) {
	query := `SELECT ` + disasterColumns + ` FROM disasters WHERE id = $1`
	dis, err := scanDisaster(d.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return models.Disaster{}, notFound(err, "disaster", id)
	}
	return dis, nil
}

// ListDisasters returns disasters newest first.
func (d *DB) ListDisasters(ctx context.Context, limit, offset int) ([]models.Disaster, error) {
	query := `SELECT ` + disasterColumns + ` FROM disasters ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := d.conn(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get disasters: %w", err)
	}
	defer rows.Close()

	list := []models.Disaster{}
	for rows.Next() {
		dis, err := scanDisaster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disaster: %w", err)
		}
		list = append(list, dis)
	}
	return list, rows.Err()
}

func (d *DB) UpdateDisasterStatus(ctx context.Context, id string, status models.DisasterStatus) (models.Disaster, error) {
	query := `UPDATE disasters SET status = $1 WHERE id = $2 RETURNING ` + disasterColumns
	dis, err := scanDisaster(d.conn(ctx).QueryRow(ctx, query, status, id))
	if err != nil {
		return models.Disaster{}, notFound(err, "disaster", id)
	}
	return dis, nil
}

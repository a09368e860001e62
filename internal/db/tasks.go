package db

import (
	"context"
	"fmt"
	"time"

	"relief-service/internal/models"
)

const taskColumns = `id, disaster_id, assigned_to, kind, description, status, claimed_at, deadline,
	proof, feedback, created_by, created_at`

func (d *DB) CreateTask(ctx context.Context, t models.Task) error {
	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := d.conn(ctx).Exec(ctx, query,
		t.ID, t.DisasterID, t.AssignedTo, t.Kind, t.Description, t.Status, t.ClaimedAt, t.Deadline,
		t.Proof, t.Feedback, t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func scanTask(row scanner) (models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.DisasterID, &t.AssignedTo, &t.Kind, &t.Description, &t.Status, &t.ClaimedAt, &t.Deadline,
		&t.Proof, &t.Feedback, &t.CreatedBy, &t.CreatedAt,
	)
	return t, err
}

func (d *DB) GetTask(ctx context.Context, id string) (models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	t, err := scanTask(d.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return models.Task{}, notFound(err, "task", id)
	}
	return t, nil
}

func (d *DB) queryTasks(ctx context.Context, where string, args ...interface{}) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY created_at`

	rows, err := d.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	list := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ListTasks returns tasks in the given status, or all tasks when status is empty.
func (d *DB) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	if status == "" {
		return d.queryTasks(ctx, "")
	}
	return d.queryTasks(ctx, `status = $1`, status)
}

func (d *DB) ListTasksByVolunteer(ctx context.Context, volunteerID string) ([]models.Task, error) {
	return d.queryTasks(ctx, `assigned_to = $1`, volunteerID)
}

func (d *DB) ListExpiredTasks(ctx context.Context, now time.Time) ([]models.Task, error) {
	return d.queryTasks(ctx, `status = $1 AND deadline < $2`, models.TaskClaimed, now)
}

// UpdateTask writes t only if the stored task is still in status from.
func (d *DB) UpdateTask(ctx context.Context, t models.Task, from models.TaskStatus) (bool, error) {
	query := `
	UPDATE tasks
	SET assigned_to = $1, status = $2, claimed_at = $3, deadline = $4, proof = $5, feedback = $6
	WHERE id = $7 AND status = $8`

	result, err := d.conn(ctx).Exec(ctx, query,
		t.AssignedTo, t.Status, t.ClaimedAt, t.Deadline, t.Proof, t.Feedback, t.ID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	return result.RowsAffected() == 1, nil
}

// ABOUTME: Task persistence: lookups, assignee bindings and field updates
// ABOUTME: CreateAssignedTask inserts a task and its first assignee in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `t.id, t.title, t.description, t.tag, t.status, t.start_date, t.end_date,
	t.estimated_hours, t.actual_hours, t.sprint_id, t.team_id, t.creator_id, t.creator_name, t.created_at`

// GetTask retrieves a task by ID
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)
	return scanTask(row)
}

// ListTasksAssignedTo returns the tasks the user is assigned to, oldest first.
func (s *SQLiteStore) ListTasksAssignedTo(ctx context.Context, userID int64) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		JOIN task_assignees a ON a.task_id = t.id
		WHERE a.user_id = ?
		ORDER BY t.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying assigned tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// InsertTask stores a new task and returns its ID.
func (s *SQLiteStore) InsertTask(ctx context.Context, task *Task) (int64, error) {
	return insertTask(ctx, s.db, task)
}

// AddTaskAssignee assigns the user to the task. Repeating it is a no-op.
func (s *SQLiteStore) AddTaskAssignee(ctx context.Context, taskID, userID int64) error {
	return addAssignee(ctx, s.db, taskID, userID)
}

// CreateAssignedTask inserts the task and binds assigneeID as its first
// assignee atomically. Either both rows exist afterwards or neither does.
func (s *SQLiteStore) CreateAssignedTask(ctx context.Context, task *Task, assigneeID int64) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertTask(ctx, tx, task)
		if err != nil {
			return err
		}
		return addAssignee(ctx, tx, id, assigneeID)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("created task", "task_id", id, "assignee", assigneeID)
	return id, nil
}

// ListTaskAssignees returns the IDs of users assigned to the task.
func (s *SQLiteStore) ListTaskAssignees(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM task_assignees WHERE task_id = ? ORDER BY user_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying assignees: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning assignee: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateTaskStatus sets the task status.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), taskID)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	return checkAffected(res)
}

// UpdateTaskEndDate sets the end date (YYYY-MM-DD) of the task.
func (s *SQLiteStore) UpdateTaskEndDate(ctx context.Context, taskID int64, date string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET end_date = ? WHERE id = ?`, date, taskID)
	if err != nil {
		return fmt.Errorf("updating task end date: %w", err)
	}
	return checkAffected(res)
}

// ChangeTaskStatus sets the status and end date of the task in one
// statement. A nil endDate clears it.
func (s *SQLiteStore) ChangeTaskStatus(ctx context.Context, taskID int64, status TaskStatus, endDate *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, end_date = ? WHERE id = ?`, string(status), endDate, taskID)
	if err != nil {
		return fmt.Errorf("changing task status: %w", err)
	}
	return checkAffected(res)
}

// UpdateTaskActualHours records the hours actually spent on the task.
func (s *SQLiteStore) UpdateTaskActualHours(ctx context.Context, taskID int64, hours float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET actual_hours = ? WHERE id = ?`, hours, taskID)
	if err != nil {
		return fmt.Errorf("updating task actual hours: %w", err)
	}
	return checkAffected(res)
}

func insertTask(ctx context.Context, q dbtx, task *Task) (int64, error) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = StatusBacklog
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO tasks (
			title, description, tag, status, start_date, end_date, estimated_hours,
			actual_hours, sprint_id, team_id, creator_id, creator_name, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.Title,
		task.Description,
		task.Tag,
		string(task.Status),
		task.StartDate,
		task.EndDate,
		task.EstimatedHours,
		task.ActualHours,
		task.SprintID,
		task.TeamID,
		task.CreatorID,
		task.CreatorName,
		formatTime(task.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading task id: %w", err)
	}
	task.ID = id
	return id, nil
}

func addAssignee(ctx context.Context, q dbtx, taskID, userID int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_assignees (task_id, user_id) VALUES (?, ?)`, taskID, userID)
	if err != nil {
		return fmt.Errorf("adding assignee: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t         Task
		status    string
		endDate   sql.NullString
		estimated sql.NullFloat64
		actual    sql.NullFloat64
		sprintID  sql.NullInt64
		teamID    sql.NullInt64
		createdAt string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Tag, &status, &t.StartDate, &endDate,
		&estimated, &actual, &sprintID, &teamID, &t.CreatorID, &t.CreatorName, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.EndDate = nullString(endDate)
	t.EstimatedHours = nullFloat64(estimated)
	t.ActualHours = nullFloat64(actual)
	t.SprintID = nullInt64(sprintID)
	t.TeamID = nullInt64(teamID)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

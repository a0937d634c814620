// ABOUTME: Comment and sprint persistence for tasks
// ABOUTME: Comments are listed oldest first; sprints are scoped to a team

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ListComments returns the comments of a task, oldest first.
func (s *SQLiteStore) ListComments(ctx context.Context, taskID int64) ([]*Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author_id, author_name, content, created_at
		FROM comments
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	var comments []*Comment
	for rows.Next() {
		var c Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.AuthorName, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comments: %w", err)
	}
	return comments, nil
}

// CreateComment stores a comment and sets its ID.
func (s *SQLiteStore) CreateComment(ctx context.Context, comment *Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (task_id, author_id, author_name, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		comment.TaskID,
		comment.AuthorID,
		comment.AuthorName,
		comment.Content,
		formatTime(comment.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading comment id: %w", err)
	}
	comment.ID = id
	return nil
}

// CreateSprint stores a sprint and sets its ID.
func (s *SQLiteStore) CreateSprint(ctx context.Context, sprint *Sprint) error {
	if sprint.Status == "" {
		sprint.Status = "planned"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sprints (team_id, name, status, start_date, end_date)
		VALUES (?, ?, ?, ?, ?)
	`, sprint.TeamID, sprint.Name, sprint.Status, sprint.StartDate, sprint.EndDate)
	if err != nil {
		return fmt.Errorf("inserting sprint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading sprint id: %w", err)
	}
	sprint.ID = id
	return nil
}

// ListSprintsByTeam returns the sprints of a team ordered by ID.
func (s *SQLiteStore) ListSprintsByTeam(ctx context.Context, teamID int64) ([]*Sprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, name, status, start_date, end_date
		FROM sprints
		WHERE team_id = ?
		ORDER BY id
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("querying sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*Sprint
	for rows.Next() {
		var sp Sprint
		if err := rows.Scan(&sp.ID, &sp.TeamID, &sp.Name, &sp.Status, &sp.StartDate, &sp.EndDate); err != nil {
			return nil, fmt.Errorf("scanning sprint: %w", err)
		}
		sprints = append(sprints, &sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sprints: %w", err)
	}
	return sprints, nil
}

// GetSprint retrieves a sprint by ID
func (s *SQLiteStore) GetSprint(ctx context.Context, id int64) (*Sprint, error) {
	var sp Sprint
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, status, start_date, end_date FROM sprints WHERE id = ?
	`, id).Scan(&sp.ID, &sp.TeamID, &sp.Name, &sp.Status, &sp.StartDate, &sp.EndDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying sprint: %w", err)
	}
	return &sp, nil
}

// ABOUTME: User and team persistence plus chat conversation bindings
// ABOUTME: A conversation is bound to at most one user and a user to at most one conversation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, name, email, password_hash, role, team_id, lead, conversation_id, created_at`

// CreateTeam inserts a team and sets its ID.
func (s *SQLiteStore) CreateTeam(ctx context.Context, team *Team) error {
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (name, created_at) VALUES (?, ?)`,
		team.Name, formatTime(team.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting team: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading team id: %w", err)
	}
	team.ID = id
	return nil
}

// CreateUser inserts a user and sets its ID. The email is lower-cased.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = RoleDeveloper
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, email, password_hash, role, team_id, lead, conversation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		user.TeamID,
		user.Lead,
		user.ConversationID,
		formatTime(user.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	)
	return scanUser(row)
}

// GetUserByConversation returns the user bound to the conversation.
func (s *SQLiteStore) GetUserByConversation(ctx context.Context, conversationID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE conversation_id = ?`, conversationID)
	return scanUser(row)
}

// ListUsers returns all users ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// BindConversation binds conversationID to the user, releasing it from
// whichever user held it before. The user's previous conversation is replaced.
func (s *SQLiteStore) BindConversation(ctx context.Context, userID int64, conversationID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET conversation_id = NULL WHERE conversation_id = ? AND id != ?`,
			conversationID, userID,
		); err != nil {
			return fmt.Errorf("releasing conversation: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE users SET conversation_id = ? WHERE id = ?`,
			conversationID, userID,
		)
		if err != nil {
			return fmt.Errorf("binding conversation: %w", err)
		}
		return checkAffected(res)
	})
}

// ClearConversationBinding removes any user binding for the conversation.
// Clearing an unbound conversation is not an error.
func (s *SQLiteStore) ClearConversationBinding(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET conversation_id = NULL WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("clearing conversation binding: %w", err)
	}
	return nil
}

// GetUserTeamID returns the team of the user, or nil if the user has none.
func (s *SQLiteStore) GetUserTeamID(ctx context.Context, userID int64) (*int64, error) {
	var teamID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT team_id FROM users WHERE id = ?`, userID).Scan(&teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying team id: %w", err)
	}
	return nullInt64(teamID), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u            User
		role         string
		teamID       sql.NullInt64
		conversation sql.NullString
		createdAt    string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &teamID, &u.Lead, &conversation, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = Role(role)
	u.TeamID = nullInt64(teamID)
	u.ConversationID = nullString(conversation)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

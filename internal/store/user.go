package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pavelanni/pruefungstipp/internal/model"
)

const userColumns = `id, username, email, password_hash, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. Returns ErrDuplicate if the email or username is taken.
func (q *Queries) CreateUser(ctx context.Context, u model.User) (int64, error) {
	id, err := q.insert(ctx,
		`INSERT INTO users (username, email, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Role, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

func (q *Queries) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	u, err := scanUser(q.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID, or nil if there is none.
func (q *Queries) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return q.getUser(ctx, `id = ?`, id)
}

// GetUserByEmail returns a user by email, or nil if there is none.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return q.getUser(ctx, `email = ?`, email)
}

// GetUserByUsername returns a user by username, or nil if there is none.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return q.getUser(ctx, `username = ?`, username)
}

// ListUsers returns all users.
func (q *Queries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser writes username, email and password hash of an existing user.
func (q *Queries) UpdateUser(ctx context.Context, u model.User) error {
	_, err := q.exec(ctx,
		`UPDATE users SET username = ?, email = ?, password_hash = ? WHERE id = ?`,
		u.Username, u.Email, u.PasswordHash, u.ID,
	)
	return wrapConstraint(err)
}

// DeleteUser removes a user. It reports false if no such user existed.
func (q *Queries) DeleteUser(ctx context.Context, id int64) (bool, error) {
	res, err := q.exec(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// UserCount returns the total number of users.
func (q *Queries) UserCount(ctx context.Context) (int, error) {
	var count int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/questlog/internal/apperror"
	"github.com/sakif/questlog/internal/model"
	"github.com/sakif/questlog/internal/repository"
)

const userColumns = `id, username, email, password_hash, level, xp, created_at, updated_at`

// CreateUser inserts a new user. ID and timestamps are filled in on the
// caller's struct. A taken username or email yields apperror.Conflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	ts := now()
	user.CreatedAt = ts
	user.UpdatedAt = ts
	if user.Level < 1 {
		user.Level = 1
	}

	_, err := db.exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Level,
		user.XP,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if detail, ok := uniqueViolation(err); ok {
			return apperror.Conflict("user", conflictField(detail))
		}
		return fmt.Errorf("sqldb: creating user: %w", err)
	}
	return nil
}

// GetUserByID returns apperror.ErrNotFound if no user has that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", email)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, "username", username)
}

// getUser looks a user up by one of the unique columns. column is never user
// input.
func (db *DB) getUser(ctx context.Context, column, value string) (*model.User, error) {
	u, err := scanUser(db.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqldb: getting user by %s: %w", column, err)
	}
	return u, nil
}

// UpdateUser writes the account fields. Progression is left untouched.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = now()

	result, err := db.exec(ctx,
		`UPDATE users SET username = ?, email = ?, password_hash = ?, updated_at = ?
		 WHERE id = ?`,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if detail, ok := uniqueViolation(err); ok {
			return apperror.Conflict("user", conflictField(detail))
		}
		return fmt.Errorf("sqldb: updating user %s: %w", user.ID, err)
	}
	return expectOneRow(result, "user", user.ID)
}

// UpdateProgress overwrites the user's level and xp.
func (db *DB) UpdateProgress(ctx context.Context, id string, level, xp int) error {
	result, err := db.exec(ctx,
		`UPDATE users SET level = ?, xp = ?, updated_at = ? WHERE id = ?`,
		level, xp, now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating progress of user %s: %w", id, err)
	}
	return expectOneRow(result, "user", id)
}

// Leaderboard returns the top users by level, then xp. Ties go to whoever
// registered first.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]model.User, error) {
	limit = repository.ClampLeaderboardLimit(limit)

	rows, err := db.query(ctx,
		`SELECT `+userColumns+` FROM users
		 ORDER BY level DESC, xp DESC, created_at ASC, id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: querying leaderboard: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning leaderboard row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating leaderboard: %w", err)
	}
	return users, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	err := s.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Level,
		&u.XP,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// expectOneRow turns "no rows affected" into NotFound.
func expectOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

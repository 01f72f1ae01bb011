package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"powercal/internal/models"
)

// ErrOperatorExists is returned by Create for a taken username.
var ErrOperatorExists = errors.New("operator already exists")

const (
	insertOperatorSQL = `
		INSERT INTO operators (username, password_hash, created_at)
		VALUES (?, ?, ?)
	`
	selectOperatorSQL = `
		SELECT id, username, password_hash, created_at
		FROM operators
		WHERE username = ?
	`
)

// OperatorSQLite keeps console operator accounts next to the operator log.
type OperatorSQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ OperatorRepo = (*OperatorSQLite)(nil)

func NewOperatorSQLite(db *sql.DB) *OperatorSQLite {
	return &OperatorSQLite{db: db, now: time.Now}
}

// Create stores op and returns its row id. Surrounding whitespace in the
// username is dropped; CreatedAt defaults to now.
func (r *OperatorSQLite) Create(ctx context.Context, op models.Operator) (int, error) {
	username := strings.TrimSpace(op.Username)
	if username == "" {
		return 0, errors.New("operator username is empty")
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = r.now()
	}

	res, err := r.db.ExecContext(ctx, insertOperatorSQL,
		username,
		op.PasswordHash,
		op.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%q: %w", username, ErrOperatorExists)
		}
		return 0, fmt.Errorf("insert operator %q: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id for operator %q: %w", username, err)
	}
	return int(id), nil
}

// GetByUsername returns (nil, nil) when no operator has that name.
func (r *OperatorSQLite) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var (
		op      models.Operator
		created string
	)
	err := r.db.QueryRowContext(ctx, selectOperatorSQL, strings.TrimSpace(username)).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &created)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select operator %q: %w", username, err)
	}

	op.CreatedAt, err = time.ParseInLocation(sqliteTimeLayout, created, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("operator %q created_at %q: %w", username, created, err)
	}
	return &op, nil
}

// isUniqueViolation recognises the sqlite constraint error by its message;
// the driver's error codes are not part of database/sql.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"powercal/internal/models"
)

// OperatorRepo stores console operator accounts.
type OperatorRepo interface {
	Create(ctx context.Context, op models.Operator) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// EventRepo is the append-only operator log.
type EventRepo interface {
	Append(ctx context.Context, e models.LogEvent) error
	List(ctx context.Context, from, to time.Time, typ string, limit int) ([]models.LogEvent, error)
}

type Repository struct {
	EventRepo EventRepo
	Operators OperatorRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
		Operators: NewOperatorSQLite(db),
	}
}

package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists agent requests.
type Repository interface {
	Create(ctx context.Context, req Request) error
	GetByCode(ctx context.Context, code string) (Request, error)
	// Transition moves a request from one status to another and fails with
	// ErrNotPending when it is no longer in from.
	Transition(ctx context.Context, id, from, to string, at time.Time) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]Request, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Request, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// PostgresRepository stores agent requests in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed agent request repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `id, code, kind, user_id, agent_id, amount, fee, agent_fee, net, currency, status, created_at, expires_at, updated_at`

// Create inserts a pending request.
func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO agent_requests (`+requestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		req.ID, req.Code, req.Kind, userID, req.AgentID, req.Amount, req.Fee, req.AgentFee, req.Net,
		req.Currency, req.Status, req.CreatedAt.UTC(), req.ExpiresAt.UTC(), req.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrCodeExists
	}
	return err
}

// GetByCode fetches a request by the code shown to the agent.
func (r *PostgresRepository) GetByCode(ctx context.Context, code string) (Request, error) {
	return scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM agent_requests WHERE code = $1`, code))
}

// Transition performs a compare-and-set on the status column.
func (r *PostgresRepository) Transition(ctx context.Context, id, from, to string, at time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE agent_requests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, at.UTC(), id, from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// ListByAgent returns the agent's newest requests first.
func (r *PostgresRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]Request, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM agent_requests WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`, agentID, limit)
}

// ListExpired returns pending requests whose code lapsed before now.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM agent_requests WHERE status = 'pending' AND expires_at <= $1 ORDER BY expires_at LIMIT $2`, now.UTC(), limit)
}

// CountByStatus aggregates requests per status.
func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM agent_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		userID uuid.UUID
		req    Request
	)
	err := row.Scan(&req.ID, &req.Code, &req.Kind, &userID, &req.AgentID, &req.Amount, &req.Fee, &req.AgentFee,
		&req.Net, &req.Currency, &req.Status, &req.CreatedAt, &req.ExpiresAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	req.UserID = userID.String()
	req.CreatedAt = req.CreatedAt.UTC()
	req.ExpiresAt = req.ExpiresAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return req, nil
}

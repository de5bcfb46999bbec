package bots

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gongonut/propiedadraiz-backend/internal/db"
)

const botColumns = `id::text, session_id, name, empresa_id, status, phone_number, qr, created_at, updated_at`

// Store is the pgx-backed bot record store.
type Store struct {
	db db.DBTX
}

func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

func scanBot(row pgx.Row) (Bot, error) {
	var b Bot
	err := row.Scan(&b.ID, &b.SessionID, &b.Name, &b.EmpresaID, &b.Status, &b.PhoneNumber, &b.QR, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bot{}, ErrBotNotFound
		}
		return Bot{}, err
	}
	return b, nil
}

func (s *Store) Insert(ctx context.Context, b Bot) (Bot, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO bots (id, session_id, name, empresa_id, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+botColumns,
		b.ID, b.SessionID, b.Name, b.EmpresaID, b.Status)
	return scanBot(row)
}

func (s *Store) Get(ctx context.Context, id string) (Bot, error) {
	return scanBot(s.db.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id))
}

func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (Bot, error) {
	return scanBot(s.db.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE session_id = $1`, sessionID))
}

func (s *Store) List(ctx context.Context) ([]Bot, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+` FROM bots ORDER BY created_at`)
}

// ListByStatus returns bots whose status is one of statuses, oldest first.
func (s *Store) ListByStatus(ctx context.Context, statuses ...string) ([]Bot, error) {
	return s.queryBots(ctx, `SELECT `+botColumns+` FROM bots WHERE status = ANY($1) ORDER BY created_at`, statuses)
}

func (s *Store) Update(ctx context.Context, id string, p Patch) (Bot, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE bots SET
		   name = COALESCE($2, name),
		   empresa_id = COALESCE($3, empresa_id),
		   status = COALESCE($4, status),
		   phone_number = COALESCE($5, phone_number),
		   qr = COALESCE($6, qr),
		   updated_at = now()
		 WHERE id = $1
		 RETURNING `+botColumns,
		id, p.Name, p.EmpresaID, p.Status, p.PhoneNumber, p.QR)
	return scanBot(row)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBotNotFound
	}
	return nil
}

func (s *Store) queryBots(ctx context.Context, sql string, args ...any) ([]Bot, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()
	var out []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

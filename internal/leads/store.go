package leads

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gongonut/propiedadraiz-backend/internal/db"
)

const leadColumns = `id::text, name, whatsapp, email, property_code, contacted, created_at`

type Store struct {
	db db.DBTX
}

func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	if err := row.Scan(&l.ID, &l.Name, &l.WhatsApp, &l.Email, &l.PropertyCode, &l.Contacted, &l.CreatedAt); err != nil {
		return Lead{}, err
	}
	return l, nil
}

func (s *Store) Insert(ctx context.Context, l Lead) (Lead, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO leads (id, name, whatsapp, email, property_code, contacted)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+leadColumns,
		l.ID, l.Name, l.WhatsApp, l.Email, l.PropertyCode, l.Contacted)
	return scanLead(row)
}

func (s *Store) List(ctx context.Context) ([]Lead, error) {
	rows, err := s.db.Query(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()
	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) MarkContacted(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE leads SET contacted = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark lead contacted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

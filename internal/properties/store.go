package properties

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gongonut/propiedadraiz-backend/internal/db"
)

const propertyColumns = `code, user_id, nombre_edificio, lat, lon, direccion, ciudad, departamento,
	descripcion, tipo_transaccion, piso, area, habitaciones, banos, garajes, precio,
	telefono_contacto, email_contacto, qr_code, fotos, created_at`

type Store struct {
	db db.DBTX
}

func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

func scanProperty(row pgx.Row) (Property, error) {
	var (
		p        Property
		lat, lon *float64
	)
	err := row.Scan(&p.Code, &p.User, &p.NombreEdificio, &lat, &lon, &p.Direccion, &p.Ciudad, &p.Departamento,
		&p.Descripcion, &p.TipoTransaccion, &p.Piso, &p.Area, &p.Habitaciones, &p.Banos, &p.Garajes, &p.Precio,
		&p.TelefonoContacto, &p.EmailContacto, &p.QRCode, &p.Fotos, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Property{}, ErrPropertyNotFound
		}
		return Property{}, err
	}
	if lat != nil && lon != nil {
		p.Geolocalizacion = &Geo{Lat: *lat, Lon: *lon}
	}
	return p, nil
}

func (s *Store) Insert(ctx context.Context, p Property) (Property, error) {
	var lat, lon *float64
	if p.Geolocalizacion != nil {
		lat, lon = &p.Geolocalizacion.Lat, &p.Geolocalizacion.Lon
	}
	if p.Fotos == nil {
		p.Fotos = []string{}
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO properties (code, user_id, nombre_edificio, lat, lon, direccion, ciudad, departamento,
			descripcion, tipo_transaccion, piso, area, habitaciones, banos, garajes, precio,
			telefono_contacto, email_contacto, qr_code, fotos)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 RETURNING `+propertyColumns,
		p.Code, p.User, p.NombreEdificio, lat, lon, p.Direccion, p.Ciudad, p.Departamento,
		p.Descripcion, p.TipoTransaccion, p.Piso, p.Area, p.Habitaciones, p.Banos, p.Garajes, p.Precio,
		p.TelefonoContacto, p.EmailContacto, p.QRCode, p.Fotos)
	return scanProperty(row)
}

// GetByCode matches codes case-insensitively since chat users type them freely.
func (s *Store) GetByCode(ctx context.Context, code string) (Property, error) {
	return scanProperty(s.db.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE upper(code) = upper($1)`, code))
}

func (s *Store) List(ctx context.Context) ([]Property, error) {
	rows, err := s.db.Query(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()
	var out []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

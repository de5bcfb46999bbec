package properties

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	TransactionSale = "Venta"
	TransactionRent = "Alquiler"
	TransactionBoth = "Ambos"
)

// MaxPhotos is the number of photos a listing may carry.
const MaxPhotos = 6

type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Property is a real-estate listing addressed by its public code.
type Property struct {
	Code             string    `json:"code"`
	User             string    `json:"user,omitempty"`
	NombreEdificio   string    `json:"nombre_edificio,omitempty"`
	Geolocalizacion  *Geo      `json:"geolocalizacion,omitempty"`
	Direccion        string    `json:"direccion"`
	Ciudad           string    `json:"ciudad"`
	Departamento     string    `json:"departamento"`
	Descripcion      string    `json:"descripcion,omitempty"`
	TipoTransaccion  string    `json:"tipo_transaccion"`
	Piso             int       `json:"piso"`
	Area             float64   `json:"area"`
	Habitaciones     int       `json:"habitaciones"`
	Banos            int       `json:"banos"`
	Garajes          int       `json:"garajes"`
	Precio           int64     `json:"precio"`
	TelefonoContacto string    `json:"telefono_contacto,omitempty"`
	EmailContacto    string    `json:"email_contacto,omitempty"`
	QRCode           string    `json:"qr_code,omitempty"`
	Fotos            []string  `json:"fotos"`
	CreatedAt        time.Time `json:"created_at"`
}

// Title is the headline used in chat replies.
func (p Property) Title() string {
	if p.NombreEdificio != "" {
		return p.NombreEdificio
	}
	return p.Direccion
}

var pesoPrinter = message.NewPrinter(language.MustParse("es-CO"))

// FormatPrice renders a COP amount the way Colombian listings show it.
func FormatPrice(amount int64) string {
	return "$ " + pesoPrinter.Sprintf("%d", amount)
}

// CreatePropertyRequest is the input for creating a listing.
type CreatePropertyRequest struct {
	Code             string   `json:"code" validate:"required,max=32"`
	User             string   `json:"user,omitempty"`
	NombreEdificio   string   `json:"nombre_edificio,omitempty"`
	Geolocalizacion  *Geo     `json:"geolocalizacion,omitempty"`
	Direccion        string   `json:"direccion" validate:"required"`
	Ciudad           string   `json:"ciudad" validate:"required"`
	Departamento     string   `json:"departamento" validate:"required"`
	Descripcion      string   `json:"descripcion,omitempty"`
	TipoTransaccion  string   `json:"tipo_transaccion" validate:"required,oneof=Venta Alquiler Ambos"`
	Piso             int      `json:"piso" validate:"gte=0"`
	Area             float64  `json:"area" validate:"gt=0"`
	Habitaciones     int      `json:"habitaciones" validate:"gte=0"`
	Banos            int      `json:"banos" validate:"gte=0"`
	Garajes          int      `json:"garajes" validate:"gte=0"`
	Precio           int64    `json:"precio" validate:"gt=0"`
	TelefonoContacto string   `json:"telefono_contacto,omitempty"`
	EmailContacto    string   `json:"email_contacto,omitempty" validate:"omitempty,email"`
	QRCode           string   `json:"qr_code,omitempty"`
	Fotos            []string `json:"fotos" validate:"max=6,dive,url"`
}

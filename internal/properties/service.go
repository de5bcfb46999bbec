package properties

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gongonut/propiedadraiz-backend/internal/bots"
)

var (
	ErrPropertyNotFound = errors.New("property not found")
	ErrInvalidProperty  = errors.New("invalid property")
	ErrNoActiveBot      = errors.New("no active bot with a phone number")
)

// InterestPhrase prefixes the pre-filled chat text; the conversation pipeline
// recognizes it.
const InterestPhrase = "Hola, me interesa el inmueble "

// ActiveBotFinder yields the bot whose number receives listing inquiries.
type ActiveBotFinder interface {
	FindFirstActive(ctx context.Context) (bots.Bot, error)
}

type Service struct {
	store    *Store
	bots     ActiveBotFinder
	logger   *slog.Logger
	validate *validator.Validate
}

func NewService(log *slog.Logger, store *Store, finder ActiveBotFinder) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		bots:     finder,
		logger:   log.With(slog.String("service", "properties")),
		validate: validator.New(),
	}
}

func (s *Service) List(ctx context.Context) ([]Property, error) {
	return s.store.List(ctx)
}

func (s *Service) FindByCode(ctx context.Context, code string) (Property, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Property{}, ErrPropertyNotFound
	}
	return s.store.GetByCode(ctx, code)
}

func (s *Service) Create(ctx context.Context, req CreatePropertyRequest) (Property, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := s.validate.Struct(req); err != nil {
		return Property{}, fmt.Errorf("%w: %s", ErrInvalidProperty, err.Error())
	}
	p, err := s.store.Insert(ctx, Property{
		Code:             req.Code,
		User:             req.User,
		NombreEdificio:   req.NombreEdificio,
		Geolocalizacion:  req.Geolocalizacion,
		Direccion:        req.Direccion,
		Ciudad:           req.Ciudad,
		Departamento:     req.Departamento,
		Descripcion:      req.Descripcion,
		TipoTransaccion:  req.TipoTransaccion,
		Piso:             req.Piso,
		Area:             req.Area,
		Habitaciones:     req.Habitaciones,
		Banos:            req.Banos,
		Garajes:          req.Garajes,
		Precio:           req.Precio,
		TelefonoContacto: req.TelefonoContacto,
		EmailContacto:    req.EmailContacto,
		QRCode:           req.QRCode,
		Fotos:            req.Fotos,
	})
	if err != nil {
		return Property{}, fmt.Errorf("create property: %w", err)
	}
	return p, nil
}

// WhatsAppURL returns a wa.me link that opens a chat with the first active bot,
// pre-filled with the interest phrase for code.
func (s *Service) WhatsAppURL(ctx context.Context, code string) (string, error) {
	p, err := s.FindByCode(ctx, code)
	if err != nil {
		return "", err
	}
	bot, err := s.bots.FindFirstActive(ctx)
	if err != nil {
		if errors.Is(err, bots.ErrBotNotFound) {
			return "", ErrNoActiveBot
		}
		return "", err
	}
	phone := digitsOnly(bot.PhoneNumber)
	if phone == "" {
		return "", ErrNoActiveBot
	}
	return BuildWhatsAppURL(phone, p.Code), nil
}

// BuildWhatsAppURL encodes spaces as %20 so the link matches what browsers generate.
func BuildWhatsAppURL(phone, code string) string {
	text := strings.ReplaceAll(url.QueryEscape(InterestPhrase+code), "+", "%20")
	return "https://wa.me/" + phone + "?text=" + text
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

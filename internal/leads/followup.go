package leads

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gongonut/propiedadraiz-backend/internal/properties"
)

const defaultPhotoCaption = "Foto del Inmueble"

func followUpText(lead Lead, p properties.Property) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hola *%s*, gracias por tu interés en: *%s*.\n\n", lead.Name, p.Title())
	fmt.Fprintf(&b, "💰 *Precio:* %s\n", properties.FormatPrice(p.Precio))
	fmt.Fprintf(&b, "📍 *Ubicación:* %s, %s\n", p.Ciudad, p.Direccion)
	fmt.Fprintf(&b, "🛏 *Habitaciones:* %d | 🚿 *Baños:* %d | 📏 *Área:* %sm²\n",
		p.Habitaciones, p.Banos, strconv.FormatFloat(p.Area, 'f', -1, 64))
	if p.Descripcion != "" {
		fmt.Fprintf(&b, "\n📝 *Descripción:* %s\n", p.Descripcion)
	}
	if link := agentLink(p.TelefonoContacto); link != "" {
		fmt.Fprintf(&b, "\n📞 Contacta directamente al asesor aquí: %s\n", link)
	}
	return b.String()
}

// agentLink builds a wa.me link from the listing's contact phone.
func agentLink(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits
}

func photoCaption(p properties.Property) string {
	if p.NombreEdificio != "" {
		return p.NombreEdificio
	}
	return defaultPhotoCaption
}

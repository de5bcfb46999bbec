package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gongonut/propiedadraiz-backend/internal/properties"
)

const (
	imageCaption = "Foto Principal"

	optionsMenu = "👇 *Opciones Disponibles:*\n\n" +
		"1️⃣ Ver más fotos\n" +
		"2️⃣ Agendar visita\n" +
		"3️⃣ Hablar con un asesor\n\n" +
		"_Responde con el número de tu elección._"
)

func transactionLabel(t string) string {
	if t == properties.TransactionBoth {
		return "Venta / Alquiler"
	}
	return t
}

func describeProperty(p properties.Property) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏠 *%s*\n", p.Title())
	fmt.Fprintf(&b, "📍 %s, %s\n", p.Ciudad, p.Departamento)
	fmt.Fprintf(&b, "💰 *%s* (%s)\n\n", properties.FormatPrice(p.Precio), transactionLabel(p.TipoTransaccion))
	b.WriteString("✨ *Características:*\n")
	fmt.Fprintf(&b, "- Área: %s m²\n", strconv.FormatFloat(p.Area, 'f', -1, 64))
	fmt.Fprintf(&b, "- Habitaciones: %d\n", p.Habitaciones)
	fmt.Fprintf(&b, "- Baños: %d\n", p.Banos)
	if p.Garajes > 0 {
		fmt.Fprintf(&b, "- Garajes: %d\n", p.Garajes)
	}
	if p.Descripcion != "" {
		fmt.Fprintf(&b, "\n📝 %s\n", p.Descripcion)
	}
	b.WriteString("\n¿Te gustaría ver más fotos o agendar una visita?")
	return b.String()
}

func fallbackReply(code string) string {
	return fmt.Sprintf("¡Hola! Gracias por tu interés. Hemos registrado tu solicitud sobre el inmueble *%s* "+
		"y un asesor te contactará pronto con todos los detalles.", code)
}

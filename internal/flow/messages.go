package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/models"
)

const (
	msgTextOnly        = "✍️ Por favor envía texto. Escribe *reservar* para empezar."
	msgServiceEnded    = "⛔ El servicio de reservas finalizó. Contáctanos para reactivarlo."
	msgHelp            = "ℹ️ Comandos: *reservar*, *mis reservas*, *cancelar*, *horario*, *reiniciar*."
	msgStartHint       = "Para iniciar escribe *reservar*."
	msgAskName         = "👋 ¡Bienvenido! ¿Cuál es tu *nombre*?"
	msgAskDate         = "Indica la *fecha* (DD/MM/AAAA) o escribe *hoy* / *mañana*."
	msgInvalidDate     = "📅 Formato de fecha no válido. Usa DD/MM/AAAA o *hoy*/*mañana*."
	msgDatePast        = "La fecha ya pasó. Elige otra."
	msgAskTime         = "¿Hora? (formato 24h *HH:MM* o *7pm*, *7:30pm*)"
	msgInvalidTime     = "🕒 Hora inválida. Usa *HH:MM* 24h o *7pm*, *7:30pm*."
	msgTimePassed      = "🕒 Esa hora ya pasó. Indica una hora posterior."
	msgRetryLater      = "⚠️ No pude crear la reserva. Vuelve a intentar en unos minutos."
	msgNoBookings      = "📭 No tienes reservas próximas. Escribe *reservar* para crear una."
	msgNothingToCancel = "❌ No encontré una reserva próxima para cancelar. Usa *mis reservas* para ver IDs."
	msgCancelFailed    = "⚠️ Ocurrió un problema al cancelar. Intenta más tarde."
	msgUnavailable     = "⚠️ Servicio no disponible en este momento. Intenta más tarde."
	msgHoursEmpty      = "No configurados"
)

var shortWeekdays = map[time.Weekday]string{
	time.Sunday:    "Dom",
	time.Monday:    "Lun",
	time.Tuesday:   "Mar",
	time.Wednesday: "Mié",
	time.Thursday:  "Jue",
	time.Friday:    "Vie",
	time.Saturday:  "Sáb",
}

func msgReset(restaurant string) string {
	return fmt.Sprintf("🧭 Menú reiniciado. Escribe *reservar* para agendar en %s. Comandos: *mis reservas*, *cancelar*, *horario*, *auth google*.", restaurant)
}

func msgAskParty(max int) string {
	return fmt.Sprintf("¿Para cuántas *personas*? (1–%d)", max)
}

func msgInvalidParty(max int) string {
	return fmt.Sprintf("Número inválido. Indica un valor entre 1 y %d.", max)
}

func msgTooFarAhead(days int) string {
	return fmt.Sprintf("Por ahora aceptamos reservas hasta %d días adelante.", days)
}

func msgAuthorize(url string) string {
	return "🔐 Autoriza Google Calendar aquí: " + url
}

func msgAuthorizeFirst(url string) string {
	return "🔐 Falta autorizar Google Calendar. Abre: " + url
}

func msgConfirmed(when string, party int, restaurant string, id int64) string {
	return fmt.Sprintf("✅ Reserva confirmada para *%s* (%d personas).\n📍 %s\nReserva #%d", when, party, restaurant, id)
}

func msgCancelled(when string) string {
	return fmt.Sprintf("🗑️ Reserva del %s cancelada con éxito.", when)
}

func msgHours(windows []config.DayWindow) string {
	if len(windows) == 0 {
		return "🕑 Horarios:\n" + msgHoursEmpty
	}
	lines := make([]string, 0, len(windows))
	for _, dw := range windows {
		lines = append(lines, fmt.Sprintf("• %s: %s", shortWeekdays[dw.Day], dw.Window))
	}
	return "🕑 Horarios:\n" + strings.Join(lines, "\n")
}

func msgBookingList(items []models.Booking, format func(time.Time) string) string {
	lines := make([]string, 0, len(items))
	for _, b := range items {
		lines = append(lines, fmt.Sprintf("• %s (%s) - ID %d", format(b.Start), b.Service, b.ID))
	}
	return fmt.Sprintf("📅 Tus próximas reservas:\n%s\n\nPara cancelar: escribe *cancelar* y el ID (ej. cancelar %d).",
		strings.Join(lines, "\n"), items[0].ID)
}

func eventSummary(party int, name string) string {
	return fmt.Sprintf("Mesa %dp - %s", party, name)
}

func eventDescription(name string, party int, contact string) string {
	return fmt.Sprintf("Cliente: %s\nPersonas: %d\nWhatsApp: %s", name, party, contact)
}

func serviceLabel(party int) string {
	return fmt.Sprintf("Mesa %dp", party)
}

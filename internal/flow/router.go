package flow

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/smartpymes/restaurante/internal/timenorm"
)

// CommandKind enumerates the global keywords.
type CommandKind int

const (
	// CommandNone means the text is dialogue input.
	CommandNone CommandKind = iota
	CommandReset
	CommandHelp
	CommandHours
	CommandAuthorize
	CommandListBookings
	CommandCancel
	// CommandStartBooking only starts a dialogue from Idle; otherwise the text is step input.
	CommandStartBooking
)

func (k CommandKind) String() string {
	switch k {
	case CommandNone:
		return "none"
	case CommandReset:
		return "reset"
	case CommandHelp:
		return "help"
	case CommandHours:
		return "hours"
	case CommandAuthorize:
		return "authorize"
	case CommandListBookings:
		return "list_bookings"
	case CommandCancel:
		return "cancel"
	case CommandStartBooking:
		return "start_booking"
	default:
		return "unknown"
	}
}

// Command is a classified inbound text.
type Command struct {
	Kind CommandKind
	// BookingID is the id given to cancel, valid when HasID is set.
	BookingID int64
	HasID     bool
}

// Classify maps inbound text to a command. Matching ignores case, surrounding
// whitespace and diacritics.
func Classify(text string) Command {
	folded := timenorm.Fold(text)
	switch folded {
	case "menu", "reiniciar":
		return Command{Kind: CommandReset}
	case "ayuda":
		return Command{Kind: CommandHelp}
	case "horario":
		return Command{Kind: CommandHours}
	case "auth google":
		return Command{Kind: CommandAuthorize}
	case "reservar":
		return Command{Kind: CommandStartBooking}
	}
	if strings.HasPrefix(folded, "mis reserva") {
		return Command{Kind: CommandListBookings}
	}
	if rest, ok := strings.CutPrefix(folded, "cancelar"); ok {
		return classifyCancel(rest)
	}
	return Command{Kind: CommandNone}
}

func classifyCancel(rest string) Command {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, rest)
	if digits == "" {
		return Command{Kind: CommandCancel}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		// Too large to be a booking id; matches nothing.
		return Command{Kind: CommandCancel, HasID: true}
	}
	return Command{Kind: CommandCancel, BookingID: id, HasID: true}
}

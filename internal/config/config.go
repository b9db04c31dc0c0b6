package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"

	"github.com/smartpymes/restaurante/internal/util"
)

// Process defaults.
const (
	// DefaultStateDir is the default directory for restaurante state data
	DefaultStateDir = "/var/lib/restaurante"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "restaurante.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultCalendarID targets the authorizing account's primary calendar
	DefaultCalendarID = "primary"
	// DefaultWebhookRate is the sustained inbound webhook rate per second
	DefaultWebhookRate = 20
)

// Messaging providers.
const (
	ProviderTwilio    = "twilio"
	ProviderWhatsmeow = "whatsmeow"
)

// Process holds wiring configuration: storage, transport, HTTP and credentials.
type Process struct {
	StateDir      string
	DBDSN         string
	WhatsAppDBDSN string
	APIAddr       string
	PublicBaseURL string
	Provider      string
	LogLevel      string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	TwilioValidateSignature bool

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	CalendarID         string
	StateSigningKey    string

	RedisAddr     string
	RedisPassword string

	WebhookRate int
}

// Config bundles business and process configuration.
type Config struct {
	Business Business
	Process  Process
}

// Load reads .env (when present) and the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("Config.Load: successfully loaded .env file")
	}

	business, err := LoadBusiness()
	if err != nil {
		return Config{}, err
	}
	process := LoadProcess()

	slog.Debug("Config.Load: environment loaded",
		"state_dir", process.StateDir,
		"dsn_set", process.DBDSN != "",
		"provider", process.Provider,
		"api_addr", process.APIAddr,
		"timezone", business.Location().String(),
		"google_client_set", process.GoogleClientID != "",
		"redis_set", process.RedisAddr != "")
	return Config{Business: business, Process: process}, nil
}

// LoadBusiness builds the Business configuration from environment variables.
func LoadBusiness() (Business, error) {
	opts := []BusinessOption{
		WithRestaurantName(util.GetEnv("RESTAURANT_NAME", DefaultRestaurantName)),
		WithDuration(util.ParseDurationEnv("DEFAULT_DURATION_MIN", DefaultDurationMin*time.Minute)),
		WithMaxAdvanceDays(util.ParseIntEnv("MAX_ADVANCE_DAYS", DefaultMaxAdvanceDays)),
		WithMaxPartySize(util.ParseIntEnv("MAX_PARTY_SIZE", DefaultMaxPartySize)),
		WithMaxNameLength(util.ParseIntEnv("MAX_NAME_LENGTH", DefaultMaxNameLength)),
		WithReminderLead(util.ParseDurationEnv("REMINDER_LEAD", DefaultReminderLead)),
		WithReminderCron(util.GetEnv("REMINDER_CRON", DefaultReminderCron)),
	}

	tz := util.GetEnv("TIMEZONE", DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Business{}, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}
	opts = append(opts, WithLocation(loc))

	if raw := os.Getenv("OPENING_HOURS_JSON"); strings.TrimSpace(raw) != "" {
		hours, err := ParseOpeningHours(raw)
		if err != nil {
			return Business{}, err
		}
		opts = append(opts, WithOpeningHours(hours))
	}

	dates, err := ParseBlackoutDates(os.Getenv("BLACKOUT_DATES"))
	if err != nil {
		return Business{}, err
	}
	opts = append(opts, WithBlackoutDates(dates...))

	if raw := strings.TrimSpace(os.Getenv("SESSION_IDLE_TTL")); raw == "0" {
		opts = append(opts, WithSessionIdleTTL(0))
	} else {
		opts = append(opts, WithSessionIdleTTL(util.ParseDurationEnv("SESSION_IDLE_TTL", DefaultSessionIdleTTL)))
	}

	if raw := strings.TrimSpace(os.Getenv("DEMO_END_DATE")); raw != "" {
		end, err := civil.ParseDate(raw)
		if err != nil {
			return Business{}, fmt.Errorf("invalid DEMO_END_DATE %q: %w", raw, err)
		}
		opts = append(opts, WithServiceEndDate(end))
	}

	return NewBusiness(opts...)
}

// LoadProcess reads process wiring settings. DSNs that derive from the state
// directory are left empty until ApplyStateDirDefaults runs, so command line
// overrides of the state directory are honoured.
func LoadProcess() Process {
	p := Process{
		StateDir:      util.GetEnv("RESTAURANTE_STATE_DIR", DefaultStateDir),
		DBDSN:         util.GetEnv("DATABASE_DSN", os.Getenv("DATABASE_URL")),
		WhatsAppDBDSN: os.Getenv("WHATSAPP_DB_DSN"),
		APIAddr:       util.GetEnv("API_ADDR", DefaultAPIAddr),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		Provider:      strings.ToLower(util.GetEnv("MESSAGING_PROVIDER", ProviderTwilio)),
		LogLevel:      util.GetEnv("LOG_LEVEL", "info"),

		TwilioAccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:        os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioValidateSignature: util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", true),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URI"),
		CalendarID:         util.GetEnv("GOOGLE_CALENDAR_ID", DefaultCalendarID),
		StateSigningKey:    os.Getenv("STATE_SIGNING_KEY"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WebhookRate: util.ParseIntEnv("WEBHOOK_RATE_PER_SEC", DefaultWebhookRate),
	}
	return p
}

// ApplyStateDirDefaults fills DSNs and redirect URL that derive from other fields.
func (p *Process) ApplyStateDirDefaults() {
	if p.DBDSN == "" {
		p.DBDSN = filepath.Join(p.StateDir, DefaultDBFileName)
		slog.Debug("Process.ApplyStateDirDefaults: no database DSN provided, defaulting to SQLite", "sqlite_path", p.DBDSN)
	}
	if p.WhatsAppDBDSN == "" {
		p.WhatsAppDBDSN = "file:" + filepath.Join(p.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if p.GoogleRedirectURL == "" && p.PublicBaseURL != "" {
		p.GoogleRedirectURL = p.PublicBaseURL + "/oauth/google/callback"
	}
}

// ParseLogLevel maps LOG_LEVEL strings to slog levels, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Build            string
		Env              string // DEV (local; default), TEST, QA, PROD
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		WorkDir          string
		MediaDir         string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Billing  BillingConfig
		Booking  BookingConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		RateLimit                 float64 // requests per second, per client IP
		RateBurst                 int
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		Name          string
		Path          string // sqlite only
		DisableTLS    bool
	}

	BillingConfig struct {
		TrialDelta     time.Duration
		ExtensionDelta time.Duration
		MonthlyPrice   decimal.Decimal
		YearlyPrice    decimal.Decimal
		Currency       string
	}

	BookingConfig struct {
		MinDuration time.Duration
		MaxDuration time.Duration
		SlotStep    time.Duration
		MaxAdvance  time.Duration
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// NewConfig loads the configuration of the current ENV from environment variables,
// falling back to config/.env.<env> and then to the defaults.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	setDefaults(v, env)
	v.AutomaticEnv()

	return &Config{
		Build:                     v.GetString("build"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		WorkDir:                   wd,
		MediaDir:                  v.GetString("mediaDir"),
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugHost:                 v.GetString("debugHost"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			RateLimit:                 v.GetFloat64("rateLimit"),
			RateBurst:                 v.GetInt("rateBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			Path:          v.GetString("dbPath"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Billing: BillingConfig{
			TrialDelta:     v.GetDuration("trialDelta"),
			ExtensionDelta: v.GetDuration("paymentExtensionDelta"),
			MonthlyPrice:   decimal.RequireFromString(v.GetString("monthlyPrice")),
			YearlyPrice:    decimal.RequireFromString(v.GetString("yearlyPrice")),
			Currency:       v.GetString("currency"),
		},
		Booking: BookingConfig{
			MinDuration: v.GetDuration("bookingMinDuration"),
			MaxDuration: v.GetDuration("bookingMaxDuration"),
			SlotStep:    v.GetDuration("bookingSlotStep"),
			MaxAdvance:  v.GetDuration("bookingMaxAdvance"),
		},
	}
}

func setDefaults(v *viper.Viper, env string) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Roomly")
	v.SetDefault("secretKey", "k2#x8@9t!c6m0vq=p&ry3)g4+zh7$e5(w1bnj_sdf-u*lo")
	v.SetDefault("mediaDir", filepath.Join(os.TempDir(), "roomly", "media"))
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("debugHost", ":4000")
	v.SetDefault("shutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 30*24*time.Hour)
	v.SetDefault("rateLimit", 1.0)
	v.SetDefault("rateBurst", 10)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbUser", "roomly")
	v.SetDefault("dbPassword", "roomly")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "roomly")
	v.SetDefault("dbPath", filepath.Join(os.TempDir(), "roomly", "roomly.db"))
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("trialDelta", 30*24*time.Hour)
	v.SetDefault("paymentExtensionDelta", 30*24*time.Hour)
	v.SetDefault("monthlyPrice", "49.00")
	v.SetDefault("yearlyPrice", "490.00")
	v.SetDefault("currency", "USD")

	v.SetDefault("bookingMinDuration", 30*time.Minute)
	v.SetDefault("bookingMaxDuration", 12*time.Hour)
	v.SetDefault("bookingSlotStep", 15*time.Minute)
	v.SetDefault("bookingMaxAdvance", 365*24*time.Hour)
}

// Getwd tries to find the project root (the directory holding go.mod).
// go-test changes the working directory to the test package being run during tests,
// so walk up from there. Falls back to the working directory.
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

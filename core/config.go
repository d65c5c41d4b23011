package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env             string // DEV (local; default), TEST, QA, PROD
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		FrontendBaseURL string
		SendgridApiKey  string
		RollbarToken    string
		TelegramToken   string
		WorkDir         string

		defaultFromEmail string

		Server    ServerConfig
		Database  DatabaseConfig
		Scheduler SchedulerConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		DisableReqLogs            bool
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		PasswordResetRate         float64 // requests per minute per client IP
		PasswordResetBurst        int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
	}

	SchedulerConfig struct {
		Enabled               bool
		Timezone              string
		SessionHorizon        time.Duration
		DeliveryWorkers       int
		DeliveryRatePerSec    float64
		DeliveryMaxAttempts   int
		DeliveryRetryBase     time.Duration
		DeliveryRetryMaxDelay time.Duration
		DeliveryBatchSize     int
		DeliveryLease         time.Duration
	}
)

// DefaultFromEmail parses the configured sender address; falls back to a bare address.
func (c *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(c.defaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func (c *Config) SetDefaultFromEmail(email string) { c.defaultFromEmail = email }

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// NewConfig loads the config from the environment, after loading `config/.env.<env>` if it exists.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "dev")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Campus")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromEmail", "Campus <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("telegramToken", "")

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverDisableReqLogs", false)
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("passwordResetRate", 5.0)
	v.SetDefault("passwordResetBurst", 5)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbUser", "campus")
	v.SetDefault("dbPassword", "campus")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbName", "campus")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("schedulerEnabled", true)
	v.SetDefault("schedulerTimezone", "UTC")
	v.SetDefault("sessionHorizon", 90*24*time.Hour)
	v.SetDefault("deliveryWorkers", 4)
	v.SetDefault("deliveryRatePerSec", 10.0)
	v.SetDefault("deliveryMaxAttempts", 6)
	v.SetDefault("deliveryRetryBase", 30*time.Second)
	v.SetDefault("deliveryRetryMaxDelay", time.Hour)
	v.SetDefault("deliveryBatchSize", 50)
	v.SetDefault("deliveryLease", 2*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	v.SetDefault("workDir", wd)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        env == "TEST" || v.GetBool("testMode"),
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		SendgridApiKey:  v.GetString("sendgridApiKey"),
		RollbarToken:    v.GetString("rollbarToken"),
		TelegramToken:   v.GetString("telegramToken"),
		WorkDir:         v.GetString("workDir"),

		defaultFromEmail: v.GetString("defaultFromEmail"),

		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugHost:                 v.GetString("serverDebugHost"),
			DisableReqLogs:            v.GetBool("serverDisableReqLogs"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
			PasswordResetRate:         v.GetFloat64("passwordResetRate"),
			PasswordResetBurst:        v.GetInt("passwordResetBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			Name:          v.GetString("dbName"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Scheduler: SchedulerConfig{
			Enabled:               v.GetBool("schedulerEnabled"),
			Timezone:              v.GetString("schedulerTimezone"),
			SessionHorizon:        v.GetDuration("sessionHorizon"),
			DeliveryWorkers:       v.GetInt("deliveryWorkers"),
			DeliveryRatePerSec:    v.GetFloat64("deliveryRatePerSec"),
			DeliveryMaxAttempts:   v.GetInt("deliveryMaxAttempts"),
			DeliveryRetryBase:     v.GetDuration("deliveryRetryBase"),
			DeliveryRetryMaxDelay: v.GetDuration("deliveryRetryMaxDelay"),
			DeliveryBatchSize:     v.GetInt("deliveryBatchSize"),
			DeliveryLease:         v.GetDuration("deliveryLease"),
		},
	}
	if conf.TestMode {
		conf.Debug = true
	}
	return conf
}

// NewTestConfig returns a Config suitable for tests: no env lookups, short timeouts.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		Debug:            true,
		TestMode:         true,
		AppName:          "Campus",
		SecretKey:        "secret",
		FrontendBaseURL:  "http://localhost:8080",
		defaultFromEmail: "Campus <noreply@localhost>",
		Server: ServerConfig{
			Host:                      "localhost",
			DisableReqLogs:            true,
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			PasswordResetRate:         600,
			PasswordResetBurst:        100,
		},
		Scheduler: SchedulerConfig{
			Timezone:              "UTC",
			SessionHorizon:        60 * 24 * time.Hour,
			DeliveryWorkers:       1,
			DeliveryMaxAttempts:   3,
			DeliveryRetryBase:     time.Minute,
			DeliveryRetryMaxDelay: time.Hour,
			DeliveryBatchSize:     100,
			DeliveryLease:         time.Minute,
		},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (env=%s, build=%s, debug=%t)", c.AppName, c.Env, c.Build, c.Debug)
}

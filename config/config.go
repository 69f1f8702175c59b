package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	ServerPort  string
	DatabaseDSN string
	BaseURL     string

	// Auth
	AccessSecret     string
	AccessTTLMin     int
	RefreshTTLDays   int
	MaxActiveRefresh int

	// Cookies / CSRF
	CookieSecure   bool
	CookieSameSite string

	// Rate limits for resend/forgot endpoints
	RateLimitWindowMin int
	RateLimitMax       int

	// Outbound mail events
	KafkaBroker   string
	KafkaTopic    string
	KafkaUsername string
	KafkaPassword string

	// Optional seed admin
	AdminEmail    string
	AdminPassword string
}

func LoadConfig() Config {
	env := os.Getenv("ENV")

	if env != "prod" {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: env file not found or could not be loaded:", err)
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		// a missing signing secret must fail at startup, never per request
		log.Fatal("JWT_SECRET is required")
	}

	return Config{
		Env:         env,
		ServerPort:  getEnv("SERVER_PORT", ":3000"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:5173"),

		AccessSecret:     secret,
		AccessTTLMin:     getEnvInt("ACCESS_TTL_MIN", 15),
		RefreshTTLDays:   getEnvInt("REFRESH_TTL_DAYS", 30),
		MaxActiveRefresh: getEnvInt("MAX_ACTIVE_REFRESH", 5),

		CookieSecure:   getEnvBool("COOKIE_SECURE", env == "prod"),
		CookieSameSite: getEnv("COOKIE_SAMESITE", "Lax"),

		RateLimitWindowMin: getEnvInt("RATE_LIMIT_WINDOW_MIN", 15),
		RateLimitMax:       getEnvInt("RATE_LIMIT_MAX", 5),

		KafkaBroker:   os.Getenv("KAFKA_BROKER"),
		KafkaTopic:    os.Getenv("KAFKA_TOPIC"),
		KafkaUsername: os.Getenv("KAFKA_USERNAME"),
		KafkaPassword: os.Getenv("KAFKA_PASSWORD"),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

package api

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/studyflow/auth_service/config"
	"github.com/studyflow/auth_service/infra/queue"
	"github.com/studyflow/auth_service/internal/api/rest/handlers"
	"github.com/studyflow/auth_service/internal/api/rest/middleware"
	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/helper"
	"github.com/studyflow/auth_service/internal/repository"
	"github.com/studyflow/auth_service/internal/services"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func StartServer(cfg config.Config) {
	app := fiber.New()

	// ---------- CORS ----------
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.BaseURL,
		AllowHeaders:     "Content-Type, Accept, Authorization, x-csrf-token",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	// ---------- DB ----------
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DatabaseDSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	log.Println("database connected")

	// ---------- MIGRATION + SEED (guarded by advisory lock) ----------
	const migrateLockID int64 = 20260828

	if err := db.Exec("SELECT pg_advisory_lock(?)", migrateLockID).Error; err != nil {
		log.Fatalf("migration lock error: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.User{},
		&domain.RefreshToken{},
		&domain.EmailVerificationToken{},
		&domain.PasswordResetToken{},
		&domain.AuditLog{},
	); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	log.Println("migration successful")

	seedAdmin(db, cfg)

	_ = db.Exec("SELECT pg_advisory_unlock(?)", migrateLockID).Error

	// ---------- Infra ----------
	kafkaProducer := queue.NewProducer(
		cfg.KafkaBroker,
		cfg.KafkaTopic,
		cfg.KafkaUsername,
		cfg.KafkaPassword,
	)

	authHelper := helper.SetupAuth(cfg.AccessSecret, time.Duration(cfg.AccessTTLMin)*time.Minute)
	cookieSettings := helper.CookieSettings{
		Secure:   cfg.CookieSecure,
		SameSite: cfg.CookieSameSite,
	}
	csrfConfig := middleware.DefaultCsrfConfig(cfg.CookieSecure, cfg.CookieSameSite)

	// ---------- Repositories ----------
	userRepo := repository.NewUserRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	onetimeRepo := repository.NewOneTimeTokenRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// ---------- Service ----------
	authSvc := services.NewAuthService(
		userRepo,
		refreshRepo,
		onetimeRepo,
		auditRepo,
		kafkaProducer,
		authHelper,
		time.Duration(cfg.RefreshTTLDays)*24*time.Hour,
		cfg.MaxActiveRefresh,
	)

	// ---------- Middleware ----------
	app.Use(middleware.SessionMiddleware(authHelper))
	app.Use(middleware.CsrfProtect(csrfConfig))

	// ---------- Handler ----------
	authHandler := handlers.NewAuthHandler(
		authSvc,
		cookieSettings,
		csrfConfig,
		cfg.RateLimitMax,
		time.Duration(cfg.RateLimitWindowMin)*time.Minute,
	)
	authHandler.SetupRoutes(app)

	// ---------- Health ----------
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ---------- Listen + graceful shutdown ----------
	go func() {
		log.Println("listening on", cfg.ServerPort)
		if err := app.Listen(cfg.ServerPort); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	if err := app.Shutdown(); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := kafkaProducer.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// seedAdmin creates the initial admin account when configured. A
// duplicate email means another instance already seeded it.
func seedAdmin(db *gorm.DB, cfg config.Config) {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return
	}
	email := strings.ToLower(cfg.AdminEmail)

	var existing domain.User
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("seed admin lookup error: %v", err)
		return
	}

	hash, err := helper.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Printf("seed admin hash error: %v", err)
		return
	}

	if err := db.Create(&domain.User{
		Email:         email,
		PasswordHash:  hash,
		Name:          "Administrator",
		Role:          domain.RoleAdmin,
		EmailVerified: true,
	}).Error; err != nil {
		log.Printf("seed admin create error: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/database"
	"github.com/Wikid82/argus/internal/logger"
	"github.com/Wikid82/argus/internal/models"
	"github.com/Wikid82/argus/internal/server"
	"github.com/Wikid82/argus/internal/services"
	"github.com/Wikid82/argus/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Setup logging with rotation
	logDir := cfg.LogDir
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logDir = filepath.Join("data", "logs")
		_ = os.MkdirAll(logDir, 0o755)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "argus.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer rotator.Close()
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))
	response.SetDevelopment(cfg.IsDevelopment())
	log := logger.ForComponent("main")

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}

	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if len(os.Args) != 4 {
			log.Fatalf("Usage: %s reset-password <email> <new-password>", os.Args[0])
		}
		if err := resetPassword(db, os.Args[2], os.Args[3]); err != nil {
			log.WithError(err).Fatal("reset password")
		}
		log.WithField("email", os.Args[2]).Info("password updated")
		return
	}

	log.WithFields(map[string]interface{}{
		"version":     version.Full(),
		"environment": cfg.Environment,
	}).Infof("starting %s", version.Name)

	if cfg.JWTSecret == "change-me-in-production" && !cfg.IsDevelopment() {
		log.Warn("ARGUS_JWT_SECRET is not set; admin tokens use the built-in default secret")
	}

	srv, err := server.New(db, cfg)
	if err != nil {
		log.WithError(err).Fatal("init server")
	}
	defer srv.Close()

	u, created, err := services.NewAuthService(db, cfg).EnsureAdmin(cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		log.WithError(err).Error("failed to create bootstrap admin")
	} else if created {
		log.WithField("email", u.Email).Info("created bootstrap admin account")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("port", cfg.HTTPPort).Info("listening")
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server error")
	}
	log.Info("shutting down")
}

func resetPassword(db *gorm.DB, email, password string) error {
	var user models.User
	if err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		return fmt.Errorf("user not found: %w", err)
	}
	if err := user.SetPassword(password); err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.Enabled = true
	return db.Save(&user).Error
}

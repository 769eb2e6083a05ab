package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/patcreator/alx-backend-security/internal/app/bootstrap"
	"github.com/patcreator/alx-backend-security/internal/app/server"
	"github.com/patcreator/alx-backend-security/internal/config"
	"github.com/patcreator/alx-backend-security/internal/support"
)

const defaultBackendPort = 8082

// setupServices is replaced in tests.
var setupServices = bootstrap.Setup

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}
	if support.GetEnvBool("DEBUG", false) {
		log.SetLevel(log.DebugLevel)
	}

	return NewRootCommand().Execute()
}

func serve(port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices()
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn("error closing services", "error", err)
		}
	}()

	services.StartRoutines(ctx)

	log.Info("ipguard ready",
		"production", config.InProductionMode,
		"stages", services.Pipeline.StageNames(),
		"redis", services.Redis != nil,
	)
	return server.OpenRoutes(ctx, port, services)
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}

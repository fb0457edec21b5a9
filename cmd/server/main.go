package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/quillboard/quillboard/pkg/database"
	"github.com/quillboard/quillboard/pkg/logger"
	"github.com/quillboard/quillboard/pkg/server"
)

// Config holds all server configuration, read from the environment the
// same way the source's Config did.
type Config struct {
	Port             string
	SQLiteURI        string
	CleanupInterval  time.Duration
	MaxIdleTime      time.Duration
	WSReadTimeout    time.Duration
	WSWriteTimeout   time.Duration
	BroadcastBufSize int
	PersistInterval  time.Duration
}

func main() {
	logger.Init()

	config := Config{
		Port:             getEnv("PORT", "3030"),
		SQLiteURI:        getEnv("SQLITE_URI", "quillboard.db"),
		CleanupInterval:  time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		MaxIdleTime:      time.Duration(getEnvInt("MAX_IDLE_MINUTES", 1440)) * time.Minute,
		WSReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MINUTES", 30)) * time.Minute,
		WSWriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		BroadcastBufSize: getEnvInt("BROADCAST_BUFFER_SIZE", 16),
		PersistInterval:  time.Duration(getEnvInt("PERSIST_INTERVAL_SECONDS", 5)) * time.Second,
	}

	logger.Info("Starting quillboard server...")
	logger.Info("Port: %s", config.Port)
	logger.Info("Database: %s", config.SQLiteURI)

	db, err := database.New(config.SQLiteURI)
	if err != nil {
		logger.Error("failed to initialize database: %v", err)
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer db.Close()

	srv := server.NewServer(db, server.Config{
		BroadcastBufferSize: config.BroadcastBufSize,
		WSReadTimeout:       config.WSReadTimeout,
		WSWriteTimeout:      config.WSWriteTimeout,
		PersistInterval:     config.PersistInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.StartCleaner(ctx, config.CleanupInterval, config.MaxIdleTime)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
		srv.Shutdown(context.Background())
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", config.Port)
	log.Fatal(srv.ListenAndServe(addr))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

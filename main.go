package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"macrostudio/api"
	"macrostudio/config"
	"macrostudio/engine"
	"macrostudio/gateway"
	"macrostudio/macro"
)

// setupLogging creates a log file in the log directory with timestamp
// Returns the log file handle (caller should defer Close())
func setupLogging() (*os.File, error) {
	logDir := "log"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Write to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("Logging to: %s", logPath)
	return logFile, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Printf("Warning: Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting Macro Studio Backend...")

	settings := config.LoadSettings()
	log.Printf("Defaults: start/stop hotkey %s, stop hotkey %s, max_steps %d",
		settings.DefaultStartStopHotkey, settings.DefaultStopHotkey, settings.MaxSteps)

	db, err := config.InitDatabase()
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	store := macro.NewStore(db)

	// Event hub carries engine events out to UI clients
	hub := api.NewEventHub()
	go hub.Run()

	// Live gateways: xdotool for input, scrot+visgrep for image probes
	eng := engine.NewEngine(gateway.NewXdotoolGateway(), gateway.NewScreenGateway(), hub)
	defer eng.Shutdown(2 * time.Second)

	router := gin.Default()
	api.SetupRoutes(router, store, eng, hub)

	log.Println("Server starting on http://localhost:8080")
	log.Println("WebSocket events on ws://localhost:8080/ws")

	if err := router.Run(":8080"); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

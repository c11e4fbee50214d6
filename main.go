package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"github.com/skwidy/assistant/config"
	"github.com/skwidy/assistant/dispatch"
	"github.com/skwidy/assistant/logger"
	"github.com/skwidy/assistant/ratelimit"
	"github.com/skwidy/assistant/server"
)

const defaultRegistryPath = "assistants.yaml"

func main() {
	fmt.Println(GetVersionInfo())

	// .env.local wins over .env; both are optional and never override
	// variables already present in the environment.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	registryPath := os.Getenv("ASSISTANTS_CONFIG")
	if registryPath == "" {
		registryPath = defaultRegistryPath
	}

	reg, err := config.Load(registryPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if reg.OpenAIAPIKey == "" {
		log.Fatalf("OPENAI_API_KEY must be set")
	}

	obsLogger := logger.NewObservabilityLogger(os.Stdout, reg.LogLevel)
	obsLogger.Info(logger.ComponentConfig, logger.CategoryStartup, "", "configuration loaded", map[string]interface{}{
		"app":               reg.AppName,
		"assistants":        len(reg.All()),
		"default_assistant": reg.DefaultAssistant,
		"environment":       reg.Environment,
		"global_limit":      reg.GlobalRateLimit.MaxRequests,
		"global_window_ms":  reg.GlobalRateLimit.WindowMillis,
		"port":              reg.Port,
		"version":           Version,
	})

	gate := ratelimit.New(reg)
	dispatcher := dispatch.New(openai.NewClient(reg.OpenAIAPIKey))
	handler := server.NewHandler(reg, gate, dispatcher, obsLogger, Version)

	srv := &http.Server{
		Addr:         ":" + reg.Port,
		Handler:      server.NewRouter(handler),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // dispatches can poll for minutes
		IdleTimeout:  60 * time.Second,
	}

	obsLogger.Info(logger.ComponentServer, logger.CategoryStartup, "", "relay listening", map[string]interface{}{
		"address": fmt.Sprintf("http://localhost:%s", reg.Port),
	})

	if err := srv.ListenAndServe(); err != nil {
		obsLogger.Error(logger.ComponentServer, logger.CategoryError, "", "server stopped", map[string]interface{}{"error": err.Error()})
		log.Fatalf("Server failed: %v", err)
	}
}

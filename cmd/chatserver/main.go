package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	"marketchat/internal/adapter/api"
	"marketchat/internal/adapter/repository"
	domainrepo "marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/internal/infrastructure/websocket"
	"marketchat/internal/usecase"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetEnvironment(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var chatRepo domainrepo.ChatRepository
	storeName := "memory"
	if cfg.FirebaseProject != "" {
		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, credentials()...)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()
		chatRepo = repository.NewFirestoreChatRepository(firestoreClient)
		storeName = "firestore"
	} else {
		chatRepo = repository.NewMemoryChatRepository()
	}
	logger.Info("Using %s chat repository", storeName)

	rateLimiter := ratelimit.NewRateLimiter(cfg.SendPerMin)
	rateLimiter.StartCleanupRoutine(ctx)

	hub := websocket.NewHub()
	chatUseCase := usecase.NewChatUseCase(chatRepo, hub, rateLimiter, cfg.Topic)
	hub.SetSender(chatUseCase)

	e := api.NewServer(chatUseCase, hub, rateLimiter, storeName, cfg.Topic)
	e.Use(middleware.Logger())

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

// credentials prefers an inline service account, then a key file. With
// neither, the client falls back to application default credentials.
func credentials() []option.ClientOption {
	if serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); serviceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(serviceAccountJSON))}
	}
	if serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"); serviceAccountPath != "" {
		if _, err := os.Stat(serviceAccountPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", serviceAccountPath)
		}
		logger.Info("Using Firebase service account from file: %s", serviceAccountPath)
		return []option.ClientOption{option.WithCredentialsFile(serviceAccountPath)}
	}
	return nil
}

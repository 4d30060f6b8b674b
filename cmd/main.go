package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatwire/bus"
	"chatwire/moderation"
	"chatwire/presence"
	"chatwire/repositories"
	"chatwire/runtime/workers"
	"chatwire/search"
	"chatwire/services"
	"chatwire/session"
	transport "chatwire/transport/http"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer (database close included)
// executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Storage (BadgerDB) & Search (Bluge)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	indexWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = indexWriter.Close()
	}()

	// 3. Repositories & Moderation
	userRepository := repositories.NewUserRepository(db)
	conversationRepository := repositories.NewConversationRepository(db, log)
	messageRepository := repositories.NewMessageRepository(db, log)
	userIndex := search.NewUserIndex(indexWriter, log)

	charReplacement, err := config.CharacterRune()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	sanitizer, err := moderation.NewSanitizer(charReplacement, log)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	// 4. Delivery engine: registry, bus, presence, sessions
	registry := bus.NewRegistry()
	deliveryBus := bus.NewInProcessBus(log, conversationRepository, registry,
		config.BufferSize, config.SinkTimeout)
	tracker := presence.NewTracker(deliveryBus, config.TypingIdleTimeout, log)
	sessionManager := session.NewManager(log, conversationRepository, messageRepository,
		deliveryBus, tracker)

	// 5. Services
	authService := services.NewAuthService(userRepository, userIndex, config.AuthTokenDuration)
	chatService := services.NewChatService(log, conversationRepository, messageRepository,
		userRepository, sanitizer, deliveryBus, tracker)

	// 6. Supervision: fan-out loop, typing sweeper, telemetry
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		deliveryBus,
		workers.NewTypingSweeper(tracker, log),
		workers.NewTelemetryWorker(log, config.TelemetryInterval),
	)

	// 7. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup.Run(ctx)

	// 8. HTTP Server Setup
	var allowedOrigins []string
	for _, origin := range strings.Split(config.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins = append(allowedOrigins, origin)
		}
	}

	handler := transport.NewHandler(log, authService, chatService, userRepository,
		userIndex, sessionManager, tracker, config.SearchLimit, allowedOrigins)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           handler.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 9. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 10. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "err", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

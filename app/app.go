package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Toromino/kibou-sub000/activitypub"
	"github.com/Toromino/kibou-sub000/db"
	"github.com/Toromino/kibou-sub000/util"
	"github.com/Toromino/kibou-sub000/web"
)

// App represents the main application with all its servers and dependencies
type App struct {
	config     *util.AppConfig
	httpServer *http.Server
	workerStop context.CancelFunc
	done       chan os.Signal
}

// New creates a new App instance with the given configuration
func New(conf *util.AppConfig) (*App, error) {
	return &App{
		config: conf,
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize opens the database, runs migrations and builds the HTTP server.
func (a *App) Initialize() error {
	if err := db.Init(a.config.DatabasePath()); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	log.Println("Running database migrations...")
	if err := db.GetDB().RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Println("Database migrations complete")

	router, err := web.Router(a.config)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP router: %w", err)
	}

	a.httpServer = &http.Server{
		Addr:              a.config.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}

// Start starts the HTTP server and the delivery worker, then blocks until
// a shutdown signal is received.
func (a *App) Start() error {
	workerCtx, cancel := context.WithCancel(context.Background())
	a.workerStop = cancel
	go activitypub.StartDeliveryWorker(workerCtx, a.config)

	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Starting HTTP server on %s", a.config.ListenAddr())
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown gracefully stops the server and worker with a 30 second timeout
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error

	log.Println("Stopping HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		shutdownErr = err
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	// Stop the delivery worker; queued items survive in the database
	if a.workerStop != nil {
		a.workerStop()
	}

	log.Println("All servers stopped")
	return shutdownErr
}

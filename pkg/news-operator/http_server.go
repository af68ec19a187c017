package news_operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	structuredLogger "github.com/flant/news-operator/pkg/utils/structured-logger"
)

type baseHTTPServer struct {
	router chi.Router

	address string
	port    string

	srv *http.Server

	logger *log.Logger
}

func newBaseHTTPServer(address, port string, logger *log.Logger) *baseHTTPServer {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(structuredLogger.NewStructuredLogger(logger, "httpServer"))
	router.Use(middleware.Recoverer)

	return &baseHTTPServer{
		router:  router,
		address: address,
		port:    port,
		logger:  logger,
	}
}

// Start checks the port is available and serves requests in background.
func (bhs *baseHTTPServer) Start(ctx context.Context) error {
	address := net.JoinHostPort(bhs.address, bhs.port)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on '%s' fails: %w", address, err)
	}

	bhs.srv = &http.Server{
		Handler:           bhs.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	bhs.logger.Info("listen on address", slog.String("address", address))

	go func() {
		if err := bhs.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bhs.logger.Error("Fatal: error starting HTTP server", log.Err(err))
			os.Exit(1)
		}
	}()

	return nil
}

func (bhs *baseHTTPServer) Shutdown(ctx context.Context) error {
	if bhs.srv == nil {
		return nil
	}
	return bhs.srv.Shutdown(ctx)
}

// RegisterRoute register http.HandlerFunc
func (bhs *baseHTTPServer) RegisterRoute(method, pattern string, h http.HandlerFunc) {
	bhs.router.MethodFunc(method, pattern, h)
}

// Copyright 2025 Flant JSC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"

	utils "github.com/flant/news-operator/pkg/utils/file"
	structuredLogger "github.com/flant/news-operator/pkg/utils/structured-logger"
)

type Server struct {
	Router chi.Router

	prefix     string
	socketPath string
	httpAddr   string

	servers []*http.Server

	logger *log.Logger
}

// NewServer creates a debug server that listens on a unix socket
// and optionally on a tcp address. Handlers are also mounted under the prefix
// for the tcp listener.
func NewServer(prefix, socketPath, httpAddr string, logger *log.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(structuredLogger.NewStructuredLogger(logger.Named("debugEndpoint"), "debugEndpoint"))
	router.Use(middleware.Recoverer)

	// Profiles are served on the debug listeners only.
	router.Mount("/debug", middleware.Profiler())

	return &Server{
		Router:     router,
		prefix:     prefix,
		socketPath: socketPath,
		httpAddr:   httpAddr,
		logger:     logger.With(slog.String("component", "debugServer")),
	}
}

func (s *Server) Init() error {
	address := s.socketPath

	err := os.MkdirAll(path.Dir(address), 0o700)
	if err != nil {
		s.logger.Error("Debug HTTP server fail to create socket dir", slog.String("path", address), log.Err(err))
		return err
	}

	exists, err := utils.FileExists(address)
	if err != nil {
		s.logger.Error("Debug HTTP server fail to check socket", slog.String("path", address), log.Err(err))
		return err
	}
	if exists {
		err = os.Remove(address)
		if err != nil {
			s.logger.Error("Debug HTTP server fail to remove existing socket", slog.String("path", address), log.Err(err))
			return err
		}
	}

	listener, err := net.Listen("unix", address)
	if err != nil {
		s.logger.Error("Debug HTTP server fail to listen", slog.String("path", address), log.Err(err))
		return err
	}

	s.logger.Info("Debug endpoint listen on unix socket", slog.String("path", address))
	s.serve(listener, s.Router)

	if s.httpAddr != "" {
		tcpListener, err := net.Listen("tcp", s.httpAddr)
		if err != nil {
			s.logger.Error("Debug HTTP server fail to listen", slog.String("address", s.httpAddr), log.Err(err))
			return err
		}

		mux := chi.NewRouter()
		mux.Mount(s.prefix, s.Router)
		s.logger.Info("Debug endpoint listen on address", slog.String("address", s.httpAddr), slog.String("prefix", s.prefix))
		s.serve(tcpListener, mux)
	}

	return nil
}

func (s *Server) serve(listener net.Listener, handler http.Handler) {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.servers = append(s.servers, srv)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Error starting Debug HTTP server", log.Err(err))
			os.Exit(1)
		}
	}()
}

// Shutdown stops listeners and removes the unix socket.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	_ = os.Remove(s.socketPath)
	return errors.Join(errs...)
}

// RegisterHandler adds a route. The handler result is serialized
// according to the format url parameter, "text" by default.
func (s *Server) RegisterHandler(method, pattern string, handler func(request *http.Request) (interface{}, error)) {
	// Should not happen.
	if handler == nil {
		return
	}

	s.Router.MethodFunc(method, pattern, func(writer http.ResponseWriter, request *http.Request) {
		out, err := handler(request)
		if err != nil {
			handleError(writer, err)
			return
		}

		if out == nil && request.Method != http.MethodGet {
			writer.WriteHeader(http.StatusOK)
			return
		}

		format := FormatFromRequest(request)
		structuredLogger.GetLogEntry(request).Debug("use format", slog.String("format", format))

		outBytes, err := TransformUsingFormat(out, format)
		if err != nil {
			writer.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprintf(writer, "Error '%s' transform: %s", format, err)
			return
		}

		_, _ = writer.Write(outBytes)
	})
}

func handleError(writer http.ResponseWriter, err error) {
	var badRequest *BadRequestError
	if errors.As(err, &badRequest) {
		writer.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(writer, "Error: %s", badRequest.Msg)
		return
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		writer.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(writer, "Error: %s", notFound.Msg)
		return
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		writer.WriteHeader(http.StatusConflict)
		_, _ = fmt.Fprintf(writer, "Error: %s", conflict.Msg)
		return
	}

	writer.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(writer, "Error: %s", err)
}

// FormatFromRequest returns the format url parameter or "text".
func FormatFromRequest(request *http.Request) string {
	format := chi.URLParam(request, "format")
	if format == "" {
		format = "text"
	}
	return format
}

func TransformUsingFormat(val interface{}, format string) ([]byte, error) {
	var outBytes []byte
	var err error

	switch format {
	case "yaml":
		outBytes, err = toYAML(val)
	case "text":
		switch v := val.(type) {
		case string:
			outBytes = []byte(v)
		case fmt.Stringer:
			outBytes = []byte(v.String())
		case []byte:
			outBytes = v
		}
		if outBytes != nil {
			break
		}
		fallthrough
	case "json":
		fallthrough
	default:
		outBytes, err = json.Marshal(val)
	}

	return outBytes, err
}

// toYAML serializes through json to honor json field tags.
func toYAML(val interface{}) ([]byte, error) {
	jsonBytes, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(jsonBytes, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}

type BadRequestError struct {
	Msg string
}

func (be *BadRequestError) Error() string {
	return be.Msg
}

type NotFoundError struct {
	Msg string
}

func (nf *NotFoundError) Error() string {
	return nf.Msg
}

// ConflictError is returned when a request can not be served in the current operator state.
type ConflictError struct {
	Msg string
}

func (ce *ConflictError) Error() string {
	return ce.Msg
}

// Package httpapi provides an HTTP API to list and download the attachments
// of messages on an IMAP server.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fho/imap-attachments/internal/attachment"
	"github.com/fho/imap-attachments/internal/imapclt"
	"github.com/fho/imap-attachments/internal/log"
	"github.com/fho/imap-attachments/internal/mimeword"
)

const shutdownTimeout = 10 * time.Second

type IMAPClient interface {
	attachment.Source
	Select(mailbox string) (*imap.SelectData, error)
	Structure(uid uint32) (*imapclt.Message, error)
}

type Config struct {
	Decoder       *mimeword.Decoder
	SubjectLength int
	Logger        *slog.Logger
	IMAPClient    IMAPClient
}

// Server serves the attachments of messages. Requests share a single IMAP
// connection, they are processed one at a time.
type Server struct {
	clt     IMAPClient
	logger  *slog.Logger
	attOpts []attachment.Option

	// mu serializes the access to the IMAP connection.
	mu sync.Mutex
}

func New(cfg *Config) (*Server, error) {
	if cfg.IMAPClient == nil {
		return nil, errors.New("IMAPClient can not be nil")
	}

	logger := log.SloggerWithGroup(cfg.Logger, "httpapi")

	opts := []attachment.Option{attachment.WithLogger(cfg.Logger)}
	if cfg.Decoder != nil {
		opts = append(opts, attachment.WithDecoder(cfg.Decoder))
	}
	if cfg.SubjectLength > 0 {
		opts = append(opts, attachment.WithSubjectLength(cfg.SubjectLength))
	}

	return &Server{
		clt:     cfg.IMAPClient,
		logger:  logger,
		attOpts: opts,
	}, nil
}

// Handler returns the router of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/mailboxes/{mailbox}/messages/{uid}/attachments", s.ListAttachments)
	r.Get("/mailboxes/{mailbox}/messages/{uid}/attachments/{index}", s.DownloadAttachment)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("request processed",
			"event", "http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe serves the API on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "event", "http.listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server failed: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

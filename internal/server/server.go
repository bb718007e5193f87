// Package server exposes the gateway over HTTP under /api/s3.
//
// Usage:
//
//	srv := server.New(svc, log, server.Options{MaxUploadBytes: 5 << 30})
//	err := srv.Run(ctx, cfg.Server)
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/objgate/internal/config"
	"github.com/koustreak/objgate/internal/gateway"
	"github.com/koustreak/objgate/internal/logger"
)

// Prefix is the mount point of every route.
const Prefix = "/api/s3"

// HeaderUploadedBy lets a client name itself as the object's uploader.
const HeaderUploadedBy = "X-Uploaded-By"

// Options tunes request handling.
type Options struct {
	// MaxUploadBytes caps upload request bodies. 0 means no cap.
	MaxUploadBytes int64
}

type Server struct {
	svc    *gateway.Service
	log    *logger.Logger
	opts   Options
	router chi.Router
}

// New builds the router. A nil log discards output.
func New(svc *gateway.Service, log *logger.Logger, opts Options) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{svc: svc, log: log, opts: opts}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Route(Prefix, func(r chi.Router) {
		r.Get("/healthz", s.health)

		r.Post("/buckets", s.createBucket)
		r.Get("/buckets", s.listBuckets)
		r.Delete("/buckets/{name}", s.deleteBucket)

		r.Get("/objects", s.listObjects)
		r.Delete("/objects", s.deleteObject)
		r.Get("/download", s.download)
		r.Post("/copy", s.copyObject)
		r.Get("/presigned-get", s.presignGet)
		r.Get("/presigned-put", s.presignPut)

		r.Group(func(r chi.Router) {
			r.Use(s.limitBody)
			r.Post("/upload", s.upload)
			r.Post("/multipart-upload", s.multipartUpload)
		})
		r.Get("/multipart-uploads/recent", s.recentUploads)
		r.Post("/multipart-uploads/reap", s.reap)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on cfg.ListenAddr until ctx is cancelled, then drains open
// requests for up to cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, cfg)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, cfg config.ServerConfig) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.log.WithContext(context.Background()) },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.log.InfoWith("http server listening", map[string]any{"addr": ln.Addr().String()})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err := <-done
	if err != nil {
		s.log.WarnWith("http server shutdown incomplete", err, nil)
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/axololly/paste/cfg"
	"github.com/axololly/paste/svc/db"
	"github.com/axololly/paste/svc/lim"
	"github.com/axololly/paste/svc/svc"
	"github.com/axololly/paste/svc/util"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
)

type Server struct {
	router     *chi.Mux
	paste      *svc.Paste
	lim        *lim.Limiter
	cfg        *cfg.Cfg
	db         *db.SQLite
	rdb        *db.Redis
	httpServer *http.Server
}

func NewServer(c *cfg.Cfg, p *svc.Paste, l *lim.Limiter, sqlDB *db.SQLite, rdb *db.Redis) *Server {
	r := chi.NewRouter()
	mw := NewMw(l, c)
	s := &Server{
		router: r,
		paste:  p,
		lim:    l,
		cfg:    c,
		db:     sqlDB,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:           ":" + c.Port,
			Handler:        r,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 256 * 1024,
		},
	}
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Get("/health", s.Health)
		r.Get("/ready", s.Ready)
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Handle("/metrics", mw.BasicAuthMetrics(promhttp.Handler()))
	})
	r.Group(func(r chi.Router) {
		r.Use(mw.Recoverer)
		r.Use(mw.RequestID)
		r.Use(hlog.NewHandler(util.GetLogger()))
		r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", dur).
				Str("request_id", util.GetRequestID(req.Context())).
				Msg("http request")
		}))
		r.Use(mw.ContextTimeout)
		r.Use(mw.SecurityHeaders)
		hdl := &Hdl{paste: p, cfg: c}
		r.With(mw.RateLimit("create"), mw.Observe("create"), mw.JSONContentType).
			Post("/pastes", hdl.CreatePaste)
		r.With(mw.RateLimit("read"), mw.Observe("get"), mw.JSONContentType).
			Get("/pastes/{id}", hdl.GetPaste)
		r.With(mw.RateLimit("read"), mw.Observe("get_file"), mw.JSONContentType).
			Get("/pastes/{id}/files/{position}", hdl.GetFile)
		r.With(mw.RateLimit("read"), mw.Observe("raw")).
			Get("/pastes/{id}/raw", hdl.GetRaw)
		r.With(mw.RateLimit("read"), mw.Observe("raw_file")).
			Get("/pastes/{id}/raw/{position}", hdl.GetRawFile)
		r.With(mw.RateLimit("read"), mw.Observe("download")).
			Get("/pastes/{id}/download", hdl.DownloadPaste)
		r.With(mw.RateLimit("update"), mw.Observe("update"), mw.JSONContentType).
			Put("/pastes/{id}", hdl.UpdatePaste)
		r.With(mw.RateLimit("delete"), mw.Observe("delete"), mw.JSONContentType).
			Delete("/pastes/{removalKey}", hdl.DeletePaste)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	util.Info().Str("port", s.cfg.Port).Msg("starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		util.Error().Err(err).Str("port", s.cfg.Port).Msg("server failed to start")
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

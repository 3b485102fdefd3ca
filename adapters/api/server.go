// Package api serves stored runs over a read-only JSON HTTP interface.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"utilpanel/domain/core"
	"utilpanel/internal/errors"
	"utilpanel/internal/logging"
	"utilpanel/ports"
)

// Server exposes a ports.RunReader under /api.
type Server struct {
	router *chi.Mux
	reader ports.RunReader
	log    *logging.Logger
}

// NewServer builds the router; it never writes to the store.
func NewServer(reader ports.RunReader, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{router: chi.NewRouter(), reader: reader, log: log}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/panel", s.handleGetPanel)
			r.Get("/survival", s.handleGetSurvival)
			r.Get("/coefficients", s.handleGetCoefficients)
			r.Get("/warnings", s.handleGetWarnings)
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("%s %s -> %d in %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filters := ports.RunFilters{}
	var err error
	if filters.Limit, filters.Offset, err = paging(r); err != nil {
		s.renderError(w, r, err)
		return
	}
	if v := r.URL.Query().Get("calibrated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.renderError(w, r, errors.InvalidInput("calibrated must be true or false"))
			return
		}
		filters.Calibrated = &b
	}

	runs, err := s.reader.ListRuns(r.Context(), filters)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	m, err := s.reader.GetRun(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, m)
}

func (s *Server) handleGetPanel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	filters := ports.PanelFilters{}
	var err error
	if filters.Limit, filters.Offset, err = paging(r); err != nil {
		s.renderError(w, r, err)
		return
	}
	if v := r.URL.Query().Get("unit"); v != "" {
		unit, err := core.ParseUnitID(v)
		if err != nil {
			s.renderError(w, r, errors.InvalidInput(err.Error()))
			return
		}
		filters.UnitID = &unit
	}

	rows, err := s.reader.GetPanel(r.Context(), id, filters)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"rows": rows, "count": len(rows)})
}

func (s *Server) handleGetSurvival(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	recs, err := s.reader.GetSurvival(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"records": recs, "count": len(recs)})
}

func (s *Server) handleGetCoefficients(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	coeffs, err := s.reader.GetCoefficients(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"coefficients": coeffs})
}

func (s *Server) handleGetWarnings(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	warnings, err := s.reader.GetWarnings(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{"warnings": warnings, "by_kind": core.CountWarnings(warnings)})
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (core.RunID, bool) {
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.renderError(w, r, errors.InvalidInput(err.Error()))
		return "", false
	}
	return id, true
}

func paging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, errors.InvalidInput("limit must be a non-negative integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.InvalidInput("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	default:
		s.log.Error("%s %s: %v", r.Method, r.URL.Path, err)
	}
	// Errors without a code carry raw driver text; clients get a generic body.
	if !errors.IsAppError(err) {
		err = errors.InternalError("internal server error")
		code = errors.CodeInternalError
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Code: code})
}

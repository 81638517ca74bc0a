package mirror

import (
	"embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/cors"
)

const maxBodyBytes = 1 << 20

//go:embed web/index.html
var indexPage embed.FS

var errBadBody = errors.New("invalid request body")

// Options tune the HTTP surface. Zero values disable auth and rate limiting.
type Options struct {
	AuthSecret     string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server wires the store and the hub to the REST and WebSocket routes.
type Server struct {
	store  *Store
	hub    *Hub
	logger *slog.Logger
	router chi.Router
}

func NewServer(store *Store, hub *Hub, opts Options, logger *slog.Logger) *Server {
	s := &Server{store: store, hub: hub, logger: logger}
	s.router = s.routes(opts)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	// The viewer page is public; its API calls carry the token from ?token=.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, indexPage, "web/index.html")
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if opts.AuthSecret != "" {
			r.Use(requireToken(opts.AuthSecret, s.logger))
		}
		r.Get("/ws", s.hub.ServeHTTP)
		r.Get("/api/tables", s.listTables)
		r.Get("/api/table/{table}", s.readTable)

		r.Group(func(r chi.Router) {
			if opts.RateLimitRPS > 0 {
				burst := opts.RateLimitBurst
				if burst < 1 {
					burst = 1
				}
				r.Use(newIPLimiter(opts.RateLimitRPS, burst).middleware(s.logger))
			}
			r.Post("/api/table/{table}", s.createRow)
			r.Put("/api/table/{table}/{id}", s.updateRow)
			r.Delete("/api/table/{table}/{id}", s.deleteRow)
		})
	})
	return r
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.ListTables(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tables, s.logger)
}

func (s *Server) readTable(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ReadTable(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rows, s.logger)
}

func (s *Server) createRow(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	fields, err := s.body(w, r, table)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := s.store.CreateRow(r.Context(), table, fields)
	if err != nil {
		s.fail(w, err)
		return
	}

	data := Row{}
	for k, v := range fields {
		data[k] = v
	}
	if _, ok := data["id"]; !ok {
		data["id"] = id
	}
	s.hub.Broadcast(table, ActionInsert, data)
	respondWithJSON(w, http.StatusOK, map[string]int64{"id": id}, s.logger)
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	fields, err := s.body(w, r, table)
	if err != nil {
		s.fail(w, err)
		return
	}
	changes, err := s.store.UpdateRow(r.Context(), table, id, fields)
	if err != nil {
		s.fail(w, err)
		return
	}

	if changes > 0 {
		data := Row{"id": id}
		for k, v := range fields {
			data[k] = v
		}
		s.hub.Broadcast(table, ActionUpdate, data)
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"changes": changes}, s.logger)
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	table, id := chi.URLParam(r, "table"), chi.URLParam(r, "id")
	changes, err := s.store.DeleteRow(r.Context(), table, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if changes > 0 {
		s.hub.Broadcast(table, ActionDelete, Row{"id": id})
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"changes": changes}, s.logger)
}

// body validates the table before reading the request body.
func (s *Server) body(w http.ResponseWriter, r *http.Request, table string) (Row, error) {
	if _, err := lookupTable(table); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errBadBody
	}
	row, err := decodeRow(raw)
	if err != nil && !errors.Is(err, ErrEmptyBody) {
		return nil, errBadBody
	}
	return row, err
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("mirror request failed", "error", err)
	} else {
		s.logger.Warn("mirror request rejected", "status", status, "error", err)
	}
	respondWithError(w, status, err.Error(), s.logger)
}

func statusFor(err error) int {
	var sqlErr sqlite3.Error
	switch {
	case errors.Is(err, ErrInvalidTable):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidColumn), errors.Is(err, ErrEmptyBody), errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any, logger *slog.Logger) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		logger.Error("failed to write HTTP response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, code int, message string, logger *slog.Logger) {
	respondWithJSON(w, code, map[string]string{"error": message}, logger)
}

// NewHTTPServer returns an http.Server for handler with the mirror's timeouts.
// Read and write timeouts stay zero; they would also apply to hijacked WebSocket connections.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

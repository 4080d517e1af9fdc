package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"bizsim/internal/config"
	"bizsim/internal/game"
	"bizsim/internal/metrics"
)

const adminKeyHeader = "X-Admin-Key"

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	game *game.Service
	hub  *Hub
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service, hub *Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		game: gameSvc,
		hub:  hub,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/games/{gameID}/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/templates/decisions", s.handleDecisionTemplate)
			r.Post("/games/{gameID}/join", s.handleJoin)
			r.Post("/games/{gameID}/decisions", s.handleSubmit)
			r.Get("/games/{gameID}/status", s.handleStatus)
			r.Get("/games/{gameID}/log", s.handleLog)
			r.Get("/games/{gameID}/companies/{companyID}", s.handleCompany)

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Get("/games", s.handleListGames)
				r.Get("/strategies", s.handleStrategies)
				r.Post("/games/{gameID}/reset", s.handleReset)
				r.Post("/games/{gameID}/companies/{companyID}/lock", s.handleLock)
				r.Post("/games/{gameID}/companies/{companyID}/unlock", s.handleUnlock)
				r.Post("/games/{gameID}/competitors", s.handleAddCompetitor)
			})
		})
	})
}

// adminMiddleware accepts the shared admin key, checked against a bcrypt hash
// when one is configured. With no key configured every admin call is denied.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	var hash []byte
	if s.cfg.AdminKeyHash != "" {
		hash = []byte(s.cfg.AdminKeyHash)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(adminKeyHeader))
		ok := false
		switch {
		case key == "":
		case hash != nil:
			ok = bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil
		case s.cfg.AdminKey != "":
			ok = subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AdminKey)) == 1
		}
		if !ok {
			s.log.Warn("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeDomainError(w, game.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDecisionTemplate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, game.DefaultDecisions())
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CompanyID   string `json:"company_id"`
		CompanyName string `json:"company_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.game.Join(r.Context(), chi.URLParam(r, "gameID"), in.CompanyID, in.CompanyName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CompanyID   string          `json:"company_id"`
		CompanyName string          `json:"company_name"`
		Quarter     int             `json:"quarter"`
		Decisions   *game.Decisions `json:"decisions"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.game.Submit(r.Context(), game.SubmitInput{
		GameID:       chi.URLParam(r, "gameID"),
		CompanyID:    in.CompanyID,
		CompanyName:  in.CompanyName,
		Quarter:      in.Quarter,
		Decisions:    in.Decisions,
		SubmissionID: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.game.Status(r.Context(), chi.URLParam(r, "gameID"), strings.TrimSpace(r.URL.Query().Get("company_id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.game.Log(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.game.Company(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "companyID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.game.ListSessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": s.game.Strategies()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.Reset(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.Lock(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "companyID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.Unlock(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "companyID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddCompetitor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CompanyID   string `json:"company_id"`
		CompanyName string `json:"company_name"`
		Strategy    string `json:"strategy"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.game.AddCompetitor(r.Context(), chi.URLParam(r, "gameID"), in.CompanyID, in.CompanyName, in.Strategy)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrValidation), errors.Is(err, game.ErrUnknownStrategy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, game.ErrCompanyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrQuarterMismatch), errors.Is(err, game.ErrCompanyLocked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

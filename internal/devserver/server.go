// Package devserver is a self-contained message-store service with a push
// hub and an automated responder, used for local development and tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/mirrorchat/internal/state"
	"github.com/user/mirrorchat/internal/types"
)

type ctxKey struct{}

// Server is the HTTP handler for the auth, message and websocket endpoints.
type Server struct {
	accounts *state.AccountStore
	messages types.MessageStore
	hub      *Hub
	mux      *http.ServeMux
}

// NewServer creates a Server. messages is usually a Responder so that user
// messages get answered.
func NewServer(accounts *state.AccountStore, messages types.MessageStore, hub *Hub) *Server {
	s := &Server{
		accounts: accounts,
		messages: messages,
		hub:      hub,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/auth/local", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/local/register", s.handleRegister)
	s.mux.HandleFunc("GET /api/messages/sessions", s.authed(s.handleSessions))
	s.mux.HandleFunc("GET /api/messages", s.authed(s.handleListMessages))
	s.mux.HandleFunc("POST /api/messages", s.authed(s.handleCreateMessage))
	if hub != nil {
		s.mux.Handle("GET /ws", hub)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authUser struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type authResponse struct {
	JWT  string   `json:"jwt"`
	User authUser `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	acc, err := s.accounts.Authenticate(req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, state.ErrBadCredentials) {
			writeError(w, http.StatusBadRequest, "Invalid identifier or password")
			return
		}
		slog.Error("authenticate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{JWT: acc.Token, User: authUser{Username: acc.Username, Email: acc.Email}})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	acc, err := s.accounts.Register(req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			writeError(w, http.StatusBadRequest, "Email or Username are already taken")
			return
		}
		slog.Error("register failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	slog.Info("account registered", "username", acc.Username)
	writeJSON(w, http.StatusOK, authResponse{JWT: acc.Token, User: authUser{Username: acc.Username, Email: acc.Email}})
}

// authed resolves the bearer token and stores the account's username in the
// request context.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		acc, err := s.accounts.ByToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, acc.Username)))
	}
}

func username(r *http.Request) string {
	u, _ := r.Context().Value(ctxKey{}).(string)
	return u
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	author := r.URL.Query().Get("author")
	if author == "" {
		author = username(r)
	}
	sessions, err := s.messages.Sessions(r.Context(), author)
	if err != nil {
		slog.Error("list sessions failed", "author", author, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sessions == nil {
		sessions = []types.SessionID{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": sessions})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session := types.SessionID(q.Get("session"))
	if session == "" {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}

	records, err := s.messages.Messages(r.Context(), session)
	if err != nil {
		slog.Error("list messages failed", "session", string(session), "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch q.Get("sort") {
	case "", "asc":
	case "desc":
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	default:
		writeError(w, http.StatusBadRequest, "sort must be asc or desc")
		return
	}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n > 0 && n < len(records) {
			records = records[:n]
		}
	}
	if records == nil {
		records = []types.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

type createRequest struct {
	Data *types.Record `json:"data"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"data\":{...}}")
		return
	}
	rec := *req.Data
	if rec.Origin == "" {
		rec.Origin = types.OriginUser
	}
	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Users may only write as themselves, and bot copies only on their own behalf.
	user := username(r)
	if (rec.Origin == types.OriginUser && rec.Author != user) ||
		(rec.Origin == types.OriginBot && rec.SentBy != "" && rec.SentBy != user) {
		writeError(w, http.StatusForbidden, "cannot write on behalf of another user")
		return
	}

	stored, err := s.messages.Create(r.Context(), rec)
	if err != nil {
		slog.Error("create message failed", "session", string(rec.Session), "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stored})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"status": status, "message": msg},
	})
}

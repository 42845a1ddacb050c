package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/auth"
	"github.com/mahaj/lytecord/pkg/handler"
	"github.com/mahaj/lytecord/pkg/metrics"
	"github.com/mahaj/lytecord/pkg/model"
	"github.com/mahaj/lytecord/pkg/store"
)

type memberLister interface {
	Members(ctx context.Context, channelID int64) ([]int64, error)
}

type sessionCounter interface {
	Len() int
}

type admin struct {
	store    store.Store
	members  memberLister
	sessions sessionCounter
	log      zerolog.Logger
}

func newAdminRouter(st store.Store, members memberLister, tokens *auth.Issuer, sessions sessionCounter, log zerolog.Logger) http.Handler {
	a := &admin{store: st, members: members, sessions: sessions, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(tokens, log))
		r.Get("/channels/{id}/users", a.channelUsers)
		r.Get("/channels/{id}/messages", a.channelMessages)
	})
	return r
}

func (a *admin) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.sessions.Len()})
}

func (a *admin) channelUsers(w http.ResponseWriter, r *http.Request) {
	channelID, ok := pathID(w, r)
	if !ok {
		return
	}

	users, err := a.members.Members(r.Context(), channelID)
	if err != nil {
		a.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to fetch presence")
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// channelMessages serves ?before=<id>&count=<n> pages, newest first.
func (a *admin) channelMessages(w http.ResponseWriter, r *http.Request) {
	channelID, ok := pathID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	before, err := queryInt(q.Get("before"), 0)
	if err != nil || before < 0 {
		http.Error(w, "Invalid before", http.StatusBadRequest)
		return
	}
	count, err := queryInt(q.Get("count"), handler.MaxMessagesPerPage)
	if err != nil || count <= 0 {
		http.Error(w, "Invalid count", http.StatusBadRequest)
		return
	}
	count = min(count, handler.MaxMessagesPerPage)

	messages, err := a.store.Messages(r.Context(), channelID, before, int(count))
	if err != nil {
		a.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to retrieve history")
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// authMiddleware accepts a session token, with or without the Bearer prefix.
func authMiddleware(tokens *auth.Issuer, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if token == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			token = strings.TrimPrefix(token, "Bearer ")

			userID, err := tokens.ValidateToken(token)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			log.Debug().Int64("user_id", userID).Str("path", r.URL.Path).Msg("admin request")
			next.ServeHTTP(w, r)
		})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid channel id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package http carries the REST and websocket surface of the relay.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay/internal/admission"
	"relay/internal/auth"
	obsmw "relay/internal/observability/middleware"
	"relay/internal/presence"
	"relay/internal/prekey"
	"relay/internal/room"
	"relay/internal/session"
	"relay/internal/typing"
)

type Handlers struct {
	verifier  *auth.Verifier
	limiter   admission.Limiter
	sessions  *session.Registry
	presence  *presence.Registry
	typing    *typing.Registry
	rooms     *room.Service
	prekeys   *prekey.Service
	heartbeat time.Duration
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

type Options struct {
	Verifier    *auth.Verifier
	Limiter     admission.Limiter
	Sessions    *session.Registry
	Presence    *presence.Registry
	Typing      *typing.Registry
	Rooms       *room.Service
	PreKeys     *prekey.Service
	Heartbeat   time.Duration
	CORSOrigins []string
	Logger      *slog.Logger
}

func NewHandlers(opts Options) *Handlers {
	return &Handlers{
		verifier:  opts.Verifier,
		limiter:   opts.Limiter,
		sessions:  opts.Sessions,
		presence:  opts.Presence,
		typing:    opts.Typing,
		rooms:     opts.Rooms,
		prekeys:   opts.PreKeys,
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigins(opts.CORSOrigins),
		},
	}
}

func NewRouter(h *Handlers, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	// rate limit (e.g., 100 req / minute by IP)
	r.Use(httprate.LimitByIP(100, 1*time.Minute))

	c := cors.Options{
		AllowedOrigins:   originsIfSet(corsOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(c))

	r.Use(obsmw.WithRequestAndTrace)
	r.Use(obsmw.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/keys", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/device/register", h.registerDevice)
		r.Get("/bundle", h.preKeyBundle)
		r.Post("/rotate-signed-prekey", h.rotateSignedPreKey)
	})

	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/join", h.joinRoom)
		r.Post("/leave", h.leaveRoom)
		r.Get("/members", h.roomMembers)
		r.Get("/typing", h.roomTyping)
		r.Post("/messages", h.sendMessage)
		r.Get("/messages", h.messageHistory)
		r.Post("/read", h.markRead)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/presence/{userID}", h.userPresence)
	})

	r.Get("/ws", h.serveWS)

	return r
}

func originsIfSet(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func allowOrigins(origins []string) func(r *http.Request) bool {
	allowed := originsIfSet(origins)
	return func(r *http.Request) bool {
		if len(allowed) == 1 && allowed[0] == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

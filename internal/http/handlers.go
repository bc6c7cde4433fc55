package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tigasatu/wa-inbox/internal/config"
	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/notify"
	"github.com/tigasatu/wa-inbox/internal/provider"
)

type Server struct {
	Store     *core.Store
	Gateway   provider.Gateway
	Hub       *notify.Hub
	Notifier  notify.Notifier
	Forwarder *notify.Forwarder

	VerifyToken string
	SendTimeout time.Duration
	MediaDir    string
}

func NewServer(pool *pgxpool.Pool, gw provider.Gateway, fwd *notify.Forwarder, cfg *config.Config) *Server {
	hub := notify.NewHub()
	return &Server{
		Store:       &core.Store{DB: pool},
		Gateway:     gw,
		Hub:         hub,
		Notifier:    hub,
		Forwarder:   fwd,
		VerifyToken: cfg.Webhook.VerifyToken,
		SendTimeout: cfg.Vendor.SendTimeout,
		MediaDir:    "data/media",
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(instrument)

	r.Get("/webhook/whatsapp", s.verifyWebhook)
	r.Post("/webhook/whatsapp", s.inboundWebhook)

	r.Get("/inbox/sessions", s.listSessions)
	r.Get("/inbox/sessions/{id}", s.showSession)
	r.Post("/inbox/sessions/{id}/read", s.markSessionRead)
	r.Post("/inbox/sessions/{id}/send", s.sendMessage)
	r.Post("/inbox/sessions/{id}/close", s.closeSession)
	r.Post("/inbox/sessions/{id}/reassign", s.reassignSession)

	r.Post("/accounts", s.createAccount)
	r.Get("/accounts/{id}", s.getAccount)
	r.Post("/accounts/{id}/sync", s.syncAccount)
	r.Post("/accounts/{id}/sync-templates", s.syncTemplates)
	r.Delete("/accounts/{id}", s.deleteAccount)

	r.Post("/users", s.createUser)
	r.Post("/agents/{id}/availability", s.setAgentAvailability)

	r.Post("/campaigns", s.createCampaign)
	r.Get("/campaigns/{id}", s.getCampaign)
	r.Post("/campaigns/{id}/process", s.processCampaign)
	r.Post("/campaigns/{id}/schedule", s.scheduleCampaign)

	r.Post("/apps", s.createApp)
	r.Put("/apps/{id}", s.updateApp)
	r.Post("/apps/{id}/rotate", s.rotateAppKeys)
	r.Delete("/apps/{id}", s.deleteApp)
	r.Get("/widget/config", s.widgetConfig)

	r.Handle("/ws", s.Hub)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// caller reads the identity headers. Auth screens live upstream; the API
// trusts the proxy-supplied identity.
func caller(r *http.Request) (userID, role string) {
	return r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role")
}

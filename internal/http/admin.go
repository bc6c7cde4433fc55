package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/worker"
)

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		PhoneNumber string `json:"phone_number"`
		Provider    string `json:"provider"`
		APIToken    string `json:"api_token"`
		APIKey      string `json:"api_key"`
		APIEndpoint string `json:"api_endpoint"`
		TrialDays   int    `json:"trial_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if in.TrialDays <= 0 {
		in.TrialDays = 14
	}
	account, err := s.Store.CreateAccount(r.Context(), core.CreateAccountRequest{
		Name:        in.Name,
		PhoneNumber: in.PhoneNumber,
		Provider:    in.Provider,
		APIToken:    in.APIToken,
		APIKey:      in.APIKey,
		APIEndpoint: in.APIEndpoint,
		TrialDays:   in.TrialDays,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{account, account.TrialDaysRemaining()})
}

// accountResponse adds the countdown the dashboard shows next to trial
// accounts.
type accountResponse struct {
	core.Account
	TrialDaysRemaining int `json:"trial_days_remaining"`
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.Store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "account_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{account, account.TrialDaysRemaining()})
}

// syncAccount asks the vendor for device status and stores the outcome:
// connected devices go active, unreachable ones are marked disconnected.
func (s *Server) syncAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := s.Store.GetAccount(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "account_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	st, err := s.Gateway.SyncStatus(r.Context(), account)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := "disconnected"
	if st.Connected {
		status = "active"
	}
	if err := s.Store.MarkAccountSynced(r.Context(), id, st.Verified, status); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	account.IsVerified = st.Verified
	account.Status = status
	writeJSON(w, http.StatusOK, accountResponse{account, account.TrialDaysRemaining()})
}

// syncTemplates pulls the vendor's approved template catalog and upserts
// it locally, keyed by (account, name).
func (s *Server) syncTemplates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := s.Store.GetAccount(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "account_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	defs, err := s.Gateway.FetchTemplates(r.Context(), account)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	for _, d := range defs {
		if err := s.Store.UpsertTemplate(r.Context(), id, d.Name, d.Language, d.Category, d.Components); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	templates, err := s.Store.ListTemplates(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": len(defs), "templates": templates})
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "account_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name      string `json:"name"`
		Email     string `json:"email"`
		Role      string `json:"role"`
		AccountID string `json:"whatsapp_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if in.Role == "" {
		in.Role = core.RoleSales
	}
	u, err := s.Store.CreateUser(r.Context(), in.Name, in.Email, in.Role, in.AccountID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) setAgentAvailability(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	if err := s.Store.SetAgentAvailability(r.Context(), chi.URLParam(r, "id"), in.Available); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name            string          `json:"name"`
		AccountID       string          `json:"whatsapp_account_id"`
		CustomerIDs     []string        `json:"customer_ids"`
		MessageTemplate string          `json:"message_template"`
		TemplateName    *string         `json:"template_name"`
		TemplateData    json.RawMessage `json:"template_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.AccountID == "" || len(in.CustomerIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	camp, err := s.Store.CreateCampaign(r.Context(), core.CreateCampaignRequest{
		AccountID:       in.AccountID,
		Name:            in.Name,
		MessageTemplate: in.MessageTemplate,
		TemplateName:    in.TemplateName,
		TemplateData:    in.TemplateData,
		CustomerIDs:     in.CustomerIDs,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, camp)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	camp, err := s.Store.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, camp)
}

// processCampaign runs a campaign synchronously: the request returns when
// every pending recipient is drained. Re-processing a completed campaign
// is an explicit client error.
func (s *Server) processCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	camp, err := s.Store.StartCampaign(r.Context(), id)
	if errors.Is(err, core.ErrAlreadyCompleted) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Campaign already completed."})
		return
	}
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// Synchronous runs are not vendor rate limited; the background
	// dispatcher carries the shared limiter.
	limiter := rate.NewLimiter(rate.Inf, 0)
	if err := worker.Drain(r.Context(), s.Store, s.Gateway, camp, limiter, s.SendTimeout); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	camp, err = s.Store.GetCampaign(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Campaign processed.", "campaign": camp})
}

// scheduleCampaign hands a draft to the background dispatcher.
func (s *Server) scheduleCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ScheduleCampaign(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_schedulable"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) createApp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string  `json:"name"`
		PhoneNumber string  `json:"phone_number"`
		WebhookURL  *string `json:"webhook_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	app, err := s.Store.CreateExternalApp(r.Context(), in.Name, in.PhoneNumber, in.WebhookURL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// The secret is returned exactly once, at creation.
	writeJSON(w, http.StatusCreated, map[string]any{"app": app, "app_secret": app.AppSecret})
}

func (s *Server) updateApp(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name           string         `json:"name"`
		PhoneNumber    string         `json:"phone_number"`
		WebhookURL     *string        `json:"webhook_url"`
		IsActive       bool           `json:"is_active"`
		WidgetSettings map[string]any `json:"widget_settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	app, err := s.Store.UpdateExternalApp(r.Context(), chi.URLParam(r, "id"), core.UpdateExternalAppRequest{
		Name:           in.Name,
		PhoneNumber:    in.PhoneNumber,
		WebhookURL:     in.WebhookURL,
		IsActive:       in.IsActive,
		WidgetSettings: in.WidgetSettings,
	})
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "app_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) rotateAppKeys(w http.ResponseWriter, r *http.Request) {
	app, err := s.Store.RotateExternalAppKeys(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "app_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app": app, "app_secret": app.AppSecret})
}

func (s *Server) deleteApp(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteExternalApp(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "app_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// widgetConfig is the one public endpoint: the embeddable chat widget
// loads its settings cross-origin by app key.
func (s *Server) widgetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key_required"})
		return
	}
	app, err := s.Store.WidgetConfig(r.Context(), key)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "app_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":            app.Name,
		"whatsapp_number": app.PhoneNumber,
		"settings":        app.WidgetSettings,
	})
}

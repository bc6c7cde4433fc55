package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/metrics"
	"github.com/tigasatu/wa-inbox/internal/notify"
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	userID, role := caller(r)
	if userID == "" && !core.ElevatedRole(role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-User-ID"})
		return
	}
	items, err := s.Store.ListSessions(r.Context(), userID, role)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// showSession returns the conversation and marks the oldest unread
// customer message read, one per view, mirroring how the inbox UI pulls a
// thread open. With ?after=<RFC3339> it instead serves an incremental
// poll: only newer messages, and read state is left alone.
func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	userID, role := caller(r)
	id := chi.URLParam(r, "id")
	sum, err := s.Store.SessionSummary(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !core.CanSend(sum.Session, userID, role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not_session_owner"})
		return
	}

	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_after"})
			return
		}
		msgs, err := s.Store.MessagesSince(r.Context(), id, after)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sum, "messages": msgs})
		return
	}

	msgs, err := s.Store.ListMessages(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if marked, err := s.Store.MarkOldestRead(r.Context(), id); err == nil && marked {
		s.publishReadState(r.Context(), id)
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sum, "messages": msgs})
}

// markSessionRead advances read state by one message and returns the
// recomputed counts.
func (s *Server) markSessionRead(w http.ResponseWriter, r *http.Request) {
	userID, role := caller(r)
	id := chi.URLParam(r, "id")
	sess, err := s.Store.GetSession(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !core.CanSend(sess, userID, role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not_session_owner"})
		return
	}

	marked, err := s.Store.MarkOldestRead(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if marked {
		s.publishReadState(r.Context(), id)
	}

	sessionUnread, err := s.Store.UnreadCountForSession(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	unread := 0
	if sess.AssignedUserID != nil {
		if n, err := s.Store.UnreadCountForUser(r.Context(), *sess.AssignedUserID); err == nil {
			unread = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marked":               marked,
		"unread_count":         unread,
		"session_unread_count": sessionUnread,
	})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	userID, role := caller(r)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing_X-User-ID"})
		return
	}
	var in struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	id := chi.URLParam(r, "id")
	sess, err := s.Store.GetSession(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !core.CanSend(sess, userID, role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not_session_owner"})
		return
	}

	account, err := s.Store.GetAccount(r.Context(), sess.AccountID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// Inactive or trial-expired accounts must not reach the vendor, and
	// nothing is persisted for the attempt.
	if !account.IsActive() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": core.ErrAccountInactive.Error()})
		return
	}

	sum, err := s.Store.SessionSummary(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	sctx, cancel := context.WithTimeout(r.Context(), s.SendTimeout)
	defer cancel()
	start := time.Now()
	result, err := s.Gateway.Send(sctx, account, sum.CustomerPhone, in.Message)
	metrics.VendorSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.VendorSendTotal.WithLabelValues(account.Provider, "failed").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	metrics.VendorSendTotal.WithLabelValues(account.Provider, "sent").Inc()

	var vendorID *string
	if result.VendorMessageID != "" {
		vendorID = &result.VendorMessageID
	}
	msg, err := s.Store.RecordOutbound(r.Context(), id, userID, in.Message, vendorID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.publishMessage(r.Context(), notify.EventOutgoingMessage, id, &msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	userID, role := caller(r)
	id := chi.URLParam(r, "id")
	sess, err := s.Store.GetSession(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !core.CanSend(sess, userID, role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not_session_owner"})
		return
	}
	if err := s.Store.CloseSession(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) reassignSession(w http.ResponseWriter, r *http.Request) {
	_, role := caller(r)
	if !core.ElevatedRole(role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "elevated_role_required"})
		return
	}
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Store.ReassignSession(r.Context(), id, in.UserID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) publishReadState(ctx context.Context, sessionID string) {
	s.publishMessage(ctx, notify.EventReadStateChange, sessionID, nil)
}

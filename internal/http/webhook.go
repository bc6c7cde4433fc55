package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/metrics"
	"github.com/tigasatu/wa-inbox/internal/notify"
	"github.com/tigasatu/wa-inbox/internal/webhook"
)

const maxWebhookBody = 1 << 20

// verifyWebhook answers the cloud API subscription handshake: echo the
// challenge on a token match, 403 otherwise.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.VerifyToken && s.VerifyToken != "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	writeJSON(w, http.StatusForbidden, map[string]string{"error": "verify_token_mismatch"})
}

// inboundWebhook is the intake path: normalize the vendor body, resolve
// the receiving account, record the message, then fan out. Fan-out happens
// after commit and cannot fail the request.
func (s *Server) inboundWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
		return
	}

	in, err := webhook.Normalize(body)
	if err != nil {
		metrics.WebhookInbound.WithLabelValues("unrecognized").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized_payload"})
		return
	}

	account, err := s.Store.ResolveAccount(r.Context(), in.Device)
	if errors.Is(err, core.ErrNotFound) {
		// Unknown device means misconfiguration, not a transient failure;
		// the message is dropped on purpose.
		log.Printf("webhook: unknown device %s, message dropped", in.Device)
		metrics.WebhookInbound.WithLabelValues("unknown_device").Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_device"})
		return
	}
	if err != nil {
		metrics.WebhookInbound.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	msgBody := in.Body
	if in.Caption != "" {
		msgBody = in.Caption
	}
	var vendorID *string
	if in.VendorMessageID != "" {
		vendorID = &in.VendorMessageID
	}

	res, err := s.Store.RecordInbound(r.Context(), account, core.InboundMessage{
		SenderPhone:     in.Sender,
		Body:            msgBody,
		Type:            in.Type,
		VendorMessageID: vendorID,
		AttachmentPath:  s.fetchAttachment(r.Context(), account, in),
	})
	if err != nil {
		metrics.WebhookInbound.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	metrics.WebhookInbound.WithLabelValues("ok").Inc()
	if res.SessionCreated {
		metrics.SessionsCreated.Inc()
		if res.Session.AssignedUserID != nil {
			metrics.Assignments.WithLabelValues("assigned").Inc()
		} else {
			metrics.Assignments.WithLabelValues("unassigned").Inc()
		}
	}

	s.publishMessage(r.Context(), notify.EventIncomingMessage, res.Session.ID, &res.Message)
	if s.Forwarder != nil {
		s.Forwarder.Enqueue(notify.ForwardPayload{
			ID:        res.Message.ID,
			Device:    in.Device,
			Sender:    in.Sender,
			Message:   res.Message.Body,
			Timestamp: res.Message.CreatedAt.Unix(),
			Type:      notify.EventIncomingMessage,
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// fetchAttachment downloads deferred media and stores it under MediaDir.
// Every failure path logs and returns nil: the message persists either
// way, with at most a missing attachment.
func (s *Server) fetchAttachment(ctx context.Context, account core.Account, in *webhook.Inbound) *string {
	if in.MediaID == "" || account.Provider != core.ProviderOfficial {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.SendTimeout)
	defer cancel()
	media, err := s.Gateway.DownloadMedia(dctx, account, in.MediaID)
	if err != nil {
		log.Printf("webhook: media %s download: %v", in.MediaID, err)
		metrics.MediaDownloads.WithLabelValues("error").Inc()
		return nil
	}

	if err := os.MkdirAll(s.MediaDir, 0o755); err != nil {
		log.Printf("webhook: media dir: %v", err)
		metrics.MediaDownloads.WithLabelValues("error").Inc()
		return nil
	}
	name := uuid.NewString() + extFor(media.MimeType)
	path := filepath.Join(s.MediaDir, name)
	if err := os.WriteFile(path, media.Data, 0o644); err != nil {
		log.Printf("webhook: media write: %v", err)
		metrics.MediaDownloads.WithLabelValues("error").Inc()
		return nil
	}

	metrics.MediaDownloads.WithLabelValues("ok").Inc()
	return &path
}

func extFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mimeType, "image/png"):
		return ".png"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(mimeType, "application/pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}

// publishMessage pushes a session update to connected inbox clients. Best
// effort: a failed summary load only loses the notification.
func (s *Server) publishMessage(ctx context.Context, eventType, sessionID string, msg *core.Message) {
	if s.Notifier == nil {
		return
	}
	sum, err := s.Store.SessionSummary(ctx, sessionID)
	if err != nil {
		log.Printf("notify: session %s summary: %v", sessionID, err)
		return
	}
	unread := 0
	if sum.AssignedUserID != nil {
		if n, err := s.Store.UnreadCountForUser(ctx, *sum.AssignedUserID); err == nil {
			unread = n
		}
	}
	s.Notifier.Publish(ctx, notify.Event{
		Type:               eventType,
		Session:            sum,
		Message:            msg,
		UnreadCount:        unread,
		SessionUnreadCount: sum.UnreadCount,
		Timestamp:          time.Now().Unix(),
	})
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tigasatu/wa-inbox/internal/config"
	"github.com/tigasatu/wa-inbox/internal/core"
	"github.com/tigasatu/wa-inbox/internal/db"
	"github.com/tigasatu/wa-inbox/internal/notify"
	"github.com/tigasatu/wa-inbox/internal/provider"
)

// recordingGateway accepts every send and remembers it.
type recordingGateway struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (g *recordingGateway) Send(_ context.Context, _ core.Account, to, _ string) (provider.Result, error) {
	if g.fail {
		return provider.Result{}, &core.VendorError{Provider: "fonnte", Detail: "device disconnected"}
	}
	g.mu.Lock()
	g.sent = append(g.sent, to)
	g.mu.Unlock()
	return provider.Result{VendorMessageID: "wamid.gw." + to}, nil
}

func (g *recordingGateway) SyncStatus(context.Context, core.Account) (provider.Status, error) {
	return provider.Status{Connected: true, Verified: true}, nil
}

func (g *recordingGateway) DownloadMedia(context.Context, core.Account, string) (provider.Media, error) {
	return provider.Media{Data: []byte("bytes"), MimeType: "image/jpeg"}, nil
}

func (g *recordingGateway) FetchTemplates(context.Context, core.Account) ([]provider.TemplateDef, error) {
	return []provider.TemplateDef{{Name: "welcome", Language: "en", Category: "UTILITY", Components: []byte(`[]`)}}, nil
}

type testEnv struct {
	srv *Server
	gw  *recordingGateway
	ts  *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := db.StartTestPostgres(t)
	cfg := config.Default()
	cfg.Webhook.VerifyToken = "verify-me"
	gw := &recordingGateway{}
	srv := NewServer(pool, gw, nil, cfg)
	srv.MediaDir = t.TempDir()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, gw: gw, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (e *testEnv) seedAccount(t *testing.T, phone string, activate bool) core.Account {
	t.Helper()
	ctx := context.Background()
	account, err := e.srv.Store.CreateAccount(ctx, core.CreateAccountRequest{
		Name:        "Acme",
		PhoneNumber: phone,
		Provider:    core.ProviderFonnte,
		APIToken:    "token",
		TrialDays:   14,
	})
	require.NoError(t, err)
	if activate {
		require.NoError(t, e.srv.Store.MarkAccountSynced(ctx, account.ID, true, "active"))
		account, err = e.srv.Store.GetAccount(ctx, account.ID)
		require.NoError(t, err)
	}
	return account
}

func TestVerifyHandshake(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "12345", string(body))

	resp, _ = e.do(t, http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInboundWebhookFlow(t *testing.T) {
	e := newEnv(t)
	account := e.seedAccount(t, "628111400001", true)
	agent, err := e.srv.Store.CreateUser(context.Background(), "Agent", "agent@acme.test", core.RoleSales, account.ID)
	require.NoError(t, err)

	payload := map[string]string{
		"device":  "628111400001",
		"sender":  "628999400001",
		"message": "hello from the customer",
		"id":      "wamid.in.1",
	}
	resp, body := e.do(t, http.MethodPost, "/webhook/whatsapp", payload, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "success", out["status"])

	sessions, err := e.srv.Store.ListSessions(context.Background(), agent.ID, core.RoleSales)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "628999400001", sessions[0].CustomerPhone)
	require.Equal(t, 1, sessions[0].UnreadCount)

	// Same customer again: same thread.
	resp, _ = e.do(t, http.MethodPost, "/webhook/whatsapp", payload, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, err = e.srv.Store.ListSessions(context.Background(), agent.ID, core.RoleSales)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, 2, sessions[0].UnreadCount)
}

func TestInboundWebhookForwardsEventTag(t *testing.T) {
	e := newEnv(t)
	e.seedAccount(t, "628111400051", true)

	var mu sync.Mutex
	var delivered []notify.ForwardPayload
	subscriber := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p notify.ForwardPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		delivered = append(delivered, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer subscriber.Close()

	url := subscriber.URL
	_, err := e.srv.Store.CreateExternalApp(context.Background(), "CRM bridge", "628111400051", &url)
	require.NoError(t, err)

	fwd := notify.NewForwarder(e.srv.Store, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fwd.Run(ctx)
	e.srv.Forwarder = fwd

	resp, _ := e.do(t, http.MethodPost, "/webhook/whatsapp", map[string]string{
		"device": "628111400051", "sender": "628999400051", "message": "need pricing", "id": "wamid.in.51",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	p := delivered[0]
	mu.Unlock()
	require.Equal(t, notify.EventIncomingMessage, p.Type)
	require.Equal(t, "628111400051", p.Device)
	require.Equal(t, "628999400051", p.Sender)
	require.Equal(t, "need pricing", p.Message)
}

func TestInboundWebhookRejections(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/webhook/whatsapp", map[string]string{"unexpected": "shape"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/webhook/whatsapp", map[string]string{
		"device": "never-registered", "sender": "628999400002", "message": "x",
	}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := e.seedAccount(t, "628111400011", true)
	agent, err := e.srv.Store.CreateUser(ctx, "Agent", "sender@acme.test", core.RoleSales, account.ID)
	require.NoError(t, err)

	res, err := e.srv.Store.RecordInbound(ctx, account, core.InboundMessage{
		SenderPhone: "628999400011", Body: "hi", Type: "text",
	})
	require.NoError(t, err)
	sessionPath := "/inbox/sessions/" + res.Session.ID

	// A stranger cannot write into someone else's session.
	other, err := e.srv.Store.CreateUser(ctx, "Other", "other@acme.test", core.RoleSales, "")
	require.NoError(t, err)
	resp, _ := e.do(t, http.MethodPost, sessionPath+"/send",
		map[string]string{"message": "mine now"},
		map[string]string{"X-User-ID": other.ID, "X-User-Role": core.RoleSales})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The assigned agent can.
	resp, body := e.do(t, http.MethodPost, sessionPath+"/send",
		map[string]string{"message": "how can I help?"},
		map[string]string{"X-User-ID": agent.ID, "X-User-Role": core.RoleSales})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg core.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	require.Equal(t, "user", msg.SenderType)
	require.NotNil(t, msg.VendorMessageID)
	require.Equal(t, []string{"628999400011"}, e.gw.sent)

	// Gateway failures surface the vendor error and persist nothing.
	e.gw.fail = true
	resp, body = e.do(t, http.MethodPost, sessionPath+"/send",
		map[string]string{"message": "will not go out"},
		map[string]string{"X-User-ID": agent.ID, "X-User-Role": core.RoleSales})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, string(body), "device disconnected")

	msgs, err := e.srv.Store.ListMessages(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2) // the inbound plus the one delivered reply
}

func TestSessionAccessGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := e.seedAccount(t, "628111400061", true)
	agent, err := e.srv.Store.CreateUser(ctx, "Agent", "guard-agent@acme.test", core.RoleSales, account.ID)
	require.NoError(t, err)
	stranger, err := e.srv.Store.CreateUser(ctx, "Stranger", "guard-other@acme.test", core.RoleSales, "")
	require.NoError(t, err)

	res, err := e.srv.Store.RecordInbound(ctx, account, core.InboundMessage{
		SenderPhone: "628999400061", Body: "hi", Type: "text",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Session.AssignedUserID)
	sessionPath := "/inbox/sessions/" + res.Session.ID

	strangerHdr := map[string]string{"X-User-ID": stranger.ID, "X-User-Role": core.RoleSales}
	agentHdr := map[string]string{"X-User-ID": agent.ID, "X-User-Role": core.RoleSales}

	// A sales user who does not own the thread cannot view it, advance
	// its read state, or close it. Anonymous callers get the same answer.
	for _, c := range []struct {
		method, path string
		headers      map[string]string
	}{
		{http.MethodGet, sessionPath, strangerHdr},
		{http.MethodPost, sessionPath + "/read", strangerHdr},
		{http.MethodPost, sessionPath + "/close", strangerHdr},
		{http.MethodGet, sessionPath, nil},
	} {
		resp, _ := e.do(t, c.method, c.path, nil, c.headers)
		require.Equal(t, http.StatusForbidden, resp.StatusCode, "%s %s", c.method, c.path)
	}

	// Viewing as a stranger must not have consumed the unread message.
	n, err := e.srv.Store.UnreadCountForSession(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	resp, _ := e.do(t, http.MethodGet, sessionPath, nil, agentHdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, sessionPath+"/close", nil,
		map[string]string{"X-User-ID": "boss", "X-User-Role": core.RoleManager})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShowSessionIncrementalPoll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := e.seedAccount(t, "628111400071", true)
	agent, err := e.srv.Store.CreateUser(ctx, "Agent", "poll-agent@acme.test", core.RoleSales, account.ID)
	require.NoError(t, err)

	first, err := e.srv.Store.RecordInbound(ctx, account, core.InboundMessage{
		SenderPhone: "628999400071", Body: "first", Type: "text",
	})
	require.NoError(t, err)
	_, err = e.srv.Store.RecordInbound(ctx, account, core.InboundMessage{
		SenderPhone: "628999400071", Body: "second", Type: "text",
	})
	require.NoError(t, err)

	agentHdr := map[string]string{"X-User-ID": agent.ID, "X-User-Role": core.RoleSales}
	after := url.QueryEscape(first.Message.CreatedAt.Format(time.RFC3339Nano))
	resp, body := e.do(t, http.MethodGet,
		"/inbox/sessions/"+first.Session.ID+"?after="+after, nil, agentHdr)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Messages []core.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Messages, 1)
	require.Equal(t, "second", out.Messages[0].Body)

	// Polling must not advance read state.
	n, err := e.srv.Store.UnreadCountForSession(ctx, first.Session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	resp, _ = e.do(t, http.MethodGet,
		"/inbox/sessions/"+first.Session.ID+"?after=not-a-time", nil, agentHdr)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessageInactiveAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := e.seedAccount(t, "628111400021", false) // stays inactive

	res, err := e.srv.Store.RecordInbound(ctx, account, core.InboundMessage{
		SenderPhone: "628999400021", Body: "hi", Type: "text",
	})
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodPost, "/inbox/sessions/"+res.Session.ID+"/send",
		map[string]string{"message": "blocked"},
		map[string]string{"X-User-ID": "any", "X-User-Role": core.RoleManager})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, string(body), "account_inactive")

	// Zero persisted messages for the attempt, and nothing hit the vendor.
	msgs, err := e.srv.Store.ListMessages(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Empty(t, e.gw.sent)
}

func TestGetAccountTrialCountdown(t *testing.T) {
	e := newEnv(t)
	account := e.seedAccount(t, "628111400081", false)

	resp, body := e.do(t, http.MethodGet, "/accounts/"+account.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		ID                 string `json:"id"`
		IsTrial            bool   `json:"is_trial"`
		TrialDaysRemaining int    `json:"trial_days_remaining"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, account.ID, out.ID)
	require.True(t, out.IsTrial)
	// 14-day trial just opened: the countdown sits at the boundary.
	require.GreaterOrEqual(t, out.TrialDaysRemaining, 13)
	require.LessOrEqual(t, out.TrialDaysRemaining, 14)
}

func TestWidgetConfig(t *testing.T) {
	e := newEnv(t)
	app, err := e.srv.Store.CreateExternalApp(context.Background(), "Landing page", "628111400031", nil)
	require.NoError(t, err)

	resp, body := e.do(t, http.MethodGet, "/widget/config?key="+app.AppKey, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	var out struct {
		Name           string         `json:"name"`
		WhatsappNumber string         `json:"whatsapp_number"`
		Settings       map[string]any `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, "Landing page", out.Name)
	require.Equal(t, "628111400031", out.WhatsappNumber)
	require.NotEmpty(t, out.Settings)

	resp, _ = e.do(t, http.MethodGet, "/widget/config?key=op_doesnotexist", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessCampaignEndpoint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	account := e.seedAccount(t, "628111400041", true)

	var custID string
	err := e.srv.Store.DB.QueryRow(ctx, `
		INSERT INTO customers(phone, name, status, lead_source)
		VALUES('628999400041', 'Customer', 'lead', 'import')
		RETURNING id`).Scan(&custID)
	require.NoError(t, err)

	camp, err := e.srv.Store.CreateCampaign(ctx, core.CreateCampaignRequest{
		AccountID:       account.ID,
		Name:            "Promo",
		MessageTemplate: "Hello!",
		CustomerIDs:     []string{custID},
	})
	require.NoError(t, err)

	resp, _ := e.do(t, http.MethodPost, "/campaigns/"+camp.ID+"/process", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	camp, err = e.srv.Store.GetCampaign(ctx, camp.ID)
	require.NoError(t, err)
	require.Equal(t, "completed", camp.Status)
	require.Equal(t, 1, camp.SentCount)

	// Re-processing a completed campaign is an explicit 400.
	resp, body := e.do(t, http.MethodPost, "/campaigns/"+camp.ID+"/process", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "already completed")
}

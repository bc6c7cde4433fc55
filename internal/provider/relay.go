package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tigasatu/wa-inbox/internal/core"
)

// fonnteSender posts the vendor-A relay shape: token in the Authorization
// header as-is, flat target/message body.
type fonnteSender struct {
	creds  Credentials
	client *http.Client
}

func (s *fonnteSender) send(ctx context.Context, to, body string) (Result, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"target":  to,
		"message": body,
	})
	endpoint := strings.TrimSuffix(s.creds.Endpoint, "/") + "/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", s.creds.Token)
	req.Header.Set("Content-Type", "application/json")

	respBody, err := doRelay(s.client, req, core.ProviderFonnte)
	if err != nil {
		return Result{}, err
	}

	var out struct {
		Status bool     `json:"status"`
		ID     []string `json:"id"`
		Reason string   `json:"reason"`
	}
	_ = json.Unmarshal(respBody, &out)
	if !out.Status {
		return Result{}, &core.VendorError{Provider: core.ProviderFonnte, Detail: out.Reason}
	}
	res := Result{}
	if len(out.ID) > 0 {
		res.VendorMessageID = out.ID[0]
	}
	return res, nil
}

// wablasSender posts the vendor-B relay shape: "token.key" authorization,
// batched data array even for a single recipient.
type wablasSender struct {
	creds  Credentials
	client *http.Client
}

func (s *wablasSender) send(ctx context.Context, to, body string) (Result, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"data": []map[string]string{{"phone": to, "message": body}},
	})
	endpoint := strings.TrimSuffix(s.creds.Endpoint, "/") + "/api/v2/send-message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", s.creds.Token+"."+s.creds.Key)
	req.Header.Set("Content-Type", "application/json")

	respBody, err := doRelay(s.client, req, core.ProviderWablas)
	if err != nil {
		return Result{}, err
	}

	var out struct {
		Status bool `json:"status"`
		Data   struct {
			Messages []struct {
				ID string `json:"id"`
			} `json:"messages"`
		} `json:"data"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(respBody, &out)
	if !out.Status {
		return Result{}, &core.VendorError{Provider: core.ProviderWablas, Detail: out.Message}
	}
	res := Result{}
	if len(out.Data.Messages) > 0 {
		res.VendorMessageID = out.Data.Messages[0].ID
	}
	return res, nil
}

// genericSender is the bearer + X-API-KEY relay contract used as the
// default for unbranded vendors.
type genericSender struct {
	creds  Credentials
	from   string
	client *http.Client
}

func (s *genericSender) send(ctx context.Context, to, body string) (Result, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"sender":  s.from,
		"to":      to,
		"message": body,
	})
	endpoint := strings.TrimSuffix(s.creds.Endpoint, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.creds.Token)
	req.Header.Set("X-API-KEY", s.creds.Key)
	req.Header.Set("Content-Type", "application/json")

	respBody, err := doRelay(s.client, req, core.ProviderGeneric)
	if err != nil {
		return Result{}, err
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(respBody, &out)
	return Result{VendorMessageID: out.ID}, nil
}

// relaySyncStatus hits the shared account-info endpoint the relay vendors
// expose and maps the response onto the normalized Status.
func relaySyncStatus(ctx context.Context, client *http.Client, creds Credentials) (Status, error) {
	endpoint := strings.TrimSuffix(creds.Endpoint, "/") + "/account-info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("X-API-KEY", creds.Key)

	resp, err := client.Do(req)
	if err != nil {
		return Status{}, &core.VendorError{Provider: "relay", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Status{Connected: false}, nil
	}

	var out struct {
		IsOfficialAccount bool `json:"is_official_account"`
		Verified          bool `json:"verified"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return Status{Connected: true, Verified: out.IsOfficialAccount || out.Verified}, nil
}

func doRelay(client *http.Client, req *http.Request, providerName string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &core.VendorError{Provider: providerName, Detail: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &core.VendorError{Provider: providerName,
			Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, body)}
	}
	return body, nil
}

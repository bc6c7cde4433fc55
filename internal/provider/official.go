package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tigasatu/wa-inbox/internal/core"
)

const graphBase = "https://graph.facebook.com/v20.0"

// officialSender posts to the cloud API messages endpoint for one phone
// number id.
type officialSender struct {
	creds         Credentials
	phoneNumberID string
	client        *http.Client
}

func (s *officialSender) send(ctx context.Context, to, body string) (Result, error) {
	reqBody := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": body},
	}
	b, _ := json.Marshal(reqBody)

	url := fmt.Sprintf("%s/%s/messages", graphBase, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.creds.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, &core.VendorError{Provider: core.ProviderOfficial, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return Result{}, &core.VendorError{Provider: core.ProviderOfficial,
			Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, respBody)}
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	_ = json.Unmarshal(respBody, &out)
	res := Result{}
	if len(out.Messages) > 0 {
		res.VendorMessageID = out.Messages[0].ID
	}
	return res, nil
}

func officialSyncStatus(ctx context.Context, client *http.Client, creds Credentials, phoneNumberID string) (Status, error) {
	if creds.Token == "" {
		return Status{}, core.ErrConfigMissing
	}
	url := fmt.Sprintf("%s/%s?fields=verified_name,quality_rating", graphBase, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := client.Do(req)
	if err != nil {
		return Status{}, &core.VendorError{Provider: core.ProviderOfficial, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Status{Connected: false}, &core.VendorError{Provider: core.ProviderOfficial,
			Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, body)}
	}

	var out struct {
		VerifiedName string `json:"verified_name"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return Status{Connected: true, Verified: out.VerifiedName != ""}, nil
}

// officialDownloadMedia is the two-step media fetch: resolve the media id
// to a short-lived URL, then GET the content with the same token.
func officialDownloadMedia(ctx context.Context, client *http.Client, creds Credentials, mediaID string) (Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBase+"/"+mediaID, nil)
	if err != nil {
		return Media{}, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := client.Do(req)
	if err != nil {
		return Media{}, &core.VendorError{Provider: core.ProviderOfficial, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Media{}, &core.VendorError{Provider: core.ProviderOfficial,
			Detail: fmt.Sprintf("media lookup status=%d body=%s", resp.StatusCode, body)}
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil || meta.URL == "" {
		return Media{}, &core.VendorError{Provider: core.ProviderOfficial, Detail: "media lookup returned no url"}
	}

	req2, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return Media{}, err
	}
	req2.Header.Set("Authorization", "Bearer "+creds.Token)

	resp2, err := client.Do(req2)
	if err != nil {
		return Media{}, &core.VendorError{Provider: core.ProviderOfficial, Detail: err.Error()}
	}
	defer resp2.Body.Close()
	if resp2.StatusCode >= 300 {
		return Media{}, &core.VendorError{Provider: core.ProviderOfficial,
			Detail: fmt.Sprintf("media fetch status=%d", resp2.StatusCode)}
	}

	data, err := io.ReadAll(resp2.Body)
	if err != nil {
		return Media{}, err
	}
	return Media{Data: data, MimeType: meta.MimeType}, nil
}

// officialFetchTemplates lists the WABA's templates. Credentials.Key holds
// the WABA id for official accounts.
func officialFetchTemplates(ctx context.Context, client *http.Client, creds Credentials) ([]TemplateDef, error) {
	url := fmt.Sprintf("%s/%s/message_templates", graphBase, creds.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &core.VendorError{Provider: core.ProviderOfficial, Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &core.VendorError{Provider: core.ProviderOfficial,
			Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, body)}
	}

	var out struct {
		Data []struct {
			Name       string          `json:"name"`
			Language   string          `json:"language"`
			Category   string          `json:"category"`
			Status     string          `json:"status"`
			Components json.RawMessage `json:"components"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &core.VendorError{Provider: core.ProviderOfficial, Detail: "bad template listing: " + err.Error()}
	}

	tpls := make([]TemplateDef, 0, len(out.Data))
	for _, t := range out.Data {
		tpls = append(tpls, TemplateDef{
			Name:       t.Name,
			Language:   t.Language,
			Category:   t.Category,
			Status:     t.Status,
			Components: t.Components,
		})
	}
	return tpls, nil
}

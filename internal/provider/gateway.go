package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tigasatu/wa-inbox/internal/core"
)

// Credentials is one vendor credential bundle. Empty fields on an account
// fall back to the global defaults field-by-field; there is no implicit
// fallback through hidden state.
type Credentials struct {
	Token    string
	Key      string
	Endpoint string
}

func (c Credentials) merge(account core.Account) Credentials {
	out := c
	if account.APIToken != "" {
		out.Token = account.APIToken
	}
	if account.APIKey != "" {
		out.Key = account.APIKey
	}
	if account.APIEndpoint != "" {
		out.Endpoint = account.APIEndpoint
	}
	return out
}

// HTTPGateway talks to the real vendor APIs.
type HTTPGateway struct {
	defaults Credentials
	client   *http.Client
}

func NewHTTPGateway(defaults Credentials, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{
		defaults: defaults,
		client:   &http.Client{Timeout: timeout},
	}
}

// senderFor selects the request builder by the account's stored tag.
func (g *HTTPGateway) senderFor(account core.Account) (sender, error) {
	creds := g.defaults.merge(account)
	switch account.Provider {
	case core.ProviderOfficial:
		if creds.Token == "" {
			return nil, core.ErrConfigMissing
		}
		return &officialSender{creds: creds, phoneNumberID: account.PhoneNumber, client: g.client}, nil
	case core.ProviderFonnte:
		if creds.Token == "" {
			return nil, core.ErrConfigMissing
		}
		return &fonnteSender{creds: creds, client: g.client}, nil
	case core.ProviderWablas:
		if creds.Token == "" || creds.Key == "" {
			return nil, core.ErrConfigMissing
		}
		return &wablasSender{creds: creds, client: g.client}, nil
	case core.ProviderGeneric:
		if creds.Token == "" || creds.Key == "" {
			return nil, core.ErrConfigMissing
		}
		return &genericSender{creds: creds, from: account.PhoneNumber, client: g.client}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", account.Provider)
	}
}

func (g *HTTPGateway) Send(ctx context.Context, account core.Account, to, body string) (Result, error) {
	s, err := g.senderFor(account)
	if err != nil {
		return Result{}, err
	}
	return s.send(ctx, to, body)
}

// SyncStatus asks the vendor whether the device is connected and verified.
// Relay vendors share one generic account-info endpoint; the official API
// treats a reachable phone-number resource as connected.
func (g *HTTPGateway) SyncStatus(ctx context.Context, account core.Account) (Status, error) {
	creds := g.defaults.merge(account)
	if account.Provider == core.ProviderOfficial {
		return officialSyncStatus(ctx, g.client, creds, account.PhoneNumber)
	}
	if creds.Token == "" {
		return Status{}, core.ErrConfigMissing
	}
	return relaySyncStatus(ctx, g.client, creds)
}

// DownloadMedia fetches deferred media content. Only the official API
// hands out media ids; relay payloads embed nothing downloadable.
func (g *HTTPGateway) DownloadMedia(ctx context.Context, account core.Account, mediaID string) (Media, error) {
	if account.Provider != core.ProviderOfficial {
		return Media{}, &core.VendorError{Provider: account.Provider, Detail: "media download not supported"}
	}
	creds := g.defaults.merge(account)
	if creds.Token == "" {
		return Media{}, core.ErrConfigMissing
	}
	return officialDownloadMedia(ctx, g.client, creds, mediaID)
}

// FetchTemplates lists approved templates; official API only.
func (g *HTTPGateway) FetchTemplates(ctx context.Context, account core.Account) ([]TemplateDef, error) {
	if account.Provider != core.ProviderOfficial {
		return nil, &core.VendorError{Provider: account.Provider, Detail: "templates not supported"}
	}
	creds := g.defaults.merge(account)
	if creds.Token == "" || creds.Key == "" {
		// Key carries the WABA id for the official provider.
		return nil, core.ErrConfigMissing
	}
	return officialFetchTemplates(ctx, g.client, creds)
}

// Package provider is the vendor gateway: one capability surface over the
// official cloud API and the relay vendors, selected per account by its
// stored provider tag.
package provider

import (
	"context"

	"github.com/tigasatu/wa-inbox/internal/core"
)

// Result is the normalized outcome of a vendor send.
type Result struct {
	VendorMessageID string
}

// Status is the normalized outcome of an account status sync.
type Status struct {
	Connected bool
	Verified  bool
}

// TemplateDef is a message template as reported by the vendor.
type TemplateDef struct {
	Name       string
	Language   string
	Category   string
	Status     string
	Components []byte
}

// Media is downloaded attachment content plus a filename hint.
type Media struct {
	Data     []byte
	MimeType string
}

// Gateway abstracts the heterogeneous vendor APIs. Every call carries the
// caller's context; implementations must apply a timeout and surface it as
// an ordinary failure.
type Gateway interface {
	Send(ctx context.Context, account core.Account, to, body string) (Result, error)
	SyncStatus(ctx context.Context, account core.Account) (Status, error)
	DownloadMedia(ctx context.Context, account core.Account, mediaID string) (Media, error)
	FetchTemplates(ctx context.Context, account core.Account) ([]TemplateDef, error)
}

// sender is the per-variant request builder behind Gateway.Send.
type sender interface {
	send(ctx context.Context, to, body string) (Result, error)
}

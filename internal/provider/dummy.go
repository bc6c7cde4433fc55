package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/tigasatu/wa-inbox/internal/core"
)

// Dummy is a stand-in gateway for local runs without vendor credentials.
// Sends succeed after a short simulated latency with a small failure rate.
type Dummy struct{}

func NewDummy() *Dummy { return &Dummy{} }

func (d *Dummy) Send(ctx context.Context, _ core.Account, to, body string) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if rand.Intn(100) < 3 { // ~3% failure
		return Result{}, errors.New("provider_temporary_error")
	}
	return Result{VendorMessageID: "prov-" + randomID()}, nil
}

func (d *Dummy) SyncStatus(ctx context.Context, _ core.Account) (Status, error) {
	return Status{Connected: true, Verified: false}, nil
}

func (d *Dummy) DownloadMedia(ctx context.Context, _ core.Account, mediaID string) (Media, error) {
	return Media{Data: []byte("dummy-media-" + mediaID), MimeType: "application/octet-stream"}, nil
}

func (d *Dummy) FetchTemplates(ctx context.Context, _ core.Account) ([]TemplateDef, error) {
	return nil, nil
}

func randomID() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}

package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const appCols = `id, name, phone_number, app_key, app_secret, webhook_url, widget_settings, is_active`

func scanApp(row pgx.Row) (ExternalApp, error) {
	var a ExternalApp
	var settings []byte
	err := row.Scan(&a.ID, &a.Name, &a.PhoneNumber, &a.AppKey, &a.AppSecret, &a.WebhookURL, &settings, &a.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExternalApp{}, ErrNotFound
	}
	if err != nil {
		return ExternalApp{}, err
	}
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &a.WidgetSettings)
	}
	return a, nil
}

func newAppKey() string {
	return "op_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func newAppSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var defaultWidgetSettings = map[string]any{
	"primary_color": "#25D366",
	"position":      "right",
	"welcome_text":  "Hi! How can we help you?",
}

// CreateExternalApp registers a subscriber/widget app with a fresh
// key/secret pair.
func (s *Store) CreateExternalApp(ctx context.Context, name, phoneNumber string, webhookURL *string) (ExternalApp, error) {
	settings, _ := json.Marshal(defaultWidgetSettings)
	return scanApp(s.DB.QueryRow(ctx, `
		INSERT INTO external_apps(name, phone_number, app_key, app_secret, webhook_url, widget_settings, is_active)
		VALUES($1,$2,$3,$4,$5,$6,true)
		RETURNING `+appCols,
		name, phoneNumber, newAppKey(), newAppSecret(), webhookURL, settings))
}

type UpdateExternalAppRequest struct {
	Name           string
	PhoneNumber    string
	WebhookURL     *string
	IsActive       bool
	WidgetSettings map[string]any
}

func (s *Store) UpdateExternalApp(ctx context.Context, id string, req UpdateExternalAppRequest) (ExternalApp, error) {
	var settings any // nil keeps the stored settings
	if req.WidgetSettings != nil {
		b, _ := json.Marshal(req.WidgetSettings)
		settings = b
	}
	return scanApp(s.DB.QueryRow(ctx, `
		UPDATE external_apps
		SET name=$2, phone_number=$3, webhook_url=$4, is_active=$5,
			widget_settings=COALESCE($6, widget_settings)
		WHERE id=$1
		RETURNING `+appCols,
		id, req.Name, req.PhoneNumber, req.WebhookURL, req.IsActive, settings))
}

// RotateExternalAppKeys replaces both credentials; the old pair stops
// validating immediately.
func (s *Store) RotateExternalAppKeys(ctx context.Context, id string) (ExternalApp, error) {
	return scanApp(s.DB.QueryRow(ctx, `
		UPDATE external_apps SET app_key=$2, app_secret=$3 WHERE id=$1
		RETURNING `+appCols, id, newAppKey(), newAppSecret()))
}

func (s *Store) DeleteExternalApp(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM external_apps WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// WidgetConfig resolves an active app by its public key, for the CORS-open
// widget endpoint.
func (s *Store) WidgetConfig(ctx context.Context, appKey string) (ExternalApp, error) {
	return scanApp(s.DB.QueryRow(ctx, `
		SELECT `+appCols+` FROM external_apps WHERE app_key=$1 AND is_active`, appKey))
}

// ActiveSubscribers lists apps that registered a webhook endpoint and are
// active: the forwarding fan-out targets.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]ExternalApp, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+appCols+` FROM external_apps
		WHERE is_active AND webhook_url IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalApp
	for rows.Next() {
		var a ExternalApp
		var settings []byte
		if err := rows.Scan(&a.ID, &a.Name, &a.PhoneNumber, &a.AppKey, &a.AppSecret, &a.WebhookURL, &settings, &a.IsActive); err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			_ = json.Unmarshal(settings, &a.WidgetSettings)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

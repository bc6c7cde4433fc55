package core

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const campaignCols = `id, whatsapp_account_id, name, message_template, template_name, status,
	scheduled_at, total_recipients, sent_count, failed_count`

func scanCampaign(row pgx.Row) (Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.MessageTemplate, &c.TemplateName, &c.Status,
		&c.ScheduledAt, &c.TotalRecipients, &c.SentCount, &c.FailedCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	return c, err
}

type CreateCampaignRequest struct {
	AccountID       string
	Name            string
	MessageTemplate string
	TemplateName    *string
	TemplateData    []byte
	CustomerIDs     []string
}

// CreateCampaign creates a draft campaign and fans out one pending log row
// per known recipient. Unknown customer ids are skipped, mirroring the
// blast form which only offers existing customers.
func (s *Store) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (Campaign, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Campaign{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	camp, err := scanCampaign(tx.QueryRow(ctx, `
		INSERT INTO whatsapp_campaigns(whatsapp_account_id, name, message_template, template_name, template_data, status, total_recipients)
		VALUES($1,$2,$3,$4,$5,'draft',0)
		RETURNING `+campaignCols,
		req.AccountID, req.Name, req.MessageTemplate, req.TemplateName, req.TemplateData))
	if err != nil {
		return Campaign{}, err
	}

	recipients := 0
	for _, custID := range req.CustomerIDs {
		tag, err := tx.Exec(ctx, `
			INSERT INTO whatsapp_campaign_logs(whatsapp_campaign_id, customer_id, phone_number, status)
			SELECT $1, id, phone, 'pending' FROM customers WHERE id=$2`, camp.ID, custID)
		if err != nil {
			return Campaign{}, err
		}
		recipients += int(tag.RowsAffected())
	}

	_, err = tx.Exec(ctx, `UPDATE whatsapp_campaigns SET total_recipients=$2 WHERE id=$1`, camp.ID, recipients)
	if err != nil {
		return Campaign{}, err
	}
	camp.TotalRecipients = recipients
	return camp, tx.Commit(ctx)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	return scanCampaign(s.DB.QueryRow(ctx, `SELECT `+campaignCols+` FROM whatsapp_campaigns WHERE id=$1`, id))
}

// StartCampaign flips a campaign to processing. Re-running a completed
// campaign is a deliberate no-op error, not idempotent silent success.
func (s *Store) StartCampaign(ctx context.Context, id string) (Campaign, error) {
	camp, err := s.GetCampaign(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	if camp.Status == "completed" {
		return Campaign{}, ErrAlreadyCompleted
	}
	_, err = s.DB.Exec(ctx, `UPDATE whatsapp_campaigns SET status='processing' WHERE id=$1`, id)
	if err != nil {
		return Campaign{}, err
	}
	camp.Status = "processing"
	return camp, nil
}

// ListPendingLogs returns a campaign's undelivered log rows, oldest first.
func (s *Store) ListPendingLogs(ctx context.Context, campaignID string) ([]CampaignLog, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, whatsapp_campaign_id, customer_id, phone_number, status, error_message, sent_at
		FROM whatsapp_campaign_logs
		WHERE whatsapp_campaign_id=$1 AND status='pending'
		ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CampaignLog
	for rows.Next() {
		var l CampaignLog
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.CustomerID, &l.PhoneNumber, &l.Status, &l.ErrorMessage, &l.SentAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkLogSent records a delivered recipient and bumps the campaign's sent
// counter in one transaction, so an interrupted run never double-counts.
func (s *Store) MarkLogSent(ctx context.Context, logID string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var campaignID string
	err = tx.QueryRow(ctx, `
		UPDATE whatsapp_campaign_logs SET status='sent', sent_at=now()
		WHERE id=$1 AND status='pending'
		RETURNING whatsapp_campaign_id`, logID).Scan(&campaignID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE whatsapp_campaigns SET sent_count=sent_count+1 WHERE id=$1`, campaignID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkLogFailed records a failed recipient with the gateway's error string.
func (s *Store) MarkLogFailed(ctx context.Context, logID, errMsg string) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	var campaignID string
	err = tx.QueryRow(ctx, `
		UPDATE whatsapp_campaign_logs SET status='failed', error_message=$2
		WHERE id=$1 AND status='pending'
		RETURNING whatsapp_campaign_id`, logID, errMsg).Scan(&campaignID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE whatsapp_campaigns SET failed_count=failed_count+1 WHERE id=$1`, campaignID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompleteCampaignIfDrained marks a processing campaign completed once no
// pending rows remain. Returns whether it completed.
func (s *Store) CompleteCampaignIfDrained(ctx context.Context, campaignID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE whatsapp_campaigns SET status='completed'
		WHERE id=$1 AND status='processing'
		AND NOT EXISTS (
			SELECT 1 FROM whatsapp_campaign_logs
			WHERE whatsapp_campaign_id=$1 AND status='pending'
		)`, campaignID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimDueCampaigns moves due scheduled campaigns to processing and
// returns ids of campaigns with work left, for the dispatcher poll loop.
// SKIP LOCKED keeps concurrent workers off the same campaign row.
func (s *Store) ClaimDueCampaigns(ctx context.Context, limit int) ([]string, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, status FROM whatsapp_campaigns
		WHERE status='processing'
		   OR (status='scheduled' AND scheduled_at <= now())
		ORDER BY created_at
		LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids, scheduled []string
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		if status == "scheduled" {
			scheduled = append(scheduled, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range scheduled {
		if _, err := tx.Exec(ctx, `UPDATE whatsapp_campaigns SET status='processing' WHERE id=$1`, id); err != nil {
			return nil, err
		}
	}
	return ids, tx.Commit(ctx)
}

// ScheduleCampaign queues a draft campaign for the dispatcher.
func (s *Store) ScheduleCampaign(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE whatsapp_campaigns SET status='scheduled', scheduled_at=COALESCE(scheduled_at, now())
		WHERE id=$1 AND status='draft'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

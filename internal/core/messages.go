package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const messageCols = `id, chat_session_id, vendor_message_id, sender_type, sender_id,
	message_body, message_type, attachment_path, read_at, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SessionID, &m.VendorMessageID, &m.SenderType, &m.SenderID,
		&m.Body, &m.Type, &m.AttachmentPath, &m.ReadAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

// RecordOutbound persists an agent reply after the vendor accepted it, and
// bumps the session's last_message_at in the same transaction.
func (s *Store) RecordOutbound(ctx context.Context, sessionID, senderID, body string, vendorMessageID *string) (Message, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := scanMessage(tx.QueryRow(ctx, `
		INSERT INTO chat_messages(chat_session_id, vendor_message_id, sender_type, sender_id, message_body, message_type)
		VALUES($1,$2,'user',$3,$4,'text')
		RETURNING `+messageCols, sessionID, vendorMessageID, senderID, body))
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(ctx, `UPDATE chat_sessions SET last_message_at=$2 WHERE id=$1`,
		sessionID, msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, tx.Commit(ctx)
}

// ListMessages returns a session's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+messageCols+` FROM chat_messages
		WHERE chat_session_id=$1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.VendorMessageID, &m.SenderType, &m.SenderID,
			&m.Body, &m.Type, &m.AttachmentPath, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkOldestRead stamps read_at on the oldest unread customer message of a
// session, one per call. Read state only advances: already-read messages
// and agent messages are never touched.
func (s *Store) MarkOldestRead(ctx context.Context, sessionID string) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE chat_messages SET read_at=now()
		WHERE id = (
			SELECT id FROM chat_messages
			WHERE chat_session_id=$1 AND sender_type='customer' AND read_at IS NULL
			ORDER BY created_at ASC
			LIMIT 1
		)`, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UnreadCountForUser counts unread customer messages across every session
// assigned to the user.
func (s *Store) UnreadCountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages m
		JOIN chat_sessions s ON s.id = m.chat_session_id
		WHERE s.assigned_user_id=$1 AND m.sender_type='customer' AND m.read_at IS NULL`, userID).Scan(&n)
	return n, err
}

func (s *Store) UnreadCountForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages
		WHERE chat_session_id=$1 AND sender_type='customer' AND read_at IS NULL`, sessionID).Scan(&n)
	return n, err
}

// MessagesSince supports incremental polling by clients that missed push
// events.
func (s *Store) MessagesSince(ctx context.Context, sessionID string, after time.Time) ([]Message, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+messageCols+` FROM chat_messages
		WHERE chat_session_id=$1 AND created_at > $2 ORDER BY created_at ASC`, sessionID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.VendorMessageID, &m.SenderType, &m.SenderID,
			&m.Body, &m.Type, &m.AttachmentPath, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

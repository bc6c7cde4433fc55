package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const sessionCols = `id, whatsapp_account_id, customer_id, assigned_user_id, status, last_message_at, created_at`

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.AccountID, &sess.CustomerID, &sess.AssignedUserID,
		&sess.Status, &sess.LastMessageAt, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// InboundMessage is a normalized inbound message ready for persistence.
type InboundMessage struct {
	SenderPhone     string
	Body            string
	Type            string
	VendorMessageID *string
	AttachmentPath  *string
}

// RouteResult is the outcome of recording one inbound message.
type RouteResult struct {
	Session        Session
	Customer       Customer
	Message        Message
	SessionCreated bool
}

// RecordInbound is the inbound critical section: find-or-create the
// customer by phone, attach to the live session for (account, customer)
// or create one, assign an agent exactly once at creation, persist the
// message and bump last_message_at, all in one transaction.
//
// Two concurrent webhooks for the same customer race on session creation.
// The account row lock plus a double-check closes most of the window; the
// partial unique index on live sessions is the backstop, and the loser
// re-reads the winner's session.
func (s *Store) RecordInbound(ctx context.Context, account Account, in InboundMessage) (RouteResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.recordInboundOnce(ctx, account, in)
		if err == nil {
			return res, nil
		}
		if !isLiveSessionConflict(err) {
			return RouteResult{}, err
		}
		// Lost the creation race: loop re-reads the winner's session.
	}
	return RouteResult{}, fmt.Errorf("record inbound: session conflict not resolved")
}

func isLiveSessionConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "chat_sessions_live_uq"
}

func (s *Store) recordInboundOnce(ctx context.Context, account Account, in InboundMessage) (RouteResult, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return RouteResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cust, err := firstOrCreateCustomer(ctx, tx, in.SenderPhone)
	if err != nil {
		return RouteResult{}, err
	}

	var res RouteResult
	res.Customer = cust

	res.Session, err = scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM chat_sessions
		WHERE whatsapp_account_id=$1 AND customer_id=$2 AND status IN ('open','pending')`,
		account.ID, cust.ID))
	if errors.Is(err, ErrNotFound) {
		res.Session, err = createSessionAndAssign(ctx, tx, account.ID, cust.ID)
		if err != nil {
			return RouteResult{}, err
		}
		res.SessionCreated = true
	} else if err != nil {
		return RouteResult{}, err
	}

	msgType := in.Type
	if msgType == "" {
		msgType = "text"
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_messages(chat_session_id, vendor_message_id, sender_type, message_body, message_type, attachment_path)
		VALUES($1,$2,'customer',$3,$4,$5)
		RETURNING id, chat_session_id, vendor_message_id, sender_type, sender_id, message_body, message_type, attachment_path, read_at, created_at`,
		res.Session.ID, in.VendorMessageID, in.Body, msgType, in.AttachmentPath).
		Scan(&res.Message.ID, &res.Message.SessionID, &res.Message.VendorMessageID, &res.Message.SenderType,
			&res.Message.SenderID, &res.Message.Body, &res.Message.Type, &res.Message.AttachmentPath,
			&res.Message.ReadAt, &res.Message.CreatedAt)
	if err != nil {
		return RouteResult{}, err
	}

	// Ordering key for the inbox listing; always after the message row.
	_, err = tx.Exec(ctx, `UPDATE chat_sessions SET last_message_at=$2 WHERE id=$1`,
		res.Session.ID, res.Message.CreatedAt)
	if err != nil {
		return RouteResult{}, err
	}
	res.Session.LastMessageAt = res.Message.CreatedAt

	return res, tx.Commit(ctx)
}

// firstOrCreateCustomer is the auto-lead step: unseen phones become leads,
// existing customers are never mutated by inbound traffic.
func firstOrCreateCustomer(ctx context.Context, tx pgx.Tx, phone string) (Customer, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO customers(phone, name, status, lead_source)
		VALUES($1, 'Customer '||$1, 'lead', 'whatsapp')
		ON CONFLICT (phone) DO NOTHING`, phone)
	if err != nil {
		return Customer{}, err
	}
	var c Customer
	err = tx.QueryRow(ctx, `
		SELECT id, phone, name, status, lead_source, assigned_to FROM customers WHERE phone=$1`, phone).
		Scan(&c.ID, &c.Phone, &c.Name, &c.Status, &c.LeadSource, &c.AssignedTo)
	return c, err
}

func createSessionAndAssign(ctx context.Context, tx pgx.Tx, accountID, customerID string) (Session, error) {
	// Serialize session creation and agent assignment per account.
	if _, err := tx.Exec(ctx, `SELECT 1 FROM whatsapp_accounts WHERE id=$1 FOR UPDATE`, accountID); err != nil {
		return Session{}, err
	}

	// Double-check under the lock; a concurrent creator may have committed
	// while we waited.
	sess, err := scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionCols+` FROM chat_sessions
		WHERE whatsapp_account_id=$1 AND customer_id=$2 AND status IN ('open','pending')`,
		accountID, customerID))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	agent, err := assignNext(ctx, tx, accountID)
	if err != nil {
		return Session{}, err
	}
	var assignee *string
	if agent != nil {
		assignee = &agent.UserID
	}

	return scanSession(tx.QueryRow(ctx, `
		INSERT INTO chat_sessions(whatsapp_account_id, customer_id, assigned_user_id, status, last_message_at)
		VALUES($1,$2,$3,'open',now())
		RETURNING `+sessionCols, accountID, customerID, assignee))
}

// assignNext picks the next agent round-robin by longest idle time:
// never-assigned agents first, then ascending last_assigned_at. The chosen
// row is locked and stamped in the same transaction so the next pick sees
// updated state; skipping the stamp would starve the rotation.
func assignNext(ctx context.Context, tx pgx.Tx, accountID string) (*Agent, error) {
	var a Agent
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, whatsapp_account_id, is_available, last_assigned_at
		FROM whatsapp_agents
		WHERE whatsapp_account_id=$1 AND is_available
		ORDER BY last_assigned_at IS NULL DESC, last_assigned_at ASC
		LIMIT 1
		FOR UPDATE`, accountID).
		Scan(&a.ID, &a.UserID, &a.AccountID, &a.IsAvailable, &a.LastAssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // no available agent: session stays unassigned
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE whatsapp_agents SET last_assigned_at=now() WHERE id=$1`, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

// AssignNext runs one standalone round-robin pick for an account. The
// inbound path uses the in-transaction variant; this one serves manual
// tooling and tests. It takes the same account-level lock, so two
// concurrent picks cannot both land on the head agent.
func (s *Store) AssignNext(ctx context.Context, accountID string) (*Agent, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `SELECT 1 FROM whatsapp_accounts WHERE id=$1 FOR UPDATE`, accountID); err != nil {
		return nil, err
	}
	agent, err := assignNext(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	return agent, tx.Commit(ctx)
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	return scanSession(s.DB.QueryRow(ctx, `SELECT `+sessionCols+` FROM chat_sessions WHERE id=$1`, id))
}

// CanSend reports whether a user may write into a session: its assigned
// agent, or any elevated role.
func CanSend(sess Session, userID, role string) bool {
	if ElevatedRole(role) {
		return true
	}
	return sess.AssignedUserID != nil && *sess.AssignedUserID == userID
}

// CloseSession ends a thread. Reopening afterwards creates a new session.
func (s *Store) CloseSession(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE chat_sessions SET status='closed' WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReassignSession is the manual admin override; the assignment engine
// never moves an agent on its own.
func (s *Store) ReassignSession(ctx context.Context, sessionID, userID string) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE chat_sessions SET assigned_user_id=$2 WHERE id=$1`, sessionID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns inbox rows newest-activity first with unread
// counts. Sales users see only their own sessions; elevated roles see
// everything, including unassigned threads.
func (s *Store) ListSessions(ctx context.Context, userID, role string) ([]SessionSummary, error) {
	q := `
		SELECT s.id, s.whatsapp_account_id, s.customer_id, s.assigned_user_id, s.status,
			s.last_message_at, s.created_at, c.phone, c.name,
			(SELECT COUNT(*) FROM chat_messages m
			 WHERE m.chat_session_id=s.id AND m.sender_type='customer' AND m.read_at IS NULL)
		FROM chat_sessions s
		JOIN customers c ON c.id = s.customer_id`
	args := []any{}
	if !ElevatedRole(role) {
		q += ` WHERE s.assigned_user_id=$1`
		args = append(args, userID)
	}
	q += ` ORDER BY s.last_message_at DESC`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.AccountID, &sum.CustomerID, &sum.AssignedUserID, &sum.Status,
			&sum.LastMessageAt, &sum.CreatedAt, &sum.CustomerPhone, &sum.CustomerName, &sum.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SessionSummary loads one session with customer info and unread count,
// as carried in fan-out events.
func (s *Store) SessionSummary(ctx context.Context, sessionID string) (SessionSummary, error) {
	var sum SessionSummary
	err := s.DB.QueryRow(ctx, `
		SELECT s.id, s.whatsapp_account_id, s.customer_id, s.assigned_user_id, s.status,
			s.last_message_at, s.created_at, c.phone, c.name,
			(SELECT COUNT(*) FROM chat_messages m
			 WHERE m.chat_session_id=s.id AND m.sender_type='customer' AND m.read_at IS NULL)
		FROM chat_sessions s
		JOIN customers c ON c.id = s.customer_id
		WHERE s.id=$1`, sessionID).
		Scan(&sum.ID, &sum.AccountID, &sum.CustomerID, &sum.AssignedUserID, &sum.Status,
			&sum.LastMessageAt, &sum.CreatedAt, &sum.CustomerPhone, &sum.CustomerName, &sum.UnreadCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionSummary{}, ErrNotFound
	}
	return sum, err
}

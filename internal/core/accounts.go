package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence layer for the inbox core. All methods issue
// plain SQL against the pool; multi-step operations open their own
// transactions.
type Store struct{ DB *pgxpool.Pool }

const accountCols = `id, name, phone_number, provider, api_token, api_key, api_endpoint,
	is_verified, status, is_trial, trial_ends_at, subscription_plan`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.PhoneNumber, &a.Provider, &a.APIToken, &a.APIKey,
		&a.APIEndpoint, &a.IsVerified, &a.Status, &a.IsTrial, &a.TrialEndsAt, &a.SubscriptionPlan)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

type CreateAccountRequest struct {
	Name        string
	PhoneNumber string
	Provider    string
	APIToken    string
	APIKey      string
	APIEndpoint string
	TrialDays   int
}

// CreateAccount registers a WhatsApp account. New accounts start inactive
// and on trial; a status sync against the vendor activates them.
func (s *Store) CreateAccount(ctx context.Context, req CreateAccountRequest) (Account, error) {
	if req.Provider == "" {
		req.Provider = ProviderGeneric
	}
	trialEnds := time.Now().AddDate(0, 0, req.TrialDays)
	row := s.DB.QueryRow(ctx, `
		INSERT INTO whatsapp_accounts(name, phone_number, provider, api_token, api_key, api_endpoint,
			status, is_trial, trial_ends_at, subscription_plan)
		VALUES($1,$2,$3,$4,$5,$6,'inactive',true,$7,'trial')
		RETURNING `+accountCols,
		req.Name, req.PhoneNumber, req.Provider, req.APIToken, req.APIKey, req.APIEndpoint, trialEnds)
	return scanAccount(row)
}

func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	return scanAccount(s.DB.QueryRow(ctx, `SELECT `+accountCols+` FROM whatsapp_accounts WHERE id=$1`, id))
}

// ResolveAccount maps an inbound device identifier (phone number or the
// official API's phone number id) to its account. A miss is terminal for
// the inbound flow: an unknown device means misconfiguration.
func (s *Store) ResolveAccount(ctx context.Context, device string) (Account, error) {
	return scanAccount(s.DB.QueryRow(ctx,
		`SELECT `+accountCols+` FROM whatsapp_accounts WHERE phone_number=$1`, device))
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM whatsapp_accounts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAccountSynced records the outcome of a vendor status sync.
func (s *Store) MarkAccountSynced(ctx context.Context, id string, verified bool, status string) error {
	_, err := s.DB.Exec(ctx,
		`UPDATE whatsapp_accounts SET is_verified=$2, status=$3 WHERE id=$1`, id, verified, status)
	return err
}

// AgentsFor lists the agents bound to an account, assignment order first.
func (s *Store) AgentsFor(ctx context.Context, accountID string) ([]Agent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, whatsapp_account_id, is_available, last_assigned_at
		FROM whatsapp_agents
		WHERE whatsapp_account_id=$1
		ORDER BY last_assigned_at IS NULL DESC, last_assigned_at ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountID, &a.IsAvailable, &a.LastAssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateUser creates a staff user and, when accountID is non-empty, binds
// them to the account as an available agent.
func (s *Store) CreateUser(ctx context.Context, name, email, role, accountID string) (User, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var u User
	err = tx.QueryRow(ctx, `
		INSERT INTO users(name, email, role) VALUES($1,$2,$3)
		RETURNING id, name, email, role, created_at`, name, email, role).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}

	if accountID != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO whatsapp_agents(user_id, whatsapp_account_id, is_available)
			VALUES($1,$2,true)`, u.ID, accountID)
		if err != nil {
			return User{}, err
		}
	}
	return u, tx.Commit(ctx)
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.DB.QueryRow(ctx,
		`SELECT id, name, email, role, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// SetAgentAvailability toggles whether an agent participates in round robin.
func (s *Store) SetAgentAvailability(ctx context.Context, agentID string, available bool) error {
	tag, err := s.DB.Exec(ctx,
		`UPDATE whatsapp_agents SET is_available=$2 WHERE id=$1`, agentID, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnlinkAgent removes a user's binding to an account.
func (s *Store) UnlinkAgent(ctx context.Context, userID, accountID string) error {
	_, err := s.DB.Exec(ctx,
		`DELETE FROM whatsapp_agents WHERE user_id=$1 AND whatsapp_account_id=$2`, userID, accountID)
	return err
}

// UpsertTemplate stores an approved template fetched from the vendor,
// keyed by (account, name).
func (s *Store) UpsertTemplate(ctx context.Context, accountID, name, language, category string, components []byte) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO whatsapp_templates(whatsapp_account_id, name, language, category, components)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (whatsapp_account_id, name)
		DO UPDATE SET language=EXCLUDED.language, category=EXCLUDED.category, components=EXCLUDED.components`,
		accountID, name, language, category, components)
	return err
}

func (s *Store) ListTemplates(ctx context.Context, accountID string) ([]Template, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, whatsapp_account_id, name, language, COALESCE(category,''), is_active
		FROM whatsapp_templates WHERE whatsapp_account_id=$1 ORDER BY name`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Name, &t.Language, &t.Category, &t.IsActive); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

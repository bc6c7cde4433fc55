package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tigasatu/wa-inbox/internal/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: db.StartTestPostgres(t)}
}

// seedAccount registers an account and activates it so sends pass the
// isActive gate.
func seedAccount(t *testing.T, s *Store, phone string) Account {
	t.Helper()
	ctx := context.Background()
	account, err := s.CreateAccount(ctx, CreateAccountRequest{
		Name:        "Acme " + phone,
		PhoneNumber: phone,
		Provider:    ProviderFonnte,
		APIToken:    "token",
		TrialDays:   14,
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkAccountSynced(ctx, account.ID, true, "active"))
	account, err = s.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, account.IsActive())
	return account
}

// seedAgent creates a sales user bound to the account as an available agent.
func seedAgent(t *testing.T, s *Store, accountID, email string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "Agent "+email, email, RoleSales, accountID)
	require.NoError(t, err)
	return u
}

func inbound(phone, body string) InboundMessage {
	return InboundMessage{SenderPhone: phone, Body: body, Type: "text"}
}

package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadContinuity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000001")
	seedAgent(t, s, account.ID, "a1@acme.test")

	first, err := s.RecordInbound(ctx, account, inbound("628999000001", "hello"))
	require.NoError(t, err)
	require.True(t, first.SessionCreated)
	require.NotNil(t, first.Session.AssignedUserID)

	second, err := s.RecordInbound(ctx, account, inbound("628999000001", "anyone there?"))
	require.NoError(t, err)
	require.False(t, second.SessionCreated)
	require.Equal(t, first.Session.ID, second.Session.ID)
	// Assignment happens once, at creation.
	require.Equal(t, *first.Session.AssignedUserID, *second.Session.AssignedUserID)

	msgs, err := s.ListMessages(ctx, first.Session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Body)
	require.Equal(t, "anyone there?", msgs[1].Body)

	sess, err := s.GetSession(ctx, first.Session.ID)
	require.NoError(t, err)
	require.True(t, sess.LastMessageAt.Equal(msgs[1].CreatedAt))
}

func TestClosedSessionStartsNewThread(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000002")

	first, err := s.RecordInbound(ctx, account, inbound("628999000002", "hi"))
	require.NoError(t, err)
	require.NoError(t, s.CloseSession(ctx, first.Session.ID))

	second, err := s.RecordInbound(ctx, account, inbound("628999000002", "hi again"))
	require.NoError(t, err)
	require.True(t, second.SessionCreated)
	require.NotEqual(t, first.Session.ID, second.Session.ID)
}

// Two accounts never share a thread even for the same customer phone.
func TestSessionsAreScopedPerAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := seedAccount(t, s, "628111000003")
	b := seedAccount(t, s, "628111000004")

	ra, err := s.RecordInbound(ctx, a, inbound("628999000003", "to a"))
	require.NoError(t, err)
	rb, err := s.RecordInbound(ctx, b, inbound("628999000003", "to b"))
	require.NoError(t, err)

	require.NotEqual(t, ra.Session.ID, rb.Session.ID)
	require.Equal(t, ra.Customer.ID, rb.Customer.ID)
}

func TestConcurrentInboundSingleSession(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000005")
	seedAgent(t, s, account.ID, "a1@burst.test")

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.RecordInbound(ctx, account, inbound("628999000005", "burst"))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var sessions int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_sessions cs
		JOIN customers c ON c.id = cs.customer_id
		WHERE cs.whatsapp_account_id=$1 AND c.phone='628999000005'`, account.ID).Scan(&sessions)
	require.NoError(t, err)
	require.Equal(t, 1, sessions)

	sum, err := s.ListSessions(ctx, "", RoleManager)
	require.NoError(t, err)
	require.Len(t, sum, 1)
	msgs, err := s.ListMessages(ctx, sum[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, n)
}

func TestRoundRobinAlternatesTwoAgents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000006")
	u1 := seedAgent(t, s, account.ID, "a1@rr.test")
	u2 := seedAgent(t, s, account.ID, "a2@rr.test")

	r1, err := s.RecordInbound(ctx, account, inbound("628999000011", "one"))
	require.NoError(t, err)
	require.NotNil(t, r1.Session.AssignedUserID)

	r2, err := s.RecordInbound(ctx, account, inbound("628999000012", "two"))
	require.NoError(t, err)
	require.NotNil(t, r2.Session.AssignedUserID)
	require.NotEqual(t, *r1.Session.AssignedUserID, *r2.Session.AssignedUserID)

	r3, err := s.RecordInbound(ctx, account, inbound("628999000013", "three"))
	require.NoError(t, err)
	require.NotNil(t, r3.Session.AssignedUserID)
	require.Equal(t, *r1.Session.AssignedUserID, *r3.Session.AssignedUserID)

	assigned := map[string]bool{*r1.Session.AssignedUserID: true, *r2.Session.AssignedUserID: true}
	require.True(t, assigned[u1.ID])
	require.True(t, assigned[u2.ID])
}

// A newly added agent (never assigned) outranks every stamped agent.
func TestRoundRobinNullFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000007")
	seedAgent(t, s, account.ID, "old@rr.test")

	_, err := s.RecordInbound(ctx, account, inbound("628999000021", "warm up"))
	require.NoError(t, err)

	fresh := seedAgent(t, s, account.ID, "fresh@rr.test")
	agent, err := s.AssignNext(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, agent)
	require.Equal(t, fresh.ID, agent.UserID)
}

func TestConcurrentAssignNextStaysFair(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000017")
	a := seedAgent(t, s, account.ID, "fair-a@rr.test")
	b := seedAgent(t, s, account.ID, "fair-b@rr.test")

	const picks = 6
	var wg sync.WaitGroup
	results := make(chan string, picks)
	for i := 0; i < picks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agent, err := s.AssignNext(ctx, account.ID)
			require.NoError(t, err)
			require.NotNil(t, agent)
			results <- agent.UserID
		}()
	}
	wg.Wait()
	close(results)

	// The account lock serializes the picks, so the rotation never lands
	// on the same head agent twice in a row and the split stays even.
	counts := map[string]int{}
	for id := range results {
		counts[id]++
	}
	require.Equal(t, picks/2, counts[a.ID])
	require.Equal(t, picks/2, counts[b.ID])
}

func TestNoAvailableAgentLeavesUnassigned(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000008")

	res, err := s.RecordInbound(ctx, account, inbound("628999000031", "anyone?"))
	require.NoError(t, err)
	require.True(t, res.SessionCreated)
	require.Nil(t, res.Session.AssignedUserID)

	// Unassigned sessions show up for elevated roles only.
	elevated, err := s.ListSessions(ctx, "", RoleSuperAdmin)
	require.NoError(t, err)
	require.Len(t, elevated, 1)
	sales, err := s.ListSessions(ctx, "some-user", RoleSales)
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestUnavailableAgentSkipped(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "628111000009")
	u1 := seedAgent(t, s, account.ID, "on@rr.test")
	u2 := seedAgent(t, s, account.ID, "off@rr.test")

	agents, err := s.AgentsFor(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, a := range agents {
		if a.UserID == u2.ID {
			require.NoError(t, s.SetAgentAvailability(ctx, a.ID, false))
		}
	}

	for i := 0; i < 3; i++ {
		agent, err := s.AssignNext(ctx, account.ID)
		require.NoError(t, err)
		require.NotNil(t, agent)
		require.Equal(t, u1.ID, agent.UserID)
	}
}

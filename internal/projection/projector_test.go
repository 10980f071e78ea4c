package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/biddersweet/platform/internal/domain"
	"github.com/biddersweet/platform/internal/infra"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditProjector_InvalidatesOnCreditApplied(t *testing.T) {
	ctx := context.Background()
	balances := NewBalances(NewInMemoryStore())
	userID := uuid.New()
	require.NoError(t, balances.RecordBalance(ctx, userID, 12))

	payload, err := json.Marshal(map[string]interface{}{"user_id": userID.String(), "balance_after": 11})
	require.NoError(t, err)

	p := NewCreditProjector(balances)
	err = p.Handle(ctx, &infra.OutboxEnvelope{EventType: string(domain.EventCreditApplied), Payload: payload})
	require.NoError(t, err)

	_, ok := balances.Lookup(ctx, userID)
	assert.False(t, ok)
}

func TestCreditProjector_IgnoresOtherEvents(t *testing.T) {
	ctx := context.Background()
	balances := NewBalances(NewInMemoryStore())
	userID := uuid.New()
	require.NoError(t, balances.RecordBalance(ctx, userID, 12))

	p := NewCreditProjector(balances)
	err := p.Handle(ctx, &infra.OutboxEnvelope{EventType: string(domain.EventBidPlaced), Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	credits, ok := balances.Lookup(ctx, userID)
	assert.True(t, ok)
	assert.Equal(t, int64(12), credits)
}

func TestCreditProjector_BadPayload(t *testing.T) {
	p := NewCreditProjector(NewBalances(NewInMemoryStore()))
	err := p.Handle(context.Background(), &infra.OutboxEnvelope{
		EventType: string(domain.EventCreditApplied),
		Payload:   json.RawMessage(`{"user_id":"nope"}`),
	})
	assert.Error(t, err)
}

func TestCreditProjector_Topics(t *testing.T) {
	p := NewCreditProjector(nil)
	assert.Equal(t, []string{"biddersweet.user.ledger.credit.applied"}, p.Topics())
}

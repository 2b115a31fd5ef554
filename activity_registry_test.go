package durablesaga

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chargeRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

type chargeResult struct {
	PaymentID string `json:"payment_id"`
}

func charge(ctx context.Context, req chargeRequest) (chargeResult, error) {
	if req.Amount <= 0 {
		return chargeResult{}, errors.New("amount must be positive")
	}
	return chargeResult{PaymentID: "pay-" + req.OrderID}, nil
}

func TestActivityRegistryRegister(t *testing.T) {
	reg := NewActivityRegistry()
	require.NoError(t, reg.Register("Charge", NewActivity(charge)))

	assert.Error(t, reg.Register("Charge", NewActivity(charge)))
	assert.Error(t, reg.Register("", NewActivity(charge)))
	assert.Error(t, reg.Register("Refund", nil))

	fn, err := reg.Get("Charge")
	require.NoError(t, err)
	assert.NotNil(t, fn)

	_, err = reg.Get("Refund")
	assert.ErrorIs(t, err, ErrActivityNotFound)

	var names []ActivityName
	reg.Range(func(name ActivityName, fn ActivityFunc) bool {
		names = append(names, name)
		return true
	})
	assert.Equal(t, []ActivityName{"Charge"}, names)
}

func TestActivityRegistryInvoke(t *testing.T) {
	reg := NewActivityRegistry()
	require.NoError(t, reg.Register("Charge", NewActivity(charge)))
	ctx := context.Background()

	out, err := reg.Invoke(ctx, "Charge", json.RawMessage(`{"order_id":"o-1","amount":100}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"payment_id":"pay-o-1"}`, string(out))

	_, err = reg.Invoke(ctx, "Charge", json.RawMessage(`{"order_id":"o-1","amount":0}`))
	require.Error(t, err)
	assert.False(t, IsNonRetryable(err))

	_, err = reg.Invoke(ctx, "Charge", json.RawMessage(`["not","an","object"]`))
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))

	_, err = reg.Invoke(ctx, "Refund", nil)
	assert.ErrorIs(t, err, ErrActivityNotFound)
	assert.True(t, IsNonRetryable(err))
}

func TestNonRetryable(t *testing.T) {
	assert.Nil(t, NonRetryable(nil))

	base := errors.New("card declined")
	err := NonRetryable(base)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsNonRetryable(err))
	assert.False(t, IsNonRetryable(base))
	assert.Equal(t, "card declined", err.Error())
}

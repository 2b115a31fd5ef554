package durablesaga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompensationRegistryOrdinals(t *testing.T) {
	r := NewCompensationRegistry()
	require.NoError(t, r.Register("ReleaseInventory", map[string]string{"reservation_id": "r-1"}))
	require.NoError(t, r.Register("RefundPayment", "p-1"))
	require.NoError(t, r.Register("RestoreInventory", nil))

	actions := r.Snapshot()
	require.Len(t, actions, 3)
	for i, a := range actions {
		assert.Equal(t, i+1, a.Ordinal)
	}
	assert.Equal(t, ActivityName("RefundPayment"), actions[1].Activity)
	assert.Equal(t, "p-1", actions[1].Input)
	assert.Equal(t, 3, r.Len())
}

func TestCompensationRegistrySnapshotIsACopy(t *testing.T) {
	r := NewCompensationRegistry()
	require.NoError(t, r.Register("ReleaseInventory", 1))

	snap := r.Snapshot()
	snap[0].Activity = "Tampered"
	require.NoError(t, r.Register("RefundPayment", 2))

	assert.Len(t, snap, 1)
	assert.Equal(t, ActivityName("ReleaseInventory"), r.Snapshot()[0].Activity)
	assert.Equal(t, 2, r.Snapshot()[1].Ordinal)
}

func TestCompensationRegistryRejectsEmptyName(t *testing.T) {
	r := NewCompensationRegistry()

	err := r.Register("", "input")
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Zero(t, r.Len())

	// A rejected registration does not consume an ordinal.
	require.NoError(t, r.Register("RefundPayment", nil))
	assert.Equal(t, 1, r.Snapshot()[0].Ordinal)
}

func TestCompensationRegistryEmpty(t *testing.T) {
	r := NewCompensationRegistry()
	assert.Empty(t, r.Snapshot())
	assert.NotNil(t, r.Snapshot())
}

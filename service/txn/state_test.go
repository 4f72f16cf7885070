package txn

import (
	"errors"
	"testing"

	"github.com/brojonat/idproperty/service/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	hash := common.HexToHash("0x01")
	receipt := &chain.Receipt{TxHash: hash, Status: 1, BlockNumber: 7}
	boom := errors.New("boom")

	tests := []struct {
		name    string
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{"submit from idle", Idle{}, Submit{}, Pending{}, false},
		{"submit after success", Succeeded{Hash: hash}, Submit{}, Pending{}, false},
		{"submit after failure", Failed{Err: boom}, Submit{}, Pending{}, false},
		{"submit while pending", Pending{}, Submit{}, Pending{}, true},
		{"submit while confirming", Confirming{Hash: hash}, Submit{}, Confirming{Hash: hash}, true},
		{"wallet confirm", Pending{}, WalletConfirmed{Hash: hash}, Confirming{Hash: hash}, false},
		{"wallet confirm from idle", Idle{}, WalletConfirmed{Hash: hash}, Idle{}, true},
		{"chain confirm", Confirming{Hash: hash}, ChainConfirmed{Receipt: receipt}, Succeeded{Hash: hash, Receipt: receipt}, false},
		{"chain confirm while pending", Pending{}, ChainConfirmed{Receipt: receipt}, Pending{}, true},
		{"wallet error", Pending{}, Errored{Err: boom}, Failed{Err: boom}, false},
		{"error from idle", Idle{}, Errored{Err: boom}, Idle{}, true},
		{"reset after success", Succeeded{Hash: hash}, Reset{}, Idle{}, false},
		{"reset while confirming", Confirming{Hash: hash}, Reset{}, Confirming{Hash: hash}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.from, tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_ErrorWhileConfirmingKeepsHash(t *testing.T) {
	hash := common.HexToHash("0x02")
	got, err := Apply(Confirming{Hash: hash}, Errored{Err: chain.ErrReverted})
	require.NoError(t, err)

	failed, ok := got.(Failed)
	require.True(t, ok)
	require.NotNil(t, failed.Hash)
	assert.Equal(t, hash, *failed.Hash)
	assert.ErrorIs(t, ErrOf(got), chain.ErrReverted)

	h, ok := HashOf(got)
	assert.True(t, ok)
	assert.Equal(t, hash, h)
}

func TestHashOf(t *testing.T) {
	_, ok := HashOf(Pending{})
	assert.False(t, ok)
	_, ok = HashOf(Failed{Err: errors.New("x")})
	assert.False(t, ok)
	assert.Nil(t, ErrOf(Idle{}))
}

func TestInFlight(t *testing.T) {
	assert.False(t, InFlight(Idle{}))
	assert.True(t, InFlight(Pending{}))
	assert.True(t, InFlight(Confirming{}))
	assert.False(t, InFlight(Succeeded{}))
	assert.False(t, InFlight(Failed{}))
}

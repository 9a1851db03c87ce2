package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	dai   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x1000000000000000000000000000000000000002")
	pool  = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func TestLedger(t *testing.T) {
	t.Run("MintTransferBurn", func(t *testing.T) {
		l := New()
		require.NoError(t, l.Mint(dai, alice, big.NewInt(1000)))
		require.NoError(t, l.Transfer(dai, alice, bob, big.NewInt(400)))
		require.NoError(t, l.Burn(dai, bob, big.NewInt(100)))

		assert.Equal(t, "600", l.BalanceOf(dai, alice).String())
		assert.Equal(t, "300", l.BalanceOf(dai, bob).String())

		err := l.Transfer(dai, bob, alice, big.NewInt(301))
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, "300", l.BalanceOf(dai, bob).String())
	})

	t.Run("RejectsNegativeAndOverflow", func(t *testing.T) {
		l := New()
		require.ErrorIs(t, l.Mint(dai, alice, big.NewInt(-1)), ErrInvalidAmount)
		maxWord := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		require.NoError(t, l.Mint(dai, alice, maxWord))
		require.ErrorIs(t, l.Mint(dai, alice, big.NewInt(1)), ErrOverflow)
		require.ErrorIs(t, l.Mint(dai, alice, new(big.Int).Lsh(big.NewInt(1), 256)), ErrOverflow)
	})

	t.Run("TransferFromConsumesAllowance", func(t *testing.T) {
		l := New()
		require.NoError(t, l.Mint(dai, alice, big.NewInt(1000)))
		require.NoError(t, l.Approve(dai, alice, pool, big.NewInt(500)))

		require.NoError(t, l.TransferFrom(dai, pool, alice, pool, big.NewInt(200)))
		assert.Equal(t, "300", l.Allowance(dai, alice, pool).String())
		assert.Equal(t, "200", l.BalanceOf(dai, pool).String())

		err := l.TransferFrom(dai, pool, alice, pool, big.NewInt(301))
		require.ErrorIs(t, err, ErrInsufficientAllowance)

		err = l.TransferFrom(dai, bob, alice, pool, big.NewInt(1))
		require.ErrorIs(t, err, ErrInsufficientAllowance)
	})

	t.Run("TransferFromKeepsAllowanceOnFailedMove", func(t *testing.T) {
		l := New()
		require.NoError(t, l.Mint(dai, alice, big.NewInt(10)))
		require.NoError(t, l.Approve(dai, alice, pool, big.NewInt(500)))

		err := l.TransferFrom(dai, pool, alice, pool, big.NewInt(11))
		require.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, "500", l.Allowance(dai, alice, pool).String())
	})

	t.Run("SnapshotRevert", func(t *testing.T) {
		l := New()
		require.NoError(t, l.Mint(dai, pool, big.NewInt(100000)))

		outer := l.Snapshot()
		require.NoError(t, l.Transfer(dai, pool, alice, big.NewInt(99999)))
		inner := l.Snapshot()
		require.NoError(t, l.Approve(dai, alice, pool, big.NewInt(1)))
		require.NoError(t, l.Mint(dai, bob, big.NewInt(7)))

		require.NoError(t, l.RevertToSnapshot(inner))
		assert.Equal(t, "0", l.BalanceOf(dai, bob).String())
		assert.Equal(t, "0", l.Allowance(dai, alice, pool).String())
		assert.Equal(t, "99999", l.BalanceOf(dai, alice).String())

		require.NoError(t, l.RevertToSnapshot(outer))
		assert.Equal(t, "100000", l.BalanceOf(dai, pool).String())
		assert.Equal(t, "0", l.BalanceOf(dai, alice).String())

		require.ErrorIs(t, l.RevertToSnapshot(outer), ErrInvalidSnapshot)
	})

	t.Run("DiscardKeepsWrites", func(t *testing.T) {
		l := New()
		id := l.Snapshot()
		require.NoError(t, l.Mint(dai, alice, big.NewInt(5)))
		l.DiscardSnapshot(id)
		assert.Equal(t, "5", l.BalanceOf(dai, alice).String())
	})

	t.Run("JournalReleasedWithoutSnapshots", func(t *testing.T) {
		l := New()
		for i := 0; i < 100; i++ {
			require.NoError(t, l.Mint(dai, alice, big.NewInt(1)))
		}
		require.NoError(t, l.Approve(dai, alice, pool, big.NewInt(10)))
		require.NoError(t, l.TransferFrom(dai, pool, alice, bob, big.NewInt(10)))
		assert.Empty(t, l.journal)

		id := l.Snapshot()
		require.NoError(t, l.Transfer(dai, alice, bob, big.NewInt(5)))
		assert.NotEmpty(t, l.journal)
		require.NoError(t, l.RevertToSnapshot(id))
		assert.Empty(t, l.journal)
		assert.Equal(t, "90", l.BalanceOf(dai, alice).String())

		id = l.Snapshot()
		require.NoError(t, l.Mint(dai, bob, big.NewInt(1)))
		l.DiscardSnapshot(id)
		assert.Empty(t, l.journal)
		assert.Equal(t, "11", l.BalanceOf(dai, bob).String())
	})

	t.Run("VersionTracksWrites", func(t *testing.T) {
		l := New()
		v0 := l.Version()
		_ = l.BalanceOf(dai, alice)
		assert.Equal(t, v0, l.Version())

		require.NoError(t, l.Mint(dai, alice, big.NewInt(1)))
		v1 := l.Version()
		assert.Greater(t, v1, v0)

		l.Touch()
		assert.Greater(t, l.Version(), v1)
	})
}

// Package ledger keeps ERC-20 style token balances and allowances for the
// simulated chain. Writes are journaled so a failed transaction can be rolled
// back to a snapshot.
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrOverflow              = errors.New("balance overflow")
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
)

type holding struct {
	token  common.Address
	holder common.Address
}

type grant struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// change restores one slot to its value before a write.
type change interface {
	revert(l *Ledger)
}

type balanceChange struct {
	key  holding
	prev *uint256.Int
}

func (c balanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.balances, c.key)
		return
	}
	l.balances[c.key] = c.prev
}

type allowanceChange struct {
	key  grant
	prev *uint256.Int
}

func (c allowanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.allowances, c.key)
		return
	}
	l.allowances[c.key] = c.prev
}

// Ledger is safe for concurrent use. No lock is held while callers run, so
// flash-loan callbacks may re-enter it freely.
type Ledger struct {
	mu         sync.Mutex
	balances   map[holding]*uint256.Int
	allowances map[grant]*uint256.Int
	journal    []change
	snapshots  []int
	version    uint64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[holding]*uint256.Int),
		allowances: make(map[grant]*uint256.Int),
	}
}

func toWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func (l *Ledger) balance(key holding) *uint256.Int {
	if v, ok := l.balances[key]; ok {
		return v
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(key holding, v *uint256.Int) {
	prev, ok := l.balances[key]
	if ok {
		l.journal = append(l.journal, balanceChange{key: key, prev: prev})
	} else {
		l.journal = append(l.journal, balanceChange{key: key})
	}
	l.balances[key] = v
	l.version++
}

func (l *Ledger) setAllowance(key grant, v *uint256.Int) {
	prev, ok := l.allowances[key]
	if ok {
		l.journal = append(l.journal, allowanceChange{key: key, prev: prev})
	} else {
		l.journal = append(l.journal, allowanceChange{key: key})
	}
	l.allowances[key] = v
	l.version++
}

func (l *Ledger) credit(token, to common.Address, amount *uint256.Int) error {
	key := holding{token, to}
	next, overflow := new(uint256.Int).AddOverflow(l.balance(key), amount)
	if overflow {
		return ErrOverflow
	}
	l.setBalance(key, next)
	return nil
}

func (l *Ledger) debit(token, from common.Address, amount *uint256.Int) error {
	key := holding{token, from}
	current := l.balance(key)
	if current.Lt(amount) {
		return fmt.Errorf("%w: holder=%s balance=%s amount=%s",
			ErrInsufficientBalance, from.Hex(), current.Dec(), amount.Dec())
	}
	l.setBalance(key, new(uint256.Int).Sub(current, amount))
	return nil
}

// BalanceOf returns the balance of holder in token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(holding{token, holder}).ToBig()
}

// Mint creates amount of token out of thin air for to.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	v, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.settle()
	return l.credit(token, to, v)
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	v, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.settle()
	return l.debit(token, from, v)
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	v, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.settle()
	return l.move(token, from, to, v)
}

func (l *Ledger) move(token, from, to common.Address, v *uint256.Int) error {
	mark := len(l.journal)
	if err := l.debit(token, from, v); err != nil {
		return err
	}
	if err := l.credit(token, to, v); err != nil {
		l.unwind(mark)
		return err
	}
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	v, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.settle()
	l.setAllowance(grant{token, owner, spender}, v)
	return nil
}

// Allowance returns the remaining amount spender may move for owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.allowances[grant{token, owner, spender}]; ok {
		return v.ToBig()
	}
	return new(big.Int)
}

// TransferFrom moves amount from one holder to another on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	v, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.settle()

	key := grant{token, from, spender}
	allowed, ok := l.allowances[key]
	if !ok || allowed.Lt(v) {
		have := "0"
		if ok {
			have = allowed.Dec()
		}
		return fmt.Errorf("%w: spender=%s allowance=%s amount=%s",
			ErrInsufficientAllowance, spender.Hex(), have, v.Dec())
	}
	mark := len(l.journal)
	l.setAllowance(key, new(uint256.Int).Sub(allowed, v))
	if err := l.move(token, from, to, v); err != nil {
		l.unwind(mark)
		return err
	}
	return nil
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, len(l.journal))
	return len(l.snapshots) - 1
}

// RevertToSnapshot undoes every write made since the snapshot was taken and
// invalidates it and any later snapshot.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		return fmt.Errorf("%w: %d", ErrInvalidSnapshot, id)
	}
	l.unwind(l.snapshots[id])
	l.snapshots = l.snapshots[:id]
	l.settle()
	l.version++
	return nil
}

// DiscardSnapshot releases a snapshot whose writes are kept.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id >= 0 && id < len(l.snapshots) {
		l.snapshots = l.snapshots[:id]
	}
	l.settle()
}

// settle drops the journal once no snapshot can roll it back.
func (l *Ledger) settle() {
	if len(l.snapshots) == 0 {
		clear(l.journal)
		l.journal = l.journal[:0]
	}
}

func (l *Ledger) unwind(mark int) {
	for i := len(l.journal) - 1; i >= mark; i-- {
		l.journal[i].revert(l)
	}
	l.journal = l.journal[:mark]
}

// Version increases on every state change. Callers use it to detect stale
// cached reads.
func (l *Ledger) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Touch bumps the version without changing balances. Venues call it when their
// configuration changes.
func (l *Ledger) Touch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version++
}

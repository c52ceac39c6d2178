// Package ledger is an in-memory settlement currency ledger keyed by
// account handle. The market consumes it as an external collaborator:
// it only relies on allowance queries, allowance-gated transfers, and
// the one-shot bootstrap mint.
package ledger

import (
	"errors"
	"sync"

	"gatepass/pkg/xlog"

	"github.com/shopspring/decimal"
)

var logger = xlog.GetLogger()

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNegativeAmount        = errors.New("negative amount")
)

type Ledger struct {
	mu sync.Mutex

	balances   map[int64]decimal.Decimal
	allowances map[int64]map[int64]decimal.Decimal // owner -> spender -> remaining
}

func New() *Ledger {
	return &Ledger{
		balances:   map[int64]decimal.Decimal{},
		allowances: map[int64]map[int64]decimal.Decimal{},
	}
}

// Mint credits amount to the given account. Intended for the one-shot
// initial supply at system bootstrap.
func (l *Ledger) Mint(to int64, amount decimal.Decimal) (err error) {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = l.balances[to].Add(amount)
	logger.Infof("minted %s to account:%d", amount, to)
	return
}

func (l *Ledger) BalanceOf(owner int64) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[owner]
}

// Approve sets the spender's remaining allowance over the owner's funds.
// Overwrites, ERC-20 style, rather than adds.
func (l *Ledger) Approve(owner, spender int64, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	aa, ok := l.allowances[owner]
	if !ok {
		aa = map[int64]decimal.Decimal{}
		l.allowances[owner] = aa
	}
	aa[spender] = amount
}

func (l *Ledger) Allowance(owner, spender int64) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.allowances[owner][spender]
}

// Transfer moves funds between two accounts with no allowance involved.
// The caller is trusted to be the from-account's holder.
func (l *Ledger) Transfer(from, to int64, amount decimal.Decimal) (err error) {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.move(from, to, amount)
}

// TransferFrom moves funds from payer to payee on behalf of spender,
// consuming the payer's allowance. Fails without effect when either the
// allowance or the payer balance is insufficient.
func (l *Ledger) TransferFrom(spender, payer, payee int64, amount decimal.Decimal) (err error) {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.allowances[payer][spender]
	if remaining.LessThan(amount) {
		return ErrInsufficientAllowance
	}

	err = l.move(payer, payee, amount)
	if err != nil {
		return
	}

	// the payer may never have approved anyone when amount is zero
	aa, ok := l.allowances[payer]
	if !ok {
		aa = map[int64]decimal.Decimal{}
		l.allowances[payer] = aa
	}
	aa[spender] = remaining.Sub(amount)
	return
}

// move requires l.mu held.
func (l *Ledger) move(from, to int64, amount decimal.Decimal) (err error) {
	bal := l.balances[from]
	if bal.LessThan(amount) {
		return ErrInsufficientBalance
	}

	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return
}

package bank

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"wagerchain/crypto"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	errNegativeAmount      = errors.New("bank: negative amount")
)

type balanceState interface {
	BalanceGet(addr []byte) (*big.Int, error)
	BalancePut(addr []byte, amount *big.Int) error
}

// Vault moves value between player balances and the escrow custody account.
// Transfers are serialised so a debit and its matching credit are never
// interleaved with another transfer.
type Vault struct {
	mu      sync.Mutex
	state   balanceState
	custody crypto.Address
}

// NewVault binds the vault to a balance store and the custody account that
// holds locked stakes.
func NewVault(state balanceState, custody crypto.Address) *Vault {
	return &Vault{state: state, custody: custody}
}

// Custody returns the escrow account address.
func (v *Vault) Custody() crypto.Address { return v.custody }

// Deposit credits addr with freshly issued funds.
func (v *Vault) Deposit(addr crypto.Address, amount *big.Int) (*big.Int, error) {
	amt, err := normalize(amount)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance, err := v.state.BalanceGet(addr.Bytes())
	if err != nil {
		return nil, err
	}
	balance = new(big.Int).Add(balance, amt)
	if err := v.state.BalancePut(addr.Bytes(), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Lock moves amount from the player into custody.
func (v *Vault) Lock(from crypto.Address, amount *big.Int) error {
	return v.transfer(from, v.custody, amount)
}

// Disburse pays amount out of custody to the player.
func (v *Vault) Disburse(to crypto.Address, amount *big.Int) error {
	return v.transfer(v.custody, to, amount)
}

// Balance returns the balance held by addr.
func (v *Vault) Balance(addr crypto.Address) (*big.Int, error) {
	return v.state.BalanceGet(addr.Bytes())
}

func (v *Vault) transfer(from, to crypto.Address, amount *big.Int) error {
	amt, err := normalize(amount)
	if err != nil {
		return err
	}
	if amt.Sign() == 0 || from == to {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fromBal, err := v.state.BalanceGet(from.Bytes())
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from, fromBal, amt)
	}
	toBal, err := v.state.BalanceGet(to.Bytes())
	if err != nil {
		return err
	}
	if err := v.state.BalancePut(from.Bytes(), new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	if err := v.state.BalancePut(to.Bytes(), new(big.Int).Add(toBal, amt)); err != nil {
		// Restore the debit so the failed transfer leaves no trace.
		if restoreErr := v.state.BalancePut(from.Bytes(), fromBal); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		return err
	}
	return nil
}

func normalize(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	return new(big.Int).Set(amount), nil
}

package registry

import (
	"context"
	"sync"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
)

// TransferHook runs before an ownership change. A non-nil error aborts the
// transfer. It is invoked without the registry lock held, so it may call
// back into the marketplace.
type TransferHook func(ctx context.Context, asset model.AssetKey, from, to string) error

type token struct {
	owner    string
	approved string
}

// Memory is an in-process registry with ERC-721 ownership and approval rules
type Memory struct {
	mu        sync.RWMutex
	tokens    map[model.AssetKey]*token
	operators map[string]map[string]map[string]bool // collection -> owner -> operator
	hook      TransferHook
}

func NewMemory() *Memory {
	return &Memory{
		tokens:    make(map[model.AssetKey]*token),
		operators: make(map[string]map[string]map[string]bool),
	}
}

// Mint creates a token owned by owner, replacing any existing record
func (m *Memory) Mint(asset model.AssetKey, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[asset] = &token{owner: owner}
}

// Approve sets the single-token operator. Only the owner or an approved-for-all
// operator of the owner may call it.
func (m *Memory) Approve(caller, operator string, asset model.AssetKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[asset]
	if !ok {
		return ErrTokenNotFound
	}
	if caller != t.owner && !m.isOperator(asset.Collection, t.owner, caller) {
		return ErrNotAuthorized
	}
	t.approved = operator
	return nil
}

// SetApprovalForAll grants or revokes operator rights over every token the
// owner holds in a collection
func (m *Memory) SetApprovalForAll(collection, owner, operator string, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners, ok := m.operators[collection]
	if !ok {
		owners = make(map[string]map[string]bool)
		m.operators[collection] = owners
	}
	ops, ok := owners[owner]
	if !ok {
		ops = make(map[string]bool)
		owners[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
}

// SetTransferHook installs fn; nil removes it
func (m *Memory) SetTransferHook(fn TransferHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

func (m *Memory) OwnerOf(ctx context.Context, asset model.AssetKey) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[asset]
	if !ok {
		return "", ErrTokenNotFound
	}
	return t.owner, nil
}

func (m *Memory) GetApproved(ctx context.Context, asset model.AssetKey) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[asset]
	if !ok {
		return "", ErrTokenNotFound
	}
	return t.approved, nil
}

func (m *Memory) IsApprovedForAll(ctx context.Context, collection, owner, operator string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOperator(collection, owner, operator), nil
}

// TransferFrom moves the token from -> to. The operator must be the owner,
// the token's approved address, or an approved-for-all operator, and from
// must be the current owner. Transfers clear the single-token approval.
func (m *Memory) TransferFrom(ctx context.Context, operator, from, to string, asset model.AssetKey) error {
	if err := m.checkTransfer(operator, from, asset); err != nil {
		return err
	}

	m.mu.RLock()
	hook := m.hook
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, asset, from, to); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// the hook ran unlocked; re-check against the current state
	if err := m.checkTransferLocked(operator, from, asset); err != nil {
		return err
	}
	t := m.tokens[asset]
	t.owner = to
	t.approved = ""
	return nil
}

func (m *Memory) checkTransfer(operator, from string, asset model.AssetKey) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkTransferLocked(operator, from, asset)
}

func (m *Memory) checkTransferLocked(operator, from string, asset model.AssetKey) error {
	t, ok := m.tokens[asset]
	if !ok {
		return ErrTokenNotFound
	}
	if t.owner != from {
		return ErrNotAuthorized
	}
	if operator != t.owner && operator != t.approved && !m.isOperator(asset.Collection, t.owner, operator) {
		return ErrNotAuthorized
	}
	return nil
}

func (m *Memory) isOperator(collection, owner, operator string) bool {
	return m.operators[collection][owner][operator]
}

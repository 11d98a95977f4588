package service

import (
	"context"
	"sync"
)

// Lock levels. Within one call chain locks are taken in increasing level
// order: an asset, then a seller's proceeds.
const (
	levelAsset = iota
	levelProceeds
)

type heldLocksKey struct{}

// heldLock is the immutable list of locks held by a call chain, carried in
// its context so calls made from inside an external interaction can be seen
type heldLock struct {
	key    string
	level  int
	parent *heldLock
}

func heldFrom(ctx context.Context) *heldLock {
	h, _ := ctx.Value(heldLocksKey{}).(*heldLock)
	return h
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// keyedLocks provides per-key mutual exclusion with context-aware waiting
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*lockEntry)}
}

// acquire locks key for the call chain in ctx. A chain that already holds a
// lock at the same or a higher level is re-entering the marketplace from an
// external call and gets ErrReentrantCall instead of blocking.
func (k *keyedLocks) acquire(ctx context.Context, key string, level int) (context.Context, func(), error) {
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if h.level >= level {
			return ctx, nil, ErrReentrantCall
		}
	}

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return ctx, nil, ctx.Err()
	}

	release := func() {
		<-e.ch
		k.unref(key, e)
	}
	held := &heldLock{key: key, level: level, parent: heldFrom(ctx)}
	return context.WithValue(ctx, heldLocksKey{}, held), release, nil
}

func (k *keyedLocks) unref(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func assetLockKey(asset string) string {
	return "asset:" + asset
}

func proceedsLockKey(seller string) string {
	return "proceeds:" + seller
}

// Package txhook defers side effects until the surrounding transaction
// commits. Transaction managers open a collection with Collect; code running
// inside registers work with AfterCommit.
package txhook

import (
	"context"
	"sync"
)

type hooksKey struct{}

type Hooks struct {
	mu  sync.Mutex
	fns []func()
}

// Collect returns a context that gathers AfterCommit callbacks into the
// returned Hooks.
func Collect(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Run calls the collected callbacks in registration order. Call it once the
// transaction committed; drop the Hooks on rollback.
func (h *Hooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterCommit runs fn when the transaction carried by ctx commits, or right
// away when ctx carries none.
func AfterCommit(ctx context.Context, fn func()) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		fn()
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Package sharedtest provides in-memory approval, audit and idempotency fakes.
package sharedtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/plantops/plantstore/internal/shared"
)

// Approvals keeps approval logs in memory.
type Approvals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (a *Approvals) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	log.ID = int64(len(a.logs) + 1)
	a.logs = append(a.logs, log)
	return nil
}

func (a *Approvals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []shared.ApprovalLog{}
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

// Actions lists recorded actions for a module reference in order.
func (a *Approvals) Actions(module string, id int64) []shared.ApprovalAction {
	logs, _ := a.List(context.Background(), module, shared.ApprovalRef(module, id))
	out := make([]shared.ApprovalAction, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

// Audit keeps audit logs in memory.
type Audit struct {
	mu   sync.Mutex
	Logs []shared.AuditLog
}

func (a *Audit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Logs = append(a.Logs, log)
	return nil
}

// Actions lists recorded audit actions in order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Logs))
	for _, l := range a.Logs {
		out = append(out, l.Action)
	}
	return out
}

// Notifier records stock change notifications.
type Notifier struct {
	mu    sync.Mutex
	Calls [][]int64
}

func (n *Notifier) StockChanged(ctx context.Context, itemIDs []int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls = append(n.Calls, append([]int64(nil), itemIDs...))
	return nil
}

// Idempotency keeps claimed keys in memory.
type Idempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (i *Idempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.keys == nil {
		i.keys = map[string]string{}
	}
	if _, ok := i.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.keys[key] = module
	return nil
}

func (i *Idempotency) Delete(ctx context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, key)
	return nil
}

// Has reports whether key is currently claimed.
func (i *Idempotency) Has(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.keys[key]
	return ok
}

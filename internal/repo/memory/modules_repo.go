package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/geocoder89/learnhub/internal/domain/module"
	"github.com/google/uuid"
)

// ModulesRepo is the in-process module store. A single mutex serializes every
// write, so a transition and its audit event land together.
type ModulesRepo struct {
	mu          sync.RWMutex
	items       map[string]module.Module
	logs        []module.AuditEvent
	subchapters map[string]struct{}
}

func NewModulesRepo(subchapterIDs ...string) *ModulesRepo {
	r := &ModulesRepo{
		items:       make(map[string]module.Module),
		subchapters: make(map[string]struct{}),
	}
	for _, id := range subchapterIDs {
		r.subchapters[id] = struct{}{}
	}
	return r
}

func (r *ModulesRepo) AddSubchapter(id string) {
	r.mu.Lock()
	r.subchapters[id] = struct{}{}
	r.mu.Unlock()
}

func (r *ModulesRepo) SubchapterExists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subchapters[id]
	return ok, nil
}

func (r *ModulesRepo) Create(ctx context.Context, m module.Module, ev module.AuditEvent) (module.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subchapters[m.SubchapterID]; !ok {
		return module.Module{}, module.ErrSubchapterNotFound
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	r.items[m.ID] = m
	r.appendLocked(m.ID, ev)

	return m, nil
}

func (r *ModulesRepo) GetByID(ctx context.Context, id string) (module.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.items[id]
	if !ok {
		return module.Module{}, module.ErrNotFound
	}
	return m, nil
}

func (r *ModulesRepo) List(ctx context.Context, f module.ListFilter) ([]module.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]module.Module, 0)
	for _, m := range r.items {
		if m.SubchapterID != f.SubchapterID {
			continue
		}
		if !f.Elevated && m.Status != module.StatusApproved && (f.ViewerID == "" || m.UploadedBy != f.ViewerID) {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *ModulesRepo) Transition(ctx context.Context, id string, fn func(m *module.Module) (module.AuditEvent, error)) (module.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.items[id]
	if !ok {
		return module.Module{}, module.ErrNotFound
	}

	ev, err := fn(&m)
	if err != nil {
		return module.Module{}, err
	}

	r.items[id] = m
	r.appendLocked(id, ev)

	return m, nil
}

func (r *ModulesRepo) Update(ctx context.Context, id string, fn func(m *module.Module) error) (module.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.items[id]
	if !ok {
		return module.Module{}, module.ErrNotFound
	}
	if err := fn(&m); err != nil {
		return module.Module{}, err
	}
	r.items[id] = m
	return m, nil
}

func (r *ModulesRepo) Delete(ctx context.Context, id string, ev module.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return module.ErrNotFound
	}
	delete(r.items, id)
	r.appendLocked(id, ev)
	return nil
}

// Logs returns newest first, like the postgres store.
func (r *ModulesRepo) Logs(ctx context.Context, moduleID string) ([]module.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]module.AuditEvent, 0)
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].ModuleID == moduleID {
			out = append(out, r.logs[i])
		}
	}
	return out, nil
}

func (r *ModulesRepo) appendLocked(moduleID string, ev module.AuditEvent) {
	ev.ID = uuid.NewString()
	ev.ModuleID = moduleID
	r.logs = append(r.logs, ev)
}

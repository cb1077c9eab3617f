package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/template"
)

type templateKey struct {
	scope    template.Scope
	tenantID string
	name     string
}

// TemplateStore keeps persisted templates in memory.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[templateKey]template.Template
	now       func() time.Time
}

// NewTemplateStore constructs an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{
		templates: make(map[templateKey]template.Template),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *TemplateStore) Find(_ context.Context, scope template.Scope, tenantID, name string) (*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[templateKey{scope: scope, tenantID: tenantID, name: name}]
	if !ok {
		return nil, nil
	}
	return &tpl, nil
}

// List returns the tenant's overrides and every shared template.
func (s *TemplateStore) List(_ context.Context, tenantID string) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []template.Template
	for key, tpl := range s.templates {
		if key.scope == template.ScopeSharedCustom || key.tenantID == tenantID {
			out = append(out, tpl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save upserts by scope, tenant and name.
func (s *TemplateStore) Save(_ context.Context, tpl *template.Template) error {
	if tpl == nil {
		return template.ErrInvalidTemplate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := templateKey{scope: tpl.Scope, tenantID: tpl.TenantID, name: tpl.Name}
	now := s.now()
	if existing, ok := s.templates[key]; ok {
		tpl.ID = existing.ID
		tpl.CreatedAt = existing.CreatedAt
	} else {
		if tpl.ID == "" {
			tpl.ID = uuid.NewString()
		}
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	s.templates[key] = *tpl
	return nil
}

func (s *TemplateStore) Delete(_ context.Context, scope template.Scope, tenantID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := templateKey{scope: scope, tenantID: tenantID, name: name}
	if _, ok := s.templates[key]; !ok {
		return template.ErrTemplateNotFound
	}
	delete(s.templates, key)
	return nil
}

// MailLog keeps mail attempts in memory.
type MailLog struct {
	mu      sync.RWMutex
	entries []notify.MailLogEntry
}

// NewMailLog constructs an empty log.
func NewMailLog() *MailLog {
	return &MailLog{}
}

func (l *MailLog) Append(_ context.Context, entry notify.MailLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// List returns the newest entries first.
func (l *MailLog) List(_ context.Context, tenantID string, limit int) ([]notify.MailLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []notify.MailLogEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].TenantID != tenantID {
			continue
		}
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeliveryLedger keeps delivered recipients in memory.
type DeliveryLedger struct {
	mu        sync.RWMutex
	delivered map[notify.DeliveryKey]map[string]time.Time
}

// NewDeliveryLedger constructs an empty ledger.
func NewDeliveryLedger() *DeliveryLedger {
	return &DeliveryLedger{delivered: make(map[notify.DeliveryKey]map[string]time.Time)}
}

func (l *DeliveryLedger) Delivered(_ context.Context, key notify.DeliveryKey) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]struct{}, len(l.delivered[key]))
	for id := range l.delivered[key] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (l *DeliveryLedger) Record(_ context.Context, key notify.DeliveryKey, recipientIDs []string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.delivered[key]
	if !ok {
		set = make(map[string]time.Time, len(recipientIDs))
		l.delivered[key] = set
	}
	for _, id := range recipientIDs {
		if _, seen := set[id]; !seen {
			set[id] = at
		}
	}
	return nil
}

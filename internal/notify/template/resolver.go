package template

import (
	"context"
	"errors"
	"sort"
)

// Store persists tenant overrides and shared custom templates.
type Store interface {
	// Find returns nil when no template matches.
	Find(ctx context.Context, scope Scope, tenantID, name string) (*Template, error)
	List(ctx context.Context, tenantID string) ([]Template, error)
	Save(ctx context.Context, tpl *Template) error
	Delete(ctx context.Context, scope Scope, tenantID, name string) error
}

// Resolver picks the most specific active template for a tenant.
type Resolver struct {
	store Store
}

// NewResolver constructs a resolver. A nil store resolves built-ins only.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up name as tenant override, then shared custom, then built-in default.
func (r *Resolver) Resolve(ctx context.Context, name, tenantID string) (Template, error) {
	if name == "" {
		return Template{}, ErrTemplateNotFound
	}
	if r != nil && r.store != nil {
		if tenantID != "" {
			tpl, err := r.store.Find(ctx, ScopeTenantOverride, tenantID, name)
			if err != nil {
				return Template{}, err
			}
			if tpl != nil && tpl.Active {
				return *tpl, nil
			}
		}
		tpl, err := r.store.Find(ctx, ScopeSharedCustom, "", name)
		if err != nil {
			return Template{}, err
		}
		if tpl != nil && tpl.Active {
			return *tpl, nil
		}
	}
	if tpl, ok := BuiltIn(name); ok {
		return tpl, nil
	}
	return Template{}, ErrTemplateNotFound
}

// Service administers persisted templates.
type Service struct {
	store    Store
	resolver *Resolver
}

// NewService constructs the admin service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("template service: nil store")
	}
	return &Service{store: store, resolver: NewResolver(store)}, nil
}

// Resolver returns the resolver over the same store.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Save validates and stores a template.
func (s *Service) Save(ctx context.Context, tpl Template) (Template, error) {
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	if err := s.store.Save(ctx, &tpl); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

// Delete removes a persisted template.
func (s *Service) Delete(ctx context.Context, scope Scope, tenantID, name string) error {
	if scope == ScopeBuiltInDefault {
		return ErrBuiltInReadOnly
	}
	if scope == ScopeSharedCustom {
		tenantID = ""
	}
	return s.store.Delete(ctx, scope, tenantID, name)
}

// List returns the tenant's overrides, every shared template and the built-ins.
func (s *Service) List(ctx context.Context, tenantID string) ([]Template, error) {
	stored, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := append(stored, BuiltIns()...)
	sortTemplates(out)
	return out, nil
}

// Preview renders the template a tenant would receive for name.
func (s *Service) Preview(ctx context.Context, tenantID, name string, vars map[string]string) (Template, Rendered, error) {
	tpl, err := s.resolver.Resolve(ctx, name, tenantID)
	if err != nil {
		return Template{}, Rendered{}, err
	}
	return tpl, Render(tpl, vars), nil
}

var scopeRank = map[Scope]int{
	ScopeTenantOverride: 0,
	ScopeSharedCustom:   1,
	ScopeBuiltInDefault: 2,
}

func sortTemplates(list []Template) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return scopeRank[list[i].Scope] < scopeRank[list[j].Scope]
	})
}

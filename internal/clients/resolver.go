// Package clients resolves free-text company/person names to canonical
// client rows.
package clients

import (
	"context"
	"log/slog"

	"agendasync/internal/models"
	"agendasync/internal/store"
)

// Resolver finds or lazily creates the canonical client for a company/person
// pair. Matching is case-insensitive substring containment, so "Tecnoflex"
// resolves to "Tecnoflex Manufacturing S.A. de C.V.". When several clients
// match, the lowest id wins; the ambiguity is accepted rather than resolved.
type Resolver struct {
	store  *store.Store
	logger *slog.Logger
}

func NewResolver(s *store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, logger: logger}
}

// ResolveOrCreate returns the id of the client matching companyName (and
// personName, when given), creating a new row when nothing matches and
// createIfMissing is set. Returns nil when companyName is empty or when no
// match exists and creation is disabled. Store failures propagate; callers
// that already hold a client id should not call this.
func (r *Resolver) ResolveOrCreate(ctx context.Context, companyName, personName string, createIfMissing bool) (*int64, error) {
	if companyName == "" {
		return nil, nil
	}

	existing, err := r.store.FindClient(ctx, companyName, personName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &existing.ID, nil
	}

	if !createIfMissing {
		return nil, nil
	}

	c := &models.Client{CompanyName: companyName, PersonName: personName}
	if err := r.store.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	r.logger.Info("Created new client record.", "client_id", c.ID, "company", companyName)
	return &c.ID, nil
}

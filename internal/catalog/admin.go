// Package catalog maintains billing clients, their reference patterns and
// their per-tonne rates: local administration, YAML import and sync from the
// client-management service.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"weighbridge/internal"
	"weighbridge/internal/logging"
	"weighbridge/internal/match"
	"weighbridge/internal/rates"
	"weighbridge/internal/storage"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrClientExists   = errors.New("client already exists")
	ErrClientInactive = errors.New("client is inactive")
	ErrRateNotFound   = errors.New("rate not found")
)

// Admin applies catalog mutations. Writes touching one client are
// serialised, and each check runs in the same transaction as its write.
type Admin struct {
	db     *storage.DB
	logger *slog.Logger
	locks  keyedMutex
	now    func() time.Time
}

func NewAdmin(db *storage.DB, logger *slog.Logger) *Admin {
	return &Admin{
		db:     db,
		logger: logging.OrDiscard(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (a *Admin) AddClient(name string) (internal.Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return internal.Client{}, errors.New("client name is required")
	}
	c := internal.Client{ID: uuid.NewString(), Name: name, Active: true, CreatedAt: a.now()}

	defer a.locks.lock("client-name")()
	err := a.db.WithTx(func(tx *storage.Tx) error {
		existing, err := tx.GetClientByName(name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrClientExists, existing.Name)
		}
		return tx.InsertClient(c)
	})
	if err != nil {
		return internal.Client{}, err
	}
	a.logger.Info("client added", "client_id", c.ID, "name", c.Name)
	return c, nil
}

// ResolveClient accepts a client id or a case-insensitive client name.
func (a *Admin) ResolveClient(ref string) (internal.Client, error) {
	ref = strings.TrimSpace(ref)
	c, err := a.db.GetClient(ref)
	if err != nil {
		return internal.Client{}, err
	}
	if c == nil {
		if c, err = a.db.GetClientByName(ref); err != nil {
			return internal.Client{}, err
		}
	}
	if c == nil {
		return internal.Client{}, fmt.Errorf("%w: %s", ErrClientNotFound, ref)
	}
	return *c, nil
}

func activeClient(tx *storage.Tx, id string) (*internal.Client, error) {
	c, err := tx.GetClient(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	if !c.Active {
		return nil, fmt.Errorf("%w: %s", ErrClientInactive, c.Name)
	}
	return c, nil
}

// PatternConflicts lists what p would collide with without storing it.
func (a *Admin) PatternConflicts(p internal.ReferencePattern) ([]match.Conflict, error) {
	if err := match.ValidatePattern(&p); err != nil {
		return nil, err
	}
	snap, err := a.db.Snapshot()
	if err != nil {
		return nil, err
	}
	return match.DetectConflicts(p, snap), nil
}

// AddPattern validates p and stores it as an active pattern. A collision
// with another client's pattern returns *match.ConflictError.
func (a *Admin) AddPattern(p internal.ReferencePattern) (internal.ReferencePattern, error) {
	if err := match.ValidatePattern(&p); err != nil {
		return internal.ReferencePattern{}, err
	}
	p.ID = uuid.NewString()
	p.Active = true
	p.CreatedAt = a.now()

	defer a.locks.lock(p.ClientID)()
	err := a.db.WithTx(func(tx *storage.Tx) error {
		if _, err := activeClient(tx, p.ClientID); err != nil {
			return err
		}
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}
		if conflicts := match.DetectConflicts(p, snap); len(conflicts) > 0 {
			return &match.ConflictError{Pattern: p.Pattern, Conflicts: conflicts}
		}
		return tx.InsertPattern(p)
	})
	if err != nil {
		return internal.ReferencePattern{}, err
	}
	a.logger.Info("pattern added", "client_id", p.ClientID, "pattern", p.Pattern, "regex", p.IsRegex, "fuzzy", p.IsFuzzy, "priority", p.Priority)
	return p, nil
}

// RateConflicts lists the records of clientID that a rate over [from, to]
// would overlap. A nil to is open-ended.
func (a *Admin) RateConflicts(clientID string, from time.Time, to *time.Time) ([]internal.RateRecord, error) {
	existing, err := a.db.ListRates(clientID)
	if err != nil {
		return nil, err
	}
	return rates.FindOverlaps(existing, internal.RateRecord{ClientID: clientID, EffectiveFrom: from, EffectiveTo: to}), nil
}

// AddRate stores r as a pending record, or approved by approveBy when that
// is not empty. Overlaps return *rates.ConflictError.
func (a *Admin) AddRate(r internal.RateRecord, approveBy string) (internal.RateRecord, error) {
	if err := rates.Validate(r); err != nil {
		return internal.RateRecord{}, err
	}
	r.ID = uuid.NewString()
	r.CreatedAt = a.now()
	r.ApprovedBy, r.ApprovedAt = nil, nil
	if strings.TrimSpace(approveBy) != "" {
		if err := rates.Approve(&r, approveBy, r.CreatedAt); err != nil {
			return internal.RateRecord{}, err
		}
	}

	defer a.locks.lock(r.ClientID)()
	err := a.db.WithTx(func(tx *storage.Tx) error {
		if _, err := activeClient(tx, r.ClientID); err != nil {
			return err
		}
		existing, err := tx.ListRates(r.ClientID)
		if err != nil {
			return err
		}
		if err := rates.CheckOverlap(existing, r); err != nil {
			return err
		}
		return tx.InsertRate(r)
	})
	if err != nil {
		return internal.RateRecord{}, err
	}
	a.logger.Info("rate added", "rate_id", r.ID, "client_id", r.ClientID, "rate", r.RatePerTonne.String(), "approved", r.Approved())
	return r, nil
}

// RateChange holds the fields to change on a pending rate; nil means keep.
type RateChange struct {
	RatePerTonne  *decimal.Decimal
	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	// OpenEnded clears EffectiveTo.
	OpenEnded bool
	Notes     *string
}

func (a *Admin) UpdateRate(id string, change RateChange) (internal.RateRecord, error) {
	var updated internal.RateRecord
	err := a.withRate(id, func(tx *storage.Tx, r internal.RateRecord) error {
		if err := rates.CanModify(r); err != nil {
			return err
		}
		if change.RatePerTonne != nil {
			r.RatePerTonne = *change.RatePerTonne
		}
		if change.EffectiveFrom != nil {
			r.EffectiveFrom = *change.EffectiveFrom
		}
		if change.EffectiveTo != nil {
			r.EffectiveTo = change.EffectiveTo
		}
		if change.OpenEnded {
			r.EffectiveTo = nil
		}
		if change.Notes != nil {
			r.Notes = change.Notes
		}
		if err := rates.Validate(r); err != nil {
			return err
		}
		existing, err := tx.ListRates(r.ClientID)
		if err != nil {
			return err
		}
		if err := rates.CheckOverlap(existing, r); err != nil {
			return err
		}
		updated = r
		return tx.UpdateRate(r)
	})
	if err != nil {
		return internal.RateRecord{}, err
	}
	a.logger.Info("rate updated", "rate_id", id, "client_id", updated.ClientID)
	return updated, nil
}

func (a *Admin) ApproveRate(id, by string) (internal.RateRecord, error) {
	var approved internal.RateRecord
	err := a.withRate(id, func(tx *storage.Tx, r internal.RateRecord) error {
		if err := rates.Approve(&r, by, a.now()); err != nil {
			return err
		}
		approved = r
		return tx.UpdateRate(r)
	})
	if err != nil {
		return internal.RateRecord{}, err
	}
	a.logger.Info("rate approved", "rate_id", id, "client_id", approved.ClientID, "approved_by", by)
	return approved, nil
}

func (a *Admin) DeleteRate(id string) error {
	err := a.withRate(id, func(tx *storage.Tx, r internal.RateRecord) error {
		if err := rates.CanModify(r); err != nil {
			return err
		}
		return tx.DeleteRate(r.ID)
	})
	if err != nil {
		return err
	}
	a.logger.Info("rate deleted", "rate_id", id)
	return nil
}

// withRate locks the rate's client and runs fn on a fresh read of the
// record inside one transaction.
func (a *Admin) withRate(id string, fn func(tx *storage.Tx, r internal.RateRecord) error) error {
	r, err := a.db.GetRate(id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: %s", ErrRateNotFound, id)
	}

	defer a.locks.lock(r.ClientID)()
	return a.db.WithTx(func(tx *storage.Tx) error {
		current, err := tx.GetRate(id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: %s", ErrRateNotFound, id)
		}
		return fn(tx, *current)
	})
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"weighbridge/internal"
	"weighbridge/internal/config"
	"weighbridge/internal/logging"
	"weighbridge/internal/match"
	"weighbridge/internal/rates"
	"weighbridge/internal/storage"
	"weighbridge/internal/util"
)

const lastSyncKey = "catalog.last_sync"

type SyncService struct {
	db     *storage.DB
	client *Client
	cfg    config.Config
	logger *slog.Logger
}

func NewSyncService(db *storage.DB, cfg config.Config, logger *slog.Logger) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg), cfg: cfg, logger: logging.OrDiscard(logger)}
}

type SyncResult struct {
	Clients  int
	Patterns int
	Rates    int
	Skipped  int
	Since    string
}

// Sync upserts the remote catalog into the local store in one transaction.
// Unless full is set, only clients changed since the previous sync are
// requested. Remote entries that break a local rule are skipped and logged.
func (s *SyncService) Sync(ctx context.Context, full bool) (SyncResult, error) {
	var res SyncResult
	if !full {
		last, err := s.db.GetMetadata(lastSyncKey)
		if err != nil {
			return res, err
		}
		if last != nil {
			res.Since = *last
		}
	}

	started := time.Now().UTC()
	remote, err := s.client.FetchClients(ctx, res.Since)
	if err != nil {
		return res, fmt.Errorf("fetch catalog: %w", err)
	}

	err = s.db.WithTx(func(tx *storage.Tx) error {
		res.Clients, res.Patterns, res.Rates, res.Skipped = 0, 0, 0, 0
		for _, rc := range remote {
			if err := s.syncClient(tx, rc, &res); err != nil {
				return fmt.Errorf("client %s: %w", rc.ID, err)
			}
		}
		return tx.SetMetadata(lastSyncKey, started.Format(time.RFC3339))
	})
	if err != nil {
		return SyncResult{}, err
	}
	s.logger.Info("catalog synced", "since", res.Since, "clients", res.Clients, "patterns", res.Patterns, "rates", res.Rates, "skipped", res.Skipped)
	return res, nil
}

func (s *SyncService) syncClient(tx *storage.Tx, rc RemoteClient, res *SyncResult) error {
	name := strings.TrimSpace(rc.Name)
	if rc.ID == "" || name == "" {
		s.skip(res, "client without id or name", "client_id", rc.ID)
		return nil
	}
	byName, err := tx.GetClientByName(name)
	if err != nil {
		return err
	}
	if byName != nil && byName.ID != rc.ID {
		s.skip(res, "client name taken by a local client", "client_id", rc.ID, "name", name, "local_id", byName.ID)
		return nil
	}
	if err := tx.UpsertClient(internal.Client{ID: rc.ID, Name: name, Active: rc.Active, CreatedAt: time.Now().UTC()}); err != nil {
		return err
	}
	res.Clients++

	snap, err := tx.Snapshot()
	if err != nil {
		return err
	}
	for _, rp := range rc.Patterns {
		p := internal.ReferencePattern{
			ID: rp.ID, ClientID: rc.ID, Pattern: rp.Pattern, IsRegex: rp.IsRegex, IsFuzzy: rp.IsFuzzy,
			Priority: rp.Priority, Active: rp.Active, CreatedAt: time.Now().UTC(),
		}
		if p.ID == "" {
			s.skip(res, "pattern without id", "client_id", rc.ID, "pattern", rp.Pattern)
			continue
		}
		if err := match.ValidatePattern(&p); err != nil {
			s.skip(res, "invalid pattern", "pattern_id", p.ID, "err", err)
			continue
		}
		if conflicts := match.DetectConflicts(p, snap); p.Active && len(conflicts) > 0 {
			s.skip(res, "conflicting pattern", "pattern_id", p.ID, "err", &match.ConflictError{Pattern: p.Pattern, Conflicts: conflicts})
			continue
		}
		if err := tx.UpsertPattern(p); err != nil {
			return err
		}
		snap.Patterns = append(snap.Patterns, p)
		res.Patterns++
	}

	existing, err := tx.ListRates(rc.ID)
	if err != nil {
		return err
	}
	for _, rr := range rc.Rates {
		r, err := rr.record(rc.ID)
		if err != nil {
			s.skip(res, "unreadable rate", "rate_id", rr.ID, "err", err)
			continue
		}
		if local := findRate(existing, r.ID); local != nil && local.Approved() {
			continue
		}
		if err := rates.Validate(r); err != nil {
			s.skip(res, "invalid rate", "rate_id", r.ID, "err", err)
			continue
		}
		if err := rates.CheckOverlap(existing, r); err != nil {
			s.skip(res, "overlapping rate", "rate_id", r.ID, "err", err)
			continue
		}
		if err := tx.UpsertRate(r); err != nil {
			return err
		}
		existing = replaceRate(existing, r)
		res.Rates++
	}
	return nil
}

func (s *SyncService) skip(res *SyncResult, msg string, args ...any) {
	res.Skipped++
	s.logger.Warn("catalog sync skipped "+msg, args...)
}

func (rr RemoteRate) record(clientID string) (internal.RateRecord, error) {
	if rr.ID == "" {
		return internal.RateRecord{}, errors.New("rate without id")
	}
	rate, err := decimal.NewFromString(rr.RatePerTonne.String())
	if err != nil {
		return internal.RateRecord{}, fmt.Errorf("ratePerTonne %q: %w", rr.RatePerTonne, err)
	}
	from, ok := util.ParseDateText(rr.EffectiveFrom)
	if !ok {
		return internal.RateRecord{}, fmt.Errorf("effectiveFrom %q is not a date", rr.EffectiveFrom)
	}
	r := internal.RateRecord{
		ID: rr.ID, ClientID: clientID, RatePerTonne: rate, EffectiveFrom: from,
		Notes: rr.Notes, CreatedAt: time.Now().UTC(),
	}
	if rr.EffectiveTo != nil && strings.TrimSpace(*rr.EffectiveTo) != "" {
		to, ok := util.ParseDateText(*rr.EffectiveTo)
		if !ok {
			return internal.RateRecord{}, fmt.Errorf("effectiveTo %q is not a date", *rr.EffectiveTo)
		}
		r.EffectiveTo = &to
	}
	if by := util.CleanText(util.DerefString(rr.ApprovedBy)); by != nil {
		at := time.Now().UTC()
		if rr.ApprovedAt != nil {
			if parsed, err := time.Parse(time.RFC3339, *rr.ApprovedAt); err == nil {
				at = parsed.UTC()
			}
		}
		r.ApprovedBy, r.ApprovedAt = by, &at
	}
	return r, nil
}

func findRate(records []internal.RateRecord, id string) *internal.RateRecord {
	for i := range records {
		if records[i].ID == id {
			return &records[i]
		}
	}
	return nil
}

func replaceRate(records []internal.RateRecord, r internal.RateRecord) []internal.RateRecord {
	if existing := findRate(records, r.ID); existing != nil {
		*existing = r
		return records
	}
	return append(records, r)
}

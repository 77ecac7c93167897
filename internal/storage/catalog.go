package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"weighbridge/internal"
)

func (s store) InsertClient(c internal.Client) error {
	_, err := s.q.Exec(`INSERT INTO clients (id, name, active, createdAt) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, boolInt(c.Active), formatStamp(&c.CreatedAt))
	return err
}

// UpsertClient inserts c or refreshes the name and active flag of the row
// with the same id.
func (s store) UpsertClient(c internal.Client) error {
	_, err := s.q.Exec(`
INSERT INTO clients (id, name, active, createdAt) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
`, c.ID, c.Name, boolInt(c.Active), formatStamp(&c.CreatedAt))
	return err
}

const clientColumns = `id, name, active, createdAt`

func scanClient(sc interface{ Scan(...any) error }) (internal.Client, error) {
	var (
		c       internal.Client
		active  int
		created sql.NullString
	)
	if err := sc.Scan(&c.ID, &c.Name, &active, &created); err != nil {
		return c, err
	}
	c.Active = active == 1
	ts, err := parseStamp(created)
	if err != nil {
		return c, err
	}
	if ts != nil {
		c.CreatedAt = *ts
	}
	return c, nil
}

func (s store) GetClient(id string) (*internal.Client, error) {
	c, err := scanClient(s.q.QueryRow(`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s store) GetClientByName(name string) (*internal.Client, error) {
	c, err := scanClient(s.q.QueryRow(`SELECT `+clientColumns+` FROM clients WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s store) ListClients() ([]internal.Client, error) {
	rows, err := s.q.Query(`SELECT ` + clientColumns + ` FROM clients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s store) InsertPattern(p internal.ReferencePattern) error {
	_, err := s.q.Exec(`
INSERT INTO client_references (id, clientId, pattern, isRegex, isFuzzy, priority, active, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, p.ID, p.ClientID, p.Pattern, boolInt(p.IsRegex), boolInt(p.IsFuzzy), p.Priority, boolInt(p.Active), formatStamp(&p.CreatedAt))
	return err
}

func (s store) UpsertPattern(p internal.ReferencePattern) error {
	_, err := s.q.Exec(`
INSERT INTO client_references (id, clientId, pattern, isRegex, isFuzzy, priority, active, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  clientId = excluded.clientId,
  pattern = excluded.pattern,
  isRegex = excluded.isRegex,
  isFuzzy = excluded.isFuzzy,
  priority = excluded.priority,
  active = excluded.active
`, p.ID, p.ClientID, p.Pattern, boolInt(p.IsRegex), boolInt(p.IsFuzzy), p.Priority, boolInt(p.Active), formatStamp(&p.CreatedAt))
	return err
}

// ListPatterns returns the patterns of clientID, or of every client when
// clientID is empty, in priority order.
func (s store) ListPatterns(clientID string) ([]internal.ReferencePattern, error) {
	rows, err := s.q.Query(`
SELECT id, clientId, pattern, isRegex, isFuzzy, priority, active, createdAt
FROM client_references
WHERE ? = '' OR clientId = ?
ORDER BY priority ASC, createdAt ASC
`, clientID, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ReferencePattern
	for rows.Next() {
		var (
			p                        internal.ReferencePattern
			isRegex, isFuzzy, active int
			created                  sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Pattern, &isRegex, &isFuzzy, &p.Priority, &active, &created); err != nil {
			return nil, err
		}
		p.IsRegex, p.IsFuzzy, p.Active = isRegex == 1, isFuzzy == 1, active == 1
		ts, err := parseStamp(created)
		if err != nil {
			return nil, err
		}
		if ts != nil {
			p.CreatedAt = *ts
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s store) InsertRate(r internal.RateRecord) error {
	_, err := s.q.Exec(`
INSERT INTO client_rates (id, clientId, ratePerTonne, effectiveFrom, effectiveTo, approvedBy, approvedAt, notes, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, r.ID, r.ClientID, r.RatePerTonne.String(), formatDate(&r.EffectiveFrom), formatDate(r.EffectiveTo),
		r.ApprovedBy, formatStamp(r.ApprovedAt), r.Notes, formatStamp(&r.CreatedAt))
	return err
}

func (s store) UpsertRate(r internal.RateRecord) error {
	_, err := s.q.Exec(`
INSERT INTO client_rates (id, clientId, ratePerTonne, effectiveFrom, effectiveTo, approvedBy, approvedAt, notes, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  clientId = excluded.clientId,
  ratePerTonne = excluded.ratePerTonne,
  effectiveFrom = excluded.effectiveFrom,
  effectiveTo = excluded.effectiveTo,
  approvedBy = excluded.approvedBy,
  approvedAt = excluded.approvedAt,
  notes = excluded.notes
`, r.ID, r.ClientID, r.RatePerTonne.String(), formatDate(&r.EffectiveFrom), formatDate(r.EffectiveTo),
		r.ApprovedBy, formatStamp(r.ApprovedAt), r.Notes, formatStamp(&r.CreatedAt))
	return err
}

// UpdateRate rewrites every mutable column of an existing record.
func (s store) UpdateRate(r internal.RateRecord) error {
	res, err := s.q.Exec(`
UPDATE client_rates
SET ratePerTonne = ?, effectiveFrom = ?, effectiveTo = ?, approvedBy = ?, approvedAt = ?, notes = ?
WHERE id = ?
`, r.RatePerTonne.String(), formatDate(&r.EffectiveFrom), formatDate(r.EffectiveTo),
		r.ApprovedBy, formatStamp(r.ApprovedAt), r.Notes, r.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "rate", r.ID)
}

func (s store) DeleteRate(id string) error {
	res, err := s.q.Exec(`DELETE FROM client_rates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "rate", id)
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

const rateColumns = `id, clientId, ratePerTonne, effectiveFrom, effectiveTo, approvedBy, approvedAt, notes, createdAt`

func scanRate(sc interface{ Scan(...any) error }) (internal.RateRecord, error) {
	var (
		r                                    internal.RateRecord
		rate                                 string
		from, to, by, approvedAt, notes, crt sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.ClientID, &rate, &from, &to, &by, &approvedAt, &notes, &crt); err != nil {
		return r, err
	}
	var err error
	if r.RatePerTonne, err = decimal.NewFromString(rate); err != nil {
		return r, fmt.Errorf("rate %s: %w", r.ID, err)
	}
	fromDate, err := parseDate(from)
	if err != nil {
		return r, err
	}
	if fromDate != nil {
		r.EffectiveFrom = *fromDate
	}
	if r.EffectiveTo, err = parseDate(to); err != nil {
		return r, err
	}
	if r.ApprovedAt, err = parseStamp(approvedAt); err != nil {
		return r, err
	}
	created, err := parseStamp(crt)
	if err != nil {
		return r, err
	}
	if created != nil {
		r.CreatedAt = *created
	}
	r.ApprovedBy = nullString(by)
	r.Notes = nullString(notes)
	return r, nil
}

func (s store) GetRate(id string) (*internal.RateRecord, error) {
	r, err := scanRate(s.q.QueryRow(`SELECT `+rateColumns+` FROM client_rates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRates returns the rates of clientID, or all rates when clientID is
// empty, ordered by client and start date.
func (s store) ListRates(clientID string) ([]internal.RateRecord, error) {
	rows, err := s.q.Query(`
SELECT `+rateColumns+`
FROM client_rates
WHERE ? = '' OR clientId = ?
ORDER BY clientId, effectiveFrom, createdAt
`, clientID, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RateRecord
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshot reads clients, patterns and rates in one transaction.
func (d *DB) Snapshot() (internal.CatalogSnapshot, error) {
	var snap internal.CatalogSnapshot
	err := d.WithTx(func(tx *Tx) error {
		var err error
		snap, err = tx.Snapshot()
		return err
	})
	return snap, err
}

func (s store) Snapshot() (internal.CatalogSnapshot, error) {
	clients, err := s.ListClients()
	if err != nil {
		return internal.CatalogSnapshot{}, fmt.Errorf("list clients: %w", err)
	}
	patterns, err := s.ListPatterns("")
	if err != nil {
		return internal.CatalogSnapshot{}, fmt.Errorf("list patterns: %w", err)
	}
	rates, err := s.ListRates("")
	if err != nil {
		return internal.CatalogSnapshot{}, fmt.Errorf("list rates: %w", err)
	}
	return internal.CatalogSnapshot{Clients: clients, Patterns: patterns, Rates: rates, TakenAt: time.Now().UTC()}, nil
}

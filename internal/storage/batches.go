package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"weighbridge/internal"
)

func (s store) InsertBatch(b internal.Batch) error {
	statsJSON, _ := json.Marshal(b.Stats)
	upload := b.UploadDate
	_, err := s.q.Exec(`
INSERT INTO batches (id, sourceFile, fileHash, uploadDate, layout, status, errorReason, statsJson, createdAt, processedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, b.ID, b.SourceFile, b.FileHash, formatDate(&upload), string(b.Layout), string(b.Status), b.ErrorReason,
		string(statsJSON), formatStamp(&b.CreatedAt), formatStamp(b.ProcessedAt))
	return err
}

func (s store) UpdateBatch(b internal.Batch) error {
	statsJSON, _ := json.Marshal(b.Stats)
	res, err := s.q.Exec(`
UPDATE batches SET layout = ?, status = ?, errorReason = ?, statsJson = ?, processedAt = ?
WHERE id = ?
`, string(b.Layout), string(b.Status), b.ErrorReason, string(statsJSON), formatStamp(b.ProcessedAt), b.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "batch", b.ID)
}

const batchColumns = `id, sourceFile, fileHash, uploadDate, layout, status, errorReason, statsJson, createdAt, processedAt`

func scanBatch(sc interface{ Scan(...any) error }) (internal.Batch, error) {
	var (
		b                                          internal.Batch
		layout, reason, upload, created, processed sql.NullString
		status, statsJSON                          string
	)
	if err := sc.Scan(&b.ID, &b.SourceFile, &b.FileHash, &upload, &layout, &status, &reason, &statsJSON, &created, &processed); err != nil {
		return b, err
	}
	b.Layout = internal.Layout(layout.String)
	b.Status = internal.BatchStatus(status)
	b.ErrorReason = nullString(reason)
	_ = json.Unmarshal([]byte(statsJSON), &b.Stats)

	day, err := parseDate(upload)
	if err != nil {
		return b, err
	}
	if day != nil {
		b.UploadDate = *day
	}
	ts, err := parseStamp(created)
	if err != nil {
		return b, err
	}
	if ts != nil {
		b.CreatedAt = *ts
	}
	if b.ProcessedAt, err = parseStamp(processed); err != nil {
		return b, err
	}
	return b, nil
}

func (s store) GetBatch(id string) (*internal.Batch, error) {
	b, err := scanBatch(s.q.QueryRow(`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindBatchByHash returns the most recent batch that is not in error state
// for the given file hash.
func (s store) FindBatchByHash(hash string) (*internal.Batch, error) {
	b, err := scanBatch(s.q.QueryRow(`
SELECT `+batchColumns+` FROM batches
WHERE fileHash = ? AND status != ?
ORDER BY createdAt DESC LIMIT 1
`, hash, string(internal.BatchError)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s store) ListBatches(limit int) ([]internal.Batch, error) {
	rows, err := s.q.Query(`SELECT `+batchColumns+` FROM batches ORDER BY createdAt DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveBatchResults stores the accepted tickets and error records of one batch
// and updates the batch row, all in one transaction.
func (d *DB) SaveBatchResults(b internal.Batch, tickets []internal.NormalizedTicket, errs []internal.ErrorRecord) error {
	return d.WithTx(func(tx *Tx) error {
		if err := tx.insertTickets(tickets); err != nil {
			return fmt.Errorf("insert tickets: %w", err)
		}
		if err := tx.InsertErrors(errs); err != nil {
			return fmt.Errorf("insert errors: %w", err)
		}
		return tx.UpdateBatch(b)
	})
}

func (t *Tx) insertTickets(tickets []internal.NormalizedTicket) error {
	stmt, err := t.tx.Prepare(`
INSERT INTO tickets (
  id, batchId, rowNumber, layout, ticketNumber, reference, note, vehicle, license,
  grossWeight, tareWeight, netWeight, status, entryDate, entryTime, exitDate, exitTime,
  material, attendant, isBillable, clientId, clientName, matchedPattern, matchType,
  confidence, ratePerTonne, rawJson, createdAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, tk := range tickets {
		rawJSON, _ := json.Marshal(tk.Raw)
		var matchType, rate *string
		if tk.MatchType != nil {
			v := string(*tk.MatchType)
			matchType = &v
		}
		if tk.RatePerTonne != nil {
			v := tk.RatePerTonne.String()
			rate = &v
		}
		if _, err := stmt.Exec(
			tk.ID, tk.BatchID, tk.RowNumber, string(tk.Layout), tk.TicketNumber, tk.Reference, tk.Note, tk.Vehicle, tk.License,
			tk.GrossWeight, tk.TareWeight, tk.NetWeight, string(tk.Status), formatDate(tk.EntryDate), tk.EntryTime,
			formatDate(tk.ExitDate), tk.ExitTime, tk.Material, tk.Attendant, boolInt(tk.IsBillable),
			tk.ClientID, tk.ClientName, tk.MatchedPattern, matchType, tk.Confidence, rate, string(rawJSON), formatStamp(&now),
		); err != nil {
			return fmt.Errorf("ticket %s row %d: %w", tk.TicketNumber, tk.RowNumber, err)
		}
	}
	return nil
}

// InsertErrors assigns ids and timestamps to records that lack them.
func (s store) InsertErrors(errs []internal.ErrorRecord) error {
	now := time.Now().UTC()
	for _, e := range errs {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		raw := e.Raw
		if raw == nil {
			raw = map[string]any{}
		}
		rawJSON, _ := json.Marshal(raw)
		if _, err := s.q.Exec(`
INSERT INTO ticket_errors (id, batchId, ticketNumber, rowNumber, errorType, message, rawJson, createdAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, e.ID, e.BatchID, e.TicketNumber, e.RowNumber, string(e.Type), e.Message, string(rawJSON), formatStamp(&e.CreatedAt)); err != nil {
			return err
		}
	}
	return nil
}

func (s store) ListTickets(batchID string) ([]internal.NormalizedTicket, error) {
	rows, err := s.q.Query(`
SELECT
  id, batchId, rowNumber, layout, ticketNumber, reference, note, vehicle, license,
  grossWeight, tareWeight, netWeight, status, entryDate, entryTime, exitDate, exitTime,
  material, attendant, isBillable, clientId, clientName, matchedPattern, matchType,
  confidence, ratePerTonne, rawJson
FROM tickets
WHERE batchId = ?
ORDER BY rowNumber ASC
`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.NormalizedTicket
	for rows.Next() {
		var (
			t                                                   internal.NormalizedTicket
			layout, status, rawJSON                             string
			reference, note, vehicle, license                   sql.NullString
			entryDate, entryTime, exitDate, exitTime, attendant sql.NullString
			clientID, clientName, pattern, matchType, rate      sql.NullString
			gross, tare, net                                    sql.NullFloat64
			billable                                            int
		)
		if err := rows.Scan(
			&t.ID, &t.BatchID, &t.RowNumber, &layout, &t.TicketNumber, &reference, &note, &vehicle, &license,
			&gross, &tare, &net, &status, &entryDate, &entryTime, &exitDate, &exitTime,
			&t.Material, &attendant, &billable, &clientID, &clientName, &pattern, &matchType,
			&t.Confidence, &rate, &rawJSON,
		); err != nil {
			return nil, err
		}
		t.Layout = internal.Layout(layout)
		t.Status = internal.TicketStatus(status)
		t.Reference, t.Note = nullString(reference), nullString(note)
		t.Vehicle, t.License = nullString(vehicle), nullString(license)
		t.GrossWeight, t.TareWeight, t.NetWeight = nullFloat(gross), nullFloat(tare), nullFloat(net)
		t.EntryTime, t.ExitTime, t.Attendant = nullString(entryTime), nullString(exitTime), nullString(attendant)
		t.IsBillable = billable == 1
		t.ClientID, t.ClientName, t.MatchedPattern = nullString(clientID), nullString(clientName), nullString(pattern)
		if matchType.Valid {
			mt := internal.MatchType(matchType.String)
			t.MatchType = &mt
		}
		if rate.Valid {
			d, err := decimal.NewFromString(rate.String)
			if err != nil {
				return nil, fmt.Errorf("ticket %s rate: %w", t.ID, err)
			}
			t.RatePerTonne = &d
		}
		if t.EntryDate, err = parseDate(entryDate); err != nil {
			return nil, err
		}
		if t.ExitDate, err = parseDate(exitDate); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(rawJSON), &t.Raw)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s store) ListErrors(batchID string) ([]internal.ErrorRecord, error) {
	rows, err := s.q.Query(`
SELECT id, batchId, ticketNumber, rowNumber, errorType, message, rawJson, createdAt
FROM ticket_errors
WHERE batchId = ?
ORDER BY rowNumber ASC, createdAt ASC
`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ErrorRecord
	for rows.Next() {
		var (
			e                internal.ErrorRecord
			ticket, created  sql.NullString
			errType, rawJSON string
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &ticket, &e.RowNumber, &errType, &e.Message, &rawJSON, &created); err != nil {
			return nil, err
		}
		e.TicketNumber = nullString(ticket)
		e.Type = internal.ErrorType(errType)
		_ = json.Unmarshal([]byte(rawJSON), &e.Raw)
		ts, err := parseStamp(created)
		if err != nil {
			return nil, err
		}
		if ts != nil {
			e.CreatedAt = *ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

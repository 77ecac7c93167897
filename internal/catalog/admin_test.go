package catalog

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weighbridge/internal"
	"weighbridge/internal/match"
	"weighbridge/internal/rates"
	"weighbridge/internal/storage"
	"weighbridge/internal/testutil"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func dayPtr(s string) *time.Time {
	d := day(s)
	return &d
}

func rate(clientID, value, from string, to *time.Time) internal.RateRecord {
	return internal.RateRecord{ClientID: clientID, RatePerTonne: decimal.RequireFromString(value), EffectiveFrom: day(from), EffectiveTo: to}
}

func TestAddClient(t *testing.T) {
	a := NewAdmin(openTestDB(t), testutil.NewTestLogger(t))

	c, err := a.AddClient("  Seven Hills Sand ")
	require.NoError(t, err)
	assert.Equal(t, "Seven Hills Sand", c.Name)
	assert.True(t, c.Active)

	_, err = a.AddClient("seven hills sand")
	assert.ErrorIs(t, err, ErrClientExists)

	_, err = a.AddClient(" ")
	assert.Error(t, err)

	byName, err := a.ResolveClient("SEVEN HILLS SAND")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byName.ID)

	byID, err := a.ResolveClient(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, byID.Name)

	_, err = a.ResolveClient("nobody")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestAddPatternRejectsConflicts(t *testing.T) {
	a := NewAdmin(openTestDB(t), testutil.NewTestLogger(t))
	hills, err := a.AddClient("Seven Hills Sand")
	require.NoError(t, err)
	quarry, err := a.AddClient("Quarry Co")
	require.NoError(t, err)

	p, err := a.AddPattern(internal.ReferencePattern{ClientID: hills.ID, Pattern: " MM* "})
	require.NoError(t, err)
	assert.Equal(t, "MM*", p.Pattern)
	assert.Equal(t, match.DefaultPriority, p.Priority)
	assert.True(t, p.Active)

	conflicts, err := a.PatternConflicts(internal.ReferencePattern{ClientID: quarry.ID, Pattern: "MM1001"})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, match.ConflictPrefix, conflicts[0].Type)

	_, err = a.AddPattern(internal.ReferencePattern{ClientID: quarry.ID, Pattern: "MM1001"})
	var ce *match.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Seven Hills Sand", ce.Conflicts[0].ClientName)

	_, err = a.AddPattern(internal.ReferencePattern{ClientID: hills.ID, Pattern: "MM1001"})
	assert.NoError(t, err, "a client's own patterns never conflict")

	_, err = a.AddPattern(internal.ReferencePattern{ClientID: quarry.ID, Pattern: "(", IsRegex: true})
	assert.ErrorIs(t, err, match.ErrInvalidPattern)

	_, err = a.AddPattern(internal.ReferencePattern{ClientID: "missing", Pattern: "777"})
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestAddRateRejectsOverlap(t *testing.T) {
	a := NewAdmin(openTestDB(t), testutil.NewTestLogger(t))
	c, err := a.AddClient("Seven Hills Sand")
	require.NoError(t, err)

	first, err := a.AddRate(rate(c.ID, "25.00", "2024-01-01", nil), "ops")
	require.NoError(t, err)
	assert.True(t, first.Approved())
	assert.Equal(t, "ops", *first.ApprovedBy)

	_, err = a.AddRate(rate(c.ID, "30", "2024-06-01", nil), "")
	var ce *rates.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, first.ID, ce.Conflicts[0].ID)

	conflicts, err := a.RateConflicts(c.ID, day("2023-06-01"), dayPtr("2023-12-31"))
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	old, err := a.AddRate(rate(c.ID, "20", "2023-01-01", dayPtr("2023-12-31")), "")
	require.NoError(t, err)
	assert.False(t, old.Approved())

	_, err = a.AddRate(rate(c.ID, "5", "2022-01-01", dayPtr("2022-06-30")), "")
	assert.ErrorIs(t, err, rates.ErrRateOutOfRange)
}

func TestRateLifecycle(t *testing.T) {
	db := openTestDB(t)
	a := NewAdmin(db, testutil.NewTestLogger(t))
	c, err := a.AddClient("Quarry Co")
	require.NoError(t, err)

	pending, err := a.AddRate(rate(c.ID, "20", "2023-01-01", dayPtr("2023-12-31")), "")
	require.NoError(t, err)
	next, err := a.AddRate(rate(c.ID, "25", "2024-01-01", nil), "")
	require.NoError(t, err)

	_, err = a.UpdateRate(pending.ID, RateChange{EffectiveTo: dayPtr("2024-02-01")})
	var ce *rates.ConflictError
	require.ErrorAs(t, err, &ce)

	newRate := decimal.RequireFromString("21.50")
	updated, err := a.UpdateRate(pending.ID, RateChange{RatePerTonne: &newRate})
	require.NoError(t, err)
	assert.Equal(t, "21.5", updated.RatePerTonne.String())

	approved, err := a.ApproveRate(pending.ID, "finance")
	require.NoError(t, err)
	assert.True(t, approved.Approved())

	_, err = a.ApproveRate(pending.ID, "finance")
	assert.ErrorIs(t, err, rates.ErrAlreadyApproved)
	_, err = a.UpdateRate(pending.ID, RateChange{RatePerTonne: &newRate})
	assert.ErrorIs(t, err, rates.ErrRateImmutable)
	assert.ErrorIs(t, a.DeleteRate(pending.ID), rates.ErrRateImmutable)

	require.NoError(t, a.DeleteRate(next.ID))
	assert.ErrorIs(t, a.DeleteRate(next.ID), ErrRateNotFound)

	stored, err := db.ListRates(c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "finance", *stored[0].ApprovedBy)
}

func TestConcurrentOverlappingRatesOnlyOneWins(t *testing.T) {
	a := NewAdmin(openTestDB(t), nil)
	c, err := a.AddClient("Seven Hills Sand")
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.AddRate(rate(c.ID, "25", "2024-01-01", nil), "")
			mu.Lock()
			defer mu.Unlock()
			var ce *rates.ConflictError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &ce):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}

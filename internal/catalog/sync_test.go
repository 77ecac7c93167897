package catalog

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weighbridge/internal/match"
	"weighbridge/internal/testutil"
)

func TestSync(t *testing.T) {
	db := openTestDB(t)
	svc := NewSyncService(db, testConfig(), testutil.NewTestLogger(t))

	var sinceSeen []string
	svc.client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			sinceSeen = append(sinceSeen, r.URL.Query().Get("updatedSince"))
			return jsonResponse(t, http.StatusOK, page([]map[string]any{
				{
					"id": "c-hills", "name": "Seven Hills Sand", "active": true,
					"patterns": []map[string]any{
						{"id": "p1", "pattern": "007", "priority": 10, "active": true},
						{"id": "p2", "pattern": "(", "isRegex": true, "active": true},
					},
					"rates": []map[string]any{
						{"id": "r1", "ratePerTonne": 25, "effectiveFrom": "2024-01-01", "approvedBy": "ops", "approvedAt": "2024-01-02T09:00:00Z"},
						{"id": "r2", "ratePerTonne": "30.5", "effectiveFrom": "2024-06-01"},
						{"id": "r3", "ratePerTonne": 500, "effectiveFrom": "2022-01-01", "effectiveTo": "2022-12-31"},
					},
				},
				{
					"id": "c-quarry", "name": "Quarry Co", "active": true,
					"patterns": []map[string]any{{"id": "p3", "pattern": "007", "active": true}},
				},
			}, nil)), nil
		}),
	}

	res, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Clients)
	assert.Equal(t, 1, res.Patterns)
	assert.Equal(t, 1, res.Rates)
	// invalid regex, overlapping r2, out-of-range r3, conflicting p3
	assert.Equal(t, 4, res.Skipped)

	snap, err := db.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Clients, 2)
	require.Len(t, snap.Patterns, 1)
	assert.Equal(t, 10, snap.Patterns[0].Priority)
	require.Len(t, snap.Rates, 1)
	assert.True(t, snap.Rates[0].Approved())
	assert.Equal(t, "25", snap.Rates[0].RatePerTonne.String())

	last, err := db.GetMetadata(lastSyncKey)
	require.NoError(t, err)
	require.NotNil(t, last)

	again, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, *last, again.Since)
	assert.Equal(t, 1, again.Patterns, "upserting the same pattern is not a conflict with itself")
	assert.Equal(t, []string{"", *last}, sinceSeen)

	_, err = svc.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "", sinceSeen[2])

	engine := match.NewEngine(snap)
	got := engine.Match("#007")
	require.NotNil(t, got)
	assert.Equal(t, "c-hills", got.ClientID)
}

func TestSyncSkipsLocalNameClash(t *testing.T) {
	db := openTestDB(t)
	a := NewAdmin(db, nil)
	_, err := a.AddClient("Seven Hills Sand")
	require.NoError(t, err)

	svc := NewSyncService(db, testConfig(), nil)
	svc.client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(t, http.StatusOK, page([]map[string]any{
				{"id": "remote-1", "name": "seven hills sand", "active": true},
			}, nil)), nil
		}),
	}

	res, err := svc.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Clients)
	assert.Equal(t, 1, res.Skipped)
}

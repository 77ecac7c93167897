package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weighbridge/internal"
	"weighbridge/internal/sheet"
	"weighbridge/internal/util"
)

var uploadDay = day(2024, 6, 15)

func baseDraft() internal.TicketDraft {
	return internal.TicketDraft{
		RowNumber:    2,
		Layout:       internal.LayoutTabular,
		TicketNumber: txt("tk-1001"),
		Reference:    txt("#007 SAND EX SEVEN HILLS"),
		Status:       txt("Original"),
		NetWeight:    num(20),
		EntryDate:    date(day(2024, 6, 3)),
	}
}

func TestNormalizeTicketNumber(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{" tk-001 ", "TK-001"},
		{"ab#12/3", "AB123"},
		{"12345", "12345"},
		{"t_77_a", "T_77_A"},
	} {
		got, err := NormalizeTicketNumber(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)

		again, err := NormalizeTicketNumber(got)
		require.NoError(t, err)
		assert.Equal(t, got, again, "cleaning is idempotent")
		assert.Equal(t, got, util.CleanTicketNumber(got))
	}

	for _, bad := range []string{"", "   ", "AB", "-AB12", strings.Repeat("9", 21)} {
		_, err := NormalizeTicketNumber(bad)
		var me *MappingError
		require.True(t, errors.As(err, &me), bad)
		assert.Equal(t, "ticket_number", me.Field)
	}
}

func TestSplitReference(t *testing.T) {
	for _, tc := range []struct {
		in         string
		code, note string
	}{
		{"#007 SAND EX SEVEN HILLS", "007", "SAND EX SEVEN HILLS"},
		{"MM1001 GRAVEL FROM QUARRY", "MM1001", "GRAVEL FROM QUARRY"},
		{"TOPPSMM1001 fill", "MM1001", "fill"},
		{"T-202", "T-202", ""},
		{"T-17 back load", "T-17", "back load"},
		{"#141", "141", ""},
		{"RANDOM TEXT", "", "RANDOM TEXT"},
		{"  ", "", ""},
	} {
		code, note := SplitReference(tc.in)
		assert.Equal(t, tc.code, util.DerefString(code), tc.in)
		assert.Equal(t, tc.note, util.DerefString(note), tc.in)
		if tc.code == "" {
			assert.Nil(t, code, tc.in)
		}
		if tc.note == "" {
			assert.Nil(t, note, tc.in)
		}
	}
}

func TestNormalizeStatus(t *testing.T) {
	for in, want := range map[string]internal.TicketStatus{
		"original":   internal.StatusOriginal,
		" Complete ": internal.StatusOriginal,
		"REISSUE":    internal.StatusReprint,
		"duplicate":  internal.StatusReprint,
		"Cancelled":  internal.StatusVoid,
		"void":       internal.StatusVoid,
	} {
		got, ok := NormalizeStatus(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := NormalizeStatus("MAYBE")
	assert.False(t, ok)
}

func TestNormalizeCleanDraft(t *testing.T) {
	d := baseDraft()
	d.GrossWeight = txt("32,500 kg")
	d.TareWeight = num(12500)
	d.Vehicle = txt(" abc 123 ")
	d.ExitDate = txt("03/06/2024")
	d.Raw = map[string]any{"A": "tk-1001"}

	n := Normalizer{BatchID: "b1", UploadDate: uploadDay}
	got, err := n.Normalize(d)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "b1", got.BatchID)
	assert.Equal(t, 2, got.RowNumber)
	assert.Equal(t, "TK-1001", got.TicketNumber)
	assert.Equal(t, "007", *got.Reference)
	assert.Equal(t, "SAND EX SEVEN HILLS", *got.Note)
	assert.Equal(t, internal.StatusOriginal, got.Status)
	assert.Equal(t, 32.5, *got.GrossWeight)
	assert.Equal(t, 12.5, *got.TareWeight)
	assert.Equal(t, 20.0, *got.NetWeight)
	assert.Equal(t, "2024-06-03", got.EntryDate.Format("2006-01-02"))
	assert.Equal(t, "2024-06-03", got.ExitDate.Format("2006-01-02"))
	assert.Equal(t, "ABC 123", *got.Vehicle)
	assert.Equal(t, defaultMaterial, got.Material)
	assert.True(t, got.IsBillable)
	assert.Equal(t, d.Raw, got.Raw)
	assert.Nil(t, got.ClientID)

	second, err := n.Normalize(d)
	require.NoError(t, err)
	assert.NotEqual(t, got.ID, second.ID)
	second.ID = got.ID
	assert.Equal(t, got, second)
}

func TestNormalizeLeavesAbsentFieldsUnset(t *testing.T) {
	d := internal.TicketDraft{RowNumber: 4, TicketNumber: num(50004)}
	got, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, "50004", got.TicketNumber)
	assert.Equal(t, internal.TicketStatus(""), got.Status)
	assert.Nil(t, got.NetWeight)
	assert.Nil(t, got.EntryDate)
	assert.Nil(t, got.Reference)
	assert.Nil(t, got.Note)
}

func TestNormalizeWeights(t *testing.T) {
	for _, tc := range []struct {
		name     string
		cell     sheet.Cell
		inTonnes bool
		want     float64
	}{
		{"tonnes number", num(20), false, 20},
		{"kg by magnitude", num(12500), false, 12.5},
		{"kg suffix", txt("24380 kg"), false, 24.38},
		{"tonne suffix", txt("12.5 T"), false, 12.5},
		{"rounded", num(12.3456), false, 12.346},
		{"pre-converted block weight", num(1.5), true, 1.5},
		{"zero", num(0), false, 0},
	} {
		d := baseDraft()
		d.NetWeight = tc.cell
		d.WeightsInTonnes = tc.inTonnes
		got, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
		require.NoError(t, err, tc.name)
		assert.InDelta(t, tc.want, *got.NetWeight, 1e-9, tc.name)
	}

	for _, tc := range []struct {
		name     string
		cell     sheet.Cell
		inTonnes bool
	}{
		{"above range", txt("250 t"), false},
		{"negative", num(-1), false},
		{"unreadable", txt("heavy"), false},
		{"boolean", sheet.BoolCell(true), false},
		{"block tonnes above range", num(1500), true},
	} {
		d := baseDraft()
		d.NetWeight = tc.cell
		d.WeightsInTonnes = tc.inTonnes
		_, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
		var me *MappingError
		require.True(t, errors.As(err, &me), tc.name)
		assert.Equal(t, "net_weight", me.Field, tc.name)
	}
}

func TestNormalizeEntryDate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cell sheet.Cell
		ok   bool
	}{
		{"30 days before", date(uploadDay.AddDate(0, 0, -30)), true},
		{"30 days after", date(uploadDay.AddDate(0, 0, 30)), true},
		{"31 days before", date(uploadDay.AddDate(0, 0, -31)), false},
		{"31 days after", date(uploadDay.AddDate(0, 0, 31)), false},
		{"32 days after", date(uploadDay.AddDate(0, 0, 32)), false},
		{"excel serial", num(45446), true},
		{"day-first text", txt("03/06/2024"), true},
		{"garbage text", txt("next tuesday"), false},
	} {
		d := baseDraft()
		d.EntryDate = tc.cell
		got, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
		if !tc.ok {
			var me *MappingError
			require.True(t, errors.As(err, &me), tc.name)
			assert.Equal(t, "entry_date", me.Field)
			continue
		}
		require.NoError(t, err, tc.name)
		require.NotNil(t, got.EntryDate)
	}

	d := baseDraft()
	d.EntryDate = num(45446)
	got, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", got.EntryDate.Format("2006-01-02"))
}

func TestNormalizeRejectsUnknownStatus(t *testing.T) {
	d := baseDraft()
	d.Status = txt("MAYBE")
	_, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
	var me *MappingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "status", me.Field)
	assert.Equal(t, `status: unknown status "MAYBE"`, err.Error())
}

func TestNormalizeTruncatesText(t *testing.T) {
	d := baseDraft()
	d.Vehicle = txt(strings.Repeat("x", 60))
	d.Attendant = txt(strings.Repeat("a", 120))
	d.Material = txt(strings.Repeat("m", 150))
	d.EntryTime = txt("07:15")

	got, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("X", 50), *got.Vehicle)
	assert.Len(t, *got.Attendant, 100)
	assert.Len(t, got.Material, 100)
	assert.Equal(t, "07:15", *got.EntryTime)
}

func TestNormalizeVoidIsNotBillable(t *testing.T) {
	d := baseDraft()
	d.Status = txt("cancelled")
	d.NetWeight = num(0)
	got, err := Normalizer{UploadDate: uploadDay}.Normalize(d)
	require.NoError(t, err)
	assert.Equal(t, internal.StatusVoid, got.Status)
	assert.False(t, got.IsBillable)
}

package pipeline

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"weighbridge/internal"
	"weighbridge/internal/sheet"
	"weighbridge/internal/util"
)

const (
	maxVehicleLen   = 50
	maxLicenseLen   = 50
	maxAttendantLen = 100
	maxMaterialLen  = 100
	maxTimeLen      = 20

	minWeightTonnes = 0.0
	maxWeightTonnes = 200.0
	weightPlaces    = 3

	entryDateMaxSkewDays = 30
)

var (
	reTicketNumber = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-_]{2,19}$`)
	reRefHash      = regexp.MustCompile(`^#(\d{1,4})\s*(.*)$`)
	reRefMM        = regexp.MustCompile(`MM\d{1,4}`)
	reRefTopps     = regexp.MustCompile(`^(T-\d{1,4})\s*(.*)$`)
	reLeadingTopps = regexp.MustCompile(`^TOPPS`)
)

var statusSynonyms = map[string]internal.TicketStatus{
	"ORIGINAL":  internal.StatusOriginal,
	"ORIG":      internal.StatusOriginal,
	"NEW":       internal.StatusOriginal,
	"ACTIVE":    internal.StatusOriginal,
	"COMPLETE":  internal.StatusOriginal,
	"COMPLETED": internal.StatusOriginal,
	"REPRINT":   internal.StatusReprint,
	"REISSUE":   internal.StatusReprint,
	"DUPLICATE": internal.StatusReprint,
	"VOID":      internal.StatusVoid,
	"CANCELLED": internal.StatusVoid,
	"CANCELED":  internal.StatusVoid,
	"INVALID":   internal.StatusVoid,
}

// MappingError rejects a draft whose field could not be converted.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return e.Field + ": " + e.Reason
}

func mappingErr(field, format string, args ...any) *MappingError {
	return &MappingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Normalizer converts drafts of one batch into candidate tickets.
type Normalizer struct {
	BatchID    string
	UploadDate time.Time
}

// Normalize returns a *MappingError when a present field cannot be
// converted. Absent status, net weight and entry date are left unset.
func (n Normalizer) Normalize(d internal.TicketDraft) (internal.NormalizedTicket, error) {
	t := internal.NormalizedTicket{
		ID:        uuid.NewString(),
		BatchID:   n.BatchID,
		RowNumber: d.RowNumber,
		Layout:    d.Layout,
		Raw:       d.Raw,
	}

	number, err := NormalizeTicketNumber(d.TicketNumber.String())
	if err != nil {
		return t, err
	}
	t.TicketNumber = number

	t.Reference, t.Note = SplitReference(d.Reference.String())

	if !d.Status.IsEmpty() {
		status, ok := NormalizeStatus(d.Status.String())
		if !ok {
			return t, mappingErr("status", "unknown status %q", d.Status.String())
		}
		t.Status = status
	}

	if t.GrossWeight, err = normalizeWeight("gross_weight", d.GrossWeight, d.WeightsInTonnes); err != nil {
		return t, err
	}
	if t.TareWeight, err = normalizeWeight("tare_weight", d.TareWeight, d.WeightsInTonnes); err != nil {
		return t, err
	}
	if t.NetWeight, err = normalizeWeight("net_weight", d.NetWeight, d.WeightsInTonnes); err != nil {
		return t, err
	}

	if !d.EntryDate.IsEmpty() {
		entry, ok := cellDate(d.EntryDate)
		if !ok {
			return t, mappingErr("entry_date", "unreadable date %q", d.EntryDate.String())
		}
		if skew := util.DaysBetween(n.UploadDate, entry); skew > entryDateMaxSkewDays || skew < -entryDateMaxSkewDays {
			return t, mappingErr("entry_date", "%s is %d days from upload date %s",
				entry.Format(time.DateOnly), skew, util.DateOnly(n.UploadDate).Format(time.DateOnly))
		}
		t.EntryDate = &entry
	}
	if exit, ok := cellDate(d.ExitDate); ok {
		t.ExitDate = &exit
	}

	if v := util.CleanText(d.Vehicle.String()); v != nil {
		t.Vehicle = util.StringPtr(util.Truncate(strings.ToUpper(*v), maxVehicleLen))
	}
	t.License = truncated(d.License, maxLicenseLen)
	t.Attendant = truncated(d.Attendant, maxAttendantLen)
	t.EntryTime = truncated(d.EntryTime, maxTimeLen)
	t.ExitTime = truncated(d.ExitTime, maxTimeLen)

	t.Material = defaultMaterial
	if m := util.CleanText(d.Material.String()); m != nil {
		t.Material = util.Truncate(*m, maxMaterialLen)
	}

	t.IsBillable = t.Status != internal.StatusVoid
	return t, nil
}

// NormalizeTicketNumber cleans raw and checks the ticket number shape.
func NormalizeTicketNumber(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", mappingErr("ticket_number", "ticket number is required")
	}
	cleaned := util.CleanTicketNumber(raw)
	if !reTicketNumber.MatchString(cleaned) {
		return "", mappingErr("ticket_number", "invalid ticket number %q", raw)
	}
	return cleaned, nil
}

// SplitReference separates the structured billing code from the free-text
// note. Either may be nil.
func SplitReference(raw string) (code, note *string) {
	text := util.NormalizeSpaces(raw)
	if text == "" {
		return nil, nil
	}
	if m := reRefHash.FindStringSubmatch(text); m != nil {
		return util.StringPtr(m[1]), util.CleanText(m[2])
	}
	if token := reRefMM.FindString(text); token != "" {
		rest := strings.TrimSpace(strings.ReplaceAll(text, token, ""))
		rest = reLeadingTopps.ReplaceAllString(rest, "")
		return util.StringPtr(token), util.CleanText(rest)
	}
	if m := reRefTopps.FindStringSubmatch(text); m != nil {
		return util.StringPtr(m[1]), util.CleanText(m[2])
	}
	return nil, util.StringPtr(text)
}

func NormalizeStatus(raw string) (internal.TicketStatus, bool) {
	status, ok := statusSynonyms[strings.ToUpper(strings.TrimSpace(raw))]
	return status, ok
}

func normalizeWeight(name string, c sheet.Cell, inTonnes bool) (*float64, error) {
	var (
		value float64
		kg    bool
	)
	switch c.Kind {
	case sheet.Empty:
		return nil, nil
	case sheet.Number:
		value = c.Number
	case sheet.Text:
		if strings.TrimSpace(c.Text) == "" {
			return nil, nil
		}
		v, isKg, ok := util.ParseWeightText(c.Text)
		if !ok {
			return nil, mappingErr(name, "unreadable weight %q", c.Text)
		}
		value, kg = v, isKg
	default:
		return nil, mappingErr(name, "unexpected %s value %q", c.Kind, c.String())
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, mappingErr(name, "weight is not a finite number")
	}
	if !inTonnes {
		value = util.ToTonnes(value, kg)
	}
	if value < minWeightTonnes || value > maxWeightTonnes {
		return nil, mappingErr(name, "%.3f t is outside [%g, %g]", value, minWeightTonnes, maxWeightTonnes)
	}
	return util.FloatPtr(util.Round(value, weightPlaces)), nil
}

// cellDate accepts Date cells, Excel serial numbers and textual dates.
func cellDate(c sheet.Cell) (time.Time, bool) {
	switch c.Kind {
	case sheet.Date:
		return util.DateOnly(c.Date), true
	case sheet.Number:
		return util.ExcelSerialDate(c.Number)
	case sheet.Text:
		return util.ParseDateText(c.Text)
	default:
		return time.Time{}, false
	}
}

func truncated(c sheet.Cell, max int) *string {
	v := util.CleanText(c.String())
	if v == nil {
		return nil
	}
	return util.StringPtr(util.Truncate(*v, max))
}

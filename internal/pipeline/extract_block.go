package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"weighbridge/internal"
	"weighbridge/internal/sheet"
	"weighbridge/internal/util"
)

const (
	defaultMaterial   = "CONST. & DEMO."
	materialScanRows  = 2
	materialMarker    = "CONST"
	kilogramsPerTonne = 1000.0
)

// BlockExtractor reads the per-ticket report layout where each ticket is a
// run of rows starting with a "TICKET #" marker in column A and every value
// sits to the right of its label.
type BlockExtractor struct {
	logger *slog.Logger
}

func (e BlockExtractor) Extract(s *sheet.Sheet) Extraction {
	out := Extraction{Layout: internal.LayoutBlock}
	bounds := blockBoundaries(s)
	for i, start := range bounds {
		end := s.NumRows()
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		draft, status, err := extractBlock(s, start, end)
		if err != nil {
			out.Errors = append(out.Errors, rowParsingError(start+1, s.Cell(start, 1), s.SnapshotRange(start, end), "%v", err))
			continue
		}
		if status == internal.StatusVoid {
			e.logger.Debug("void ticket skipped", "ticket", draft.TicketNumber.String(), "row", start+1)
			continue
		}
		out.Drafts = append(out.Drafts, draft)
	}
	return out
}

func blockBoundaries(s *sheet.Sheet) []int {
	var out []int
	for r := 0; r < s.NumRows(); r++ {
		if isBlockMarker(s.Cell(r, 0)) {
			out = append(out, r)
		}
	}
	return out
}

func extractBlock(s *sheet.Sheet, start, end int) (internal.TicketDraft, internal.TicketStatus, error) {
	d := internal.TicketDraft{
		RowNumber:       start + 1,
		Layout:          internal.LayoutBlock,
		TicketNumber:    s.Cell(start, 1),
		WeightsInTonnes: true,
		Raw:             s.SnapshotRange(start, end),
	}
	if d.TicketNumber.IsEmpty() {
		return d, "", errors.New("ticket block has no ticket number")
	}
	status := blockStatus(s, start)
	d.Status = sheet.TextCell(string(status))

	seen := map[string]bool{}
	for r := start; r < end; r++ {
		row := s.Row(r)
		for c, cell := range row {
			if cell.Kind != sheet.Text {
				continue
			}
			label := util.NormalizeLabel(cell.Text)
			if seen[label] {
				continue
			}
			next := s.Cell(r, c+1)
			switch label {
			case "ATTENDANT:", "ATTENDENT:":
				d.Attendant = next
				seen["ATTENDANT:"], seen["ATTENDENT:"] = true, true
			case "VEHICLE:":
				d.Vehicle = next
			case "LICENSE:":
				d.License = next
			case "REFERENCE:":
				d.Reference = next
			case "ENTER:":
				d.EntryDate = next
				d.EntryTime = clockCell(s.Cell(r, c+2))
			case "EXIT:":
				d.ExitDate = next
				d.ExitTime = clockCell(s.Cell(r, c+2))
			case "GROSS", "TARE", "NET":
				if next.IsEmpty() {
					continue
				}
				kg, ok := next.Float()
				if !ok {
					return d, status, fmt.Errorf("%s value %q is not a number", label, next.String())
				}
				w := sheet.NumberCell(kg / kilogramsPerTonne)
				switch label {
				case "GROSS":
					d.GrossWeight = w
				case "TARE":
					d.TareWeight = w
				default:
					d.NetWeight = w
				}
			default:
				continue
			}
			seen[label] = true
		}
	}

	d.Material = blockMaterial(s, start, end)
	return d, status, nil
}

// blockStatus scans the marker row after the ticket number cell.
func blockStatus(s *sheet.Sheet, start int) internal.TicketStatus {
	row := s.Row(start)
	for c := 2; c < len(row); c++ {
		if strings.Contains(strings.ToUpper(row[c].String()), "VOID") {
			return internal.StatusVoid
		}
	}
	return internal.StatusReprint
}

func blockMaterial(s *sheet.Sheet, start, end int) sheet.Cell {
	for r := start + 1; r <= start+materialScanRows && r < end; r++ {
		for _, cell := range s.Row(r) {
			if cell.Kind == sheet.Text && strings.Contains(strings.ToUpper(cell.Text), materialMarker) {
				return cell
			}
		}
	}
	return sheet.TextCell(defaultMaterial)
}

// clockCell renders numeric time-of-day cells as HH:MM.
func clockCell(c sheet.Cell) sheet.Cell {
	if c.Kind == sheet.Number {
		return sheet.TextCell(util.ClockFromFraction(c.Number))
	}
	return c
}

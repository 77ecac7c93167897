package pipeline

import (
	"weighbridge/internal"
	"weighbridge/internal/sheet"
	"weighbridge/internal/util"
)

const (
	detectSampleRows   = 20
	blockMarker        = "TICKET #"
	blockMarkerMinHits = 2
)

type DetectResult struct {
	Layout     internal.Layout
	MarkerHits int
}

// DetectLayout samples column A of the leading rows; repeated "TICKET #"
// markers mean the per-ticket block export, anything else is a table.
func DetectLayout(s *sheet.Sheet) DetectResult {
	hits := 0
	for r := 0; r < min(detectSampleRows, s.NumRows()); r++ {
		if isBlockMarker(s.Cell(r, 0)) {
			hits++
		}
	}
	if hits >= blockMarkerMinHits {
		return DetectResult{Layout: internal.LayoutBlock, MarkerHits: hits}
	}
	return DetectResult{Layout: internal.LayoutTabular, MarkerHits: hits}
}

func isBlockMarker(c sheet.Cell) bool {
	return c.Kind == sheet.Text && util.NormalizeLabel(c.Text) == blockMarker
}

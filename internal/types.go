package internal

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"weighbridge/internal/sheet"
)

type TicketStatus string

const (
	StatusOriginal TicketStatus = "ORIGINAL"
	StatusReprint  TicketStatus = "REPRINT"
	StatusVoid     TicketStatus = "VOID"
)

func (s TicketStatus) Valid() bool {
	return s == StatusOriginal || s == StatusReprint || s == StatusVoid
}

type Layout string

const (
	LayoutTabular Layout = "tabular"
	LayoutBlock   Layout = "block"
)

type ErrorType string

const (
	ErrFile       ErrorType = "FileError"
	ErrRowParsing ErrorType = "RowParsingError"
	ErrMapping    ErrorType = "MappingError"
	ErrValidation ErrorType = "ValidationError"
	ErrDuplicate  ErrorType = "DuplicateError"
)

// TicketDraft is one extracted unit before normalization. Empty cells mean
// the field was not present in the sheet.
type TicketDraft struct {
	RowNumber int
	Layout    Layout

	TicketNumber sheet.Cell
	Reference    sheet.Cell
	Status       sheet.Cell
	GrossWeight  sheet.Cell
	TareWeight   sheet.Cell
	NetWeight    sheet.Cell
	Vehicle      sheet.Cell
	License      sheet.Cell
	EntryDate    sheet.Cell
	EntryTime    sheet.Cell
	ExitDate     sheet.Cell
	ExitTime     sheet.Cell
	Material     sheet.Cell
	Attendant    sheet.Cell

	// Weights already converted to tonnes by the extractor.
	WeightsInTonnes bool

	Raw map[string]any
}

type NormalizedTicket struct {
	ID        string
	BatchID   string
	RowNumber int
	Layout    Layout

	TicketNumber string
	Reference    *string
	Note         *string
	Vehicle      *string
	License      *string
	GrossWeight  *float64
	TareWeight   *float64
	NetWeight    *float64
	Status       TicketStatus
	EntryDate    *time.Time
	EntryTime    *string
	ExitDate     *time.Time
	ExitTime     *string
	Material     string
	Attendant    *string
	IsBillable   bool

	ClientID       *string
	ClientName     *string
	MatchedPattern *string
	MatchType      *MatchType
	Confidence     float64
	RatePerTonne   *decimal.Decimal

	Raw map[string]any
}

type ErrorRecord struct {
	ID           string
	BatchID      string
	TicketNumber *string
	RowNumber    int
	Type         ErrorType
	Message      string
	Raw          map[string]any
	CreatedAt    time.Time
}

type Client struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchPrefix MatchType = "prefix"
	MatchRegex  MatchType = "regex"
	MatchFuzzy  MatchType = "fuzzy"
)

type PatternKind int

const (
	KindExact PatternKind = iota
	KindPrefix
	KindRegex
	KindFuzzy
)

type ReferencePattern struct {
	ID        string
	ClientID  string
	Pattern   string
	IsRegex   bool
	IsFuzzy   bool
	Priority  int
	Active    bool
	CreatedAt time.Time
}

func (p ReferencePattern) Kind() PatternKind {
	switch {
	case p.IsRegex:
		return KindRegex
	case p.IsFuzzy:
		return KindFuzzy
	case strings.HasSuffix(p.Pattern, "*"):
		return KindPrefix
	default:
		return KindExact
	}
}

// Plain reports a pattern that is neither regex nor fuzzy.
func (p ReferencePattern) Plain() bool {
	return !p.IsRegex && !p.IsFuzzy
}

type RateRecord struct {
	ID            string
	ClientID      string
	RatePerTonne  decimal.Decimal
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	ApprovedBy    *string
	ApprovedAt    *time.Time
	Notes         *string
	CreatedAt     time.Time
}

func (r RateRecord) Approved() bool {
	return r.ApprovedBy != nil
}

// CatalogSnapshot is one consistent read of clients, patterns and rates.
type CatalogSnapshot struct {
	Clients  []Client
	Patterns []ReferencePattern
	Rates    []RateRecord
	TakenAt  time.Time
}

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchValidating BatchStatus = "validating"
	BatchReady      BatchStatus = "ready"
	BatchError      BatchStatus = "error"
)

type BatchStats struct {
	TicketsParsed      int    `json:"tickets_parsed"`
	TicketsValid       int    `json:"tickets_valid"`
	TicketsInvalid     int    `json:"tickets_invalid"`
	DuplicatesDetected int    `json:"duplicates_detected"`
	Matched            int    `json:"matched"`
	Unmatched          int    `json:"unmatched"`
	ParsingErrors      int    `json:"parsing_errors"`
	MappingErrors      int    `json:"mapping_errors"`
	ValidationErrors   int    `json:"validation_errors"`
	ParsedAt           string `json:"parsed_at,omitempty"`
	DurationMs         int64  `json:"duration_ms"`
}

type Batch struct {
	ID          string
	SourceFile  string
	FileHash    string
	UploadDate  time.Time
	Layout      Layout
	Status      BatchStatus
	ErrorReason *string
	Stats       BatchStats
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"weighbridge/internal"
	"weighbridge/internal/match"
	"weighbridge/internal/pipeline"
	"weighbridge/internal/rates"
	"weighbridge/internal/util"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printIngestResults(results []pipeline.BatchResult) {
	tw := newTable()
	tw.AppendHeader(table.Row{"File", "Batch", "Status", "Layout", "Parsed", "Valid", "Invalid", "Dup", "Matched", "Unmatched", "Error"})
	for _, res := range results {
		b := res.Batch
		msg := ""
		switch {
		case res.Err != nil:
			msg = res.Err.Error()
		case b.ErrorReason != nil:
			msg = *b.ErrorReason
		}
		s := b.Stats
		tw.AppendRow(table.Row{res.Path, b.ID, b.Status, b.Layout, s.TicketsParsed, s.TicketsValid, s.TicketsInvalid,
			s.DuplicatesDetected, s.Matched, s.Unmatched, util.Truncate(msg, 60)})
	}
	tw.Render()
}

func printBatches(batches []internal.Batch) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Batch", "File", "Upload", "Status", "Layout", "Parsed", "Valid", "Invalid", "Matched", "Created"})
	for _, b := range batches {
		s := b.Stats
		tw.AppendRow(table.Row{b.ID, b.SourceFile, b.UploadDate.Format(time.DateOnly), b.Status, b.Layout,
			s.TicketsParsed, s.TicketsValid, s.TicketsInvalid, s.Matched, b.CreatedAt.Format(time.RFC3339)})
	}
	tw.Render()
}

func printErrors(errs []internal.ErrorRecord) {
	if len(errs) == 0 {
		fmt.Println("no errors")
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Row", "Ticket", "Type", "Message"})
	for _, e := range errs {
		tw.AppendRow(table.Row{e.RowNumber, util.DerefString(e.TicketNumber), e.Type, e.Message})
	}
	tw.Render()
}

func printClients(clients []internal.Client) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Active"})
	for _, c := range clients {
		tw.AppendRow(table.Row{c.ID, c.Name, c.Active})
	}
	tw.Render()
}

func printPatternConflicts(conflicts []match.Conflict) {
	if len(conflicts) == 0 {
		fmt.Println("no conflicts")
		return
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Type", "Pattern", "Client"})
	for _, c := range conflicts {
		tw.AppendRow(table.Row{c.Type, c.Existing.Pattern, c.ClientName})
	}
	tw.Render()
}

func printRates(records []internal.RateRecord) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Rate/t", "From", "To", "Approved by", "Notes"})
	for _, r := range records {
		to := "open"
		if r.EffectiveTo != nil {
			to = r.EffectiveTo.Format(time.DateOnly)
		}
		approver := "pending"
		if r.Approved() {
			approver = *r.ApprovedBy
		}
		tw.AppendRow(table.Row{r.ID, r.RatePerTonne.StringFixed(2), r.EffectiveFrom.Format(time.DateOnly), to, approver, util.DerefString(r.Notes)})
	}
	tw.Render()
}

func printRateStats(s rates.Stats) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Total", "Approved", "Pending", "Min", "Max", "Average"})
	tw.AppendRow(table.Row{s.Total, s.Approved, s.Pending, s.Min.StringFixed(2), s.Max.StringFixed(2), s.Average.StringFixed(2)})
	tw.Render()
}

func printCandidates(ref string, cands []match.Candidate) {
	if len(cands) == 0 {
		fmt.Printf("%s: no match\n", ref)
		return
	}
	tw := newTable()
	tw.SetTitle(ref)
	tw.AppendHeader(table.Row{"Client", "Pattern", "Type", "Priority", "Confidence"})
	for _, c := range cands {
		tw.AppendRow(table.Row{c.ClientName, c.Pattern, c.Type, c.Priority, fmt.Sprintf("%.2f", c.Confidence)})
	}
	tw.Render()
}

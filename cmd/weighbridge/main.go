package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"weighbridge/internal"
	"weighbridge/internal/catalog"
	"weighbridge/internal/config"
	"weighbridge/internal/logging"
	"weighbridge/internal/match"
	"weighbridge/internal/pipeline"
	"weighbridge/internal/rates"
	"weighbridge/internal/storage"
	"weighbridge/internal/util"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	admin := catalog.NewAdmin(db, logger)

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "ingest":
		date := fs.String("date", "", "upload date, "+cfg.UploadDateFormat+" (default today)")
		allowDup := fs.Bool("allow-duplicate", false, "ingest files already seen")
		export := fs.Bool("export", false, "write an xlsx per processed batch to OUTPUT_DIR")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() == 0 {
			must(errors.New("at least one workbook path is required"))
		}
		uploadDate := time.Now().UTC()
		if strings.TrimSpace(*date) != "" {
			uploadDate, err = time.Parse(cfg.UploadDateFormat, *date)
			must(err)
		}

		proc := pipeline.NewProcessor(db, cfg, logger)
		results, err := proc.ProcessFiles(ctx, fs.Args(), uploadDate, pipeline.ProcessOptions{AllowDuplicate: *allowDup})
		printIngestResults(results)
		must(err)
		if *export {
			for _, res := range results {
				if res.Err != nil || res.Batch.Status != internal.BatchReady {
					continue
				}
				out := filepath.Join(cfg.OutputDir, res.Batch.ID+".xlsx")
				must(exportBatch(db, res.Batch.ID, out))
				fmt.Printf("exported batch %s to %s\n", res.Batch.ID, out)
			}
		}
		for _, res := range results {
			if res.Err != nil {
				os.Exit(2)
			}
		}
	case "batch:show":
		id := fs.String("id", "", "batch id (lists recent batches when empty)")
		limit := fs.Int("limit", 20, "batches to list")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*id) == "" {
			batches, err := db.ListBatches(*limit)
			must(err)
			printBatches(batches)
			return
		}
		batch, err := db.GetBatch(*id)
		must(err)
		if batch == nil {
			must(fmt.Errorf("batch %s not found", *id))
		}
		errs, err := db.ListErrors(batch.ID)
		must(err)
		printBatches([]internal.Batch{*batch})
		printErrors(errs)
	case "export:xlsx":
		batchID := fs.String("batch", "", "batch id")
		out := fs.String("out", "", "output xlsx path (default OUTPUT_DIR/<batch>.xlsx)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*batchID) == "" {
			must(errors.New("--batch is required"))
		}
		path := *out
		if strings.TrimSpace(path) == "" {
			path = filepath.Join(cfg.OutputDir, *batchID+".xlsx")
		}
		must(exportBatch(db, *batchID, path))
		fmt.Printf("exported batch %s to %s\n", *batchID, path)
	case "client:add":
		name := fs.String("name", "", "client name")
		_ = fs.Parse(os.Args[2:])
		c, err := admin.AddClient(*name)
		must(err)
		fmt.Printf("client added id=%s name=%s\n", c.ID, c.Name)
	case "client:list":
		_ = fs.Parse(os.Args[2:])
		clients, err := db.ListClients()
		must(err)
		printClients(clients)
	case "pattern:add", "pattern:conflicts":
		client := fs.String("client", "", "client id or name")
		pattern := fs.String("pattern", "", "reference pattern; trailing * for prefix")
		isRegex := fs.Bool("regex", false, "pattern is a regular expression")
		isFuzzy := fs.Bool("fuzzy", false, "pattern is matched by similarity")
		priority := fs.Int("priority", match.DefaultPriority, "lower wins among equal matches")
		_ = fs.Parse(os.Args[2:])
		c, err := admin.ResolveClient(*client)
		must(err)
		p := internal.ReferencePattern{ClientID: c.ID, Pattern: *pattern, IsRegex: *isRegex, IsFuzzy: *isFuzzy, Priority: *priority}
		if cmd == "pattern:conflicts" {
			conflicts, err := admin.PatternConflicts(p)
			must(err)
			printPatternConflicts(conflicts)
			return
		}
		p, err = admin.AddPattern(p)
		must(err)
		fmt.Printf("pattern added id=%s client=%s pattern=%s\n", p.ID, c.Name, p.Pattern)
	case "rate:add":
		client := fs.String("client", "", "client id or name")
		value := fs.String("rate", "", "rate per tonne")
		from := fs.String("from", "", "effective from date")
		to := fs.String("to", "", "effective to date (open-ended when empty)")
		approveBy := fs.String("approve-by", "", "approve on creation")
		notes := fs.String("notes", "", "free text")
		_ = fs.Parse(os.Args[2:])
		c, err := admin.ResolveClient(*client)
		must(err)
		r := internal.RateRecord{
			ClientID:      c.ID,
			RatePerTonne:  mustDecimal(*value),
			EffectiveFrom: mustDate("from", *from),
			EffectiveTo:   optionalDate("to", *to),
			Notes:         util.CleanText(*notes),
		}
		r, err = admin.AddRate(r, *approveBy)
		must(err)
		printRates([]internal.RateRecord{r})
	case "rate:update":
		id := fs.String("id", "", "rate id")
		value := fs.String("rate", "", "rate per tonne")
		from := fs.String("from", "", "effective from date")
		to := fs.String("to", "", "effective to date")
		openEnded := fs.Bool("open-ended", false, "clear the effective to date")
		notes := fs.String("notes", "", "free text")
		_ = fs.Parse(os.Args[2:])
		var change catalog.RateChange
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "rate":
				v := mustDecimal(*value)
				change.RatePerTonne = &v
			case "from":
				v := mustDate("from", *from)
				change.EffectiveFrom = &v
			case "to":
				change.EffectiveTo = optionalDate("to", *to)
			case "notes":
				change.Notes = notes
			}
		})
		change.OpenEnded = *openEnded
		r, err := admin.UpdateRate(*id, change)
		must(err)
		printRates([]internal.RateRecord{r})
	case "rate:approve":
		id := fs.String("id", "", "rate id")
		by := fs.String("by", "", "approver")
		_ = fs.Parse(os.Args[2:])
		r, err := admin.ApproveRate(*id, *by)
		must(err)
		printRates([]internal.RateRecord{r})
	case "rate:delete":
		id := fs.String("id", "", "rate id")
		_ = fs.Parse(os.Args[2:])
		must(admin.DeleteRate(*id))
		fmt.Printf("rate deleted id=%s\n", *id)
	case "rate:list":
		client := fs.String("client", "", "client id or name")
		_ = fs.Parse(os.Args[2:])
		c, err := admin.ResolveClient(*client)
		must(err)
		records, err := db.ListRates(c.ID)
		must(err)
		printRates(rates.History(records, c.ID))
	case "rate:effective":
		client := fs.String("client", "", "client id or name")
		date := fs.String("date", "", "day to resolve (default today)")
		_ = fs.Parse(os.Args[2:])
		c, err := admin.ResolveClient(*client)
		must(err)
		day := util.DateOnly(time.Now().UTC())
		if strings.TrimSpace(*date) != "" {
			day = mustDate("date", *date)
		}
		records, err := db.ListRates(c.ID)
		must(err)
		r := rates.Effective(records, c.ID, day)
		if r == nil {
			fmt.Printf("no approved rate for %s on %s\n", c.Name, day.Format(time.DateOnly))
			return
		}
		printRates([]internal.RateRecord{*r})
	case "rate:conflicts":
		client := fs.String("client", "", "client id or name")
		from := fs.String("from", "", "effective from date")
		to := fs.String("to", "", "effective to date (open-ended when empty)")
		_ = fs.Parse(os.Args[2:])
		c, err := admin.ResolveClient(*client)
		must(err)
		conflicts, err := admin.RateConflicts(c.ID, mustDate("from", *from), optionalDate("to", *to))
		must(err)
		if len(conflicts) == 0 {
			fmt.Println("no overlapping rates")
			return
		}
		printRates(conflicts)
	case "rate:stats":
		client := fs.String("client", "", "client id or name (all clients when empty)")
		_ = fs.Parse(os.Args[2:])
		var records []internal.RateRecord
		if strings.TrimSpace(*client) == "" {
			snap, err := db.Snapshot()
			must(err)
			records = snap.Rates
		} else {
			c, err := admin.ResolveClient(*client)
			must(err)
			records, err = db.ListRates(c.ID)
			must(err)
		}
		printRateStats(rates.Summarize(records))
	case "match":
		all := fs.Bool("all", false, "list every candidate, not just the winner")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() == 0 {
			must(errors.New("at least one reference is required"))
		}
		snap, err := db.Snapshot()
		must(err)
		engine := match.NewEngine(snap)
		for _, ref := range fs.Args() {
			if *all {
				printCandidates(ref, engine.MatchAll(ref))
				continue
			}
			var cands []match.Candidate
			if best := engine.Match(ref); best != nil {
				cands = append(cands, *best)
			}
			printCandidates(ref, cands)
		}
	case "catalog:import":
		file := fs.String("file", cfg.CatalogFile, "catalog yaml")
		_ = fs.Parse(os.Args[2:])
		f, err := catalog.LoadFile(*file)
		must(err)
		res, err := admin.Import(f)
		fmt.Printf("catalog import clients=%d patterns=%d (skipped %d) rates=%d (skipped %d)\n",
			res.ClientsCreated, res.PatternsAdded, res.PatternsSkipped, res.RatesAdded, res.RatesSkipped)
		must(err)
	case "catalog:sync":
		full := fs.Bool("full", false, "ignore the last sync time")
		_ = fs.Parse(os.Args[2:])
		must(cfg.Require("CATALOG_API_BASE_URL", cfg.CatalogAPIBaseURL))
		svc := catalog.NewSyncService(db, cfg, logger)
		res, err := svc.Sync(ctx, *full)
		must(err)
		fmt.Printf("catalog sync complete clients=%d patterns=%d rates=%d skipped=%d\n", res.Clients, res.Patterns, res.Rates, res.Skipped)
	default:
		usage()
		os.Exit(1)
	}
}

func exportBatch(db *storage.DB, batchID, out string) error {
	batch, err := db.GetBatch(batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("batch %s not found", batchID)
	}
	tickets, err := db.ListTickets(batchID)
	if err != nil {
		return err
	}
	errs, err := db.ListErrors(batchID)
	if err != nil {
		return err
	}
	return pipeline.ExportBatchXLSX(tickets, errs, out)
}

func mustDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		must(fmt.Errorf("--rate %q: %w", v, err))
	}
	return d
}

func mustDate(name, v string) time.Time {
	d, ok := util.ParseDateText(v)
	if !ok {
		must(fmt.Errorf("--%s %q is not a date", name, v))
	}
	return d
}

func optionalDate(name, v string) *time.Time {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d := mustDate(name, v)
	return &d
}

func usage() {
	fmt.Println("usage: weighbridge <command>")
	fmt.Println("commands:")
	fmt.Println("  ingest [--date=2024-06-15] [--allow-duplicate] [--export] file.xlsx...")
	fmt.Println("  batch:show [--id=...] [--limit=20]")
	fmt.Println("  export:xlsx --batch=... [--out=./out/batch.xlsx]")
	fmt.Println("  client:add --name=...")
	fmt.Println("  client:list")
	fmt.Println("  pattern:add --client=... --pattern=... [--regex|--fuzzy] [--priority=100]")
	fmt.Println("  pattern:conflicts --client=... --pattern=... [--regex|--fuzzy]")
	fmt.Println("  rate:add --client=... --rate=27.50 --from=2024-01-01 [--to=...] [--approve-by=...] [--notes=...]")
	fmt.Println("  rate:update --id=... [--rate=...] [--from=...] [--to=...|--open-ended] [--notes=...]")
	fmt.Println("  rate:approve --id=... --by=...")
	fmt.Println("  rate:delete --id=...")
	fmt.Println("  rate:list --client=...")
	fmt.Println("  rate:effective --client=... [--date=...]")
	fmt.Println("  rate:conflicts --client=... --from=... [--to=...]")
	fmt.Println("  rate:stats [--client=...]")
	fmt.Println("  match [--all] reference...")
	fmt.Println("  catalog:import [--file=catalog.yml]")
	fmt.Println("  catalog:sync [--full]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

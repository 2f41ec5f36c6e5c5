package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dvloznov/statement-ledger/internal/app"
	"github.com/dvloznov/statement-ledger/internal/config"
	"github.com/dvloznov/statement-ledger/internal/extract"
	"github.com/dvloznov/statement-ledger/internal/gcs"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
	"github.com/dvloznov/statement-ledger/internal/session"
	"github.com/dvloznov/statement-ledger/internal/tracker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "extract":
		runExtract(os.Args[2:])
	case "dashboard":
		runDashboard(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "categories":
		runCategories(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest      Extract, categorize and merge statements into the workbook")
	fmt.Println("  resume      Continue a stopped ingestion session")
	fmt.Println("  extract     Print the rows extracted from one statement as CSV")
	fmt.Println("  dashboard   Print headline metrics and budget status")
	fmt.Println("  upload      Copy a statement to a local path or gs:// URI")
	fmt.Println("  categories  List the configured categories")
	fmt.Println("  help        Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// setup loads configuration and wires the application.
func setup(configPath string) (context.Context, zerolog.Logger, *app.App) {
	bootLog := logger.New()
	if err := config.LoadEnvFile(); err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithConfig(cfg.Log, os.Stderr)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	return ctx, log, a
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv("LEDGER_CONFIG"), "Path to YAML config file (or set LEDGER_CONFIG env)")
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := configFlag(fs)
	noAI := fs.Bool("no-ai", false, "Extract only and leave categories blank")
	yes := fs.Bool("yes", false, "Save without asking for confirmation")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: cli ingest [options] FILE_OR_GS_URI...")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, log, a := setup(*configPath)
	defer a.Close()

	files := make([]pipeline.FileRef, 0, fs.NArg())
	for _, loc := range fs.Args() {
		files = append(files, pipeline.FileRef{Name: gcs.FileName(loc), Location: loc})
	}

	store := openSessions(log, a)
	st := pipeline.NewState(uuid.NewString(), files)
	if err := st.Confirm(!*noAI, a.Categories); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
	}
	if !*noAI && !a.AI {
		log.Warn().Msg("Categorizing with keyword rules only")
	}

	log.Info().Str("session_id", st.ID).Int("files", len(files)).Msg("Starting ingestion")
	process(ctx, log, a, store, st, *yes)
}

func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := configFlag(fs)
	yes := fs.Bool("yes", false, "Save without asking for confirmation")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: cli resume [options] SESSION_ID")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, log, a := setup(*configPath)
	defer a.Close()

	store := openSessions(log, a)
	st, err := store.Get(ctx, fs.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Str("session_id", fs.Arg(0)).Msg("Failed to load session")
	}
	if st.Step == pipeline.StepReview && !st.Stopped {
		// Finished earlier but never saved.
		process(ctx, log, a, store, st, *yes)
		return
	}
	if err := st.Resume(); err != nil {
		log.Fatal().Err(err).Msg("Session cannot be resumed")
	}
	process(ctx, log, a, store, st, *yes)
}

func openSessions(log zerolog.Logger, a *app.App) *session.FileStore {
	store, err := session.NewFileStore(a.Config.Server.SessionDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	return store
}

// process runs the session, checkpointing every unit. The first Ctrl+C stops
// after the current file or row; a second one aborts.
func process(ctx context.Context, log zerolog.Logger, a *app.App, store session.Store, st pipeline.State, yes bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	job := pipeline.NewJob(st, a.Deps)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		log.Warn().Msg("Stopping after the current item; press Ctrl+C again to abort")
		job.Stop()
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	final, err := pipeline.Run(ctx, job, func(s pipeline.State) error {
		files, rows := s.Pending()
		log.Debug().Int("files_left", files).Int("rows_left", rows).Msg("Checkpoint")
		return store.Save(ctx, s)
	})
	for _, w := range final.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.File, w.Message)
	}
	if errors.Is(err, pipeline.ErrNoUsableData) {
		log.Fatal().Msg("No usable data extracted from any file")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	printBatch(os.Stdout, final)
	if final.Stopped {
		files, rows := final.Pending()
		fmt.Printf("\nStopped with %d file(s) and %d row(s) left. Continue with: cli resume %s\n", files, rows, final.ID)
	}
	if ctx.Err() != nil {
		return
	}

	if !yes && !confirm(os.Stdin, os.Stdout, fmt.Sprintf("Save %d row(s) to %s?", len(final.Batch), a.Tracker.Location())) {
		fmt.Printf("Not saved. Session %s is kept for later.\n", final.ID)
		return
	}

	result, err := a.Tracker.Save(ctx, final.Batch)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save ledger")
	}
	if err := final.MarkSaved(); err != nil {
		log.Fatal().Err(err).Msg("Failed to mark session saved")
	}
	if err := store.Save(ctx, final); err != nil {
		log.Error().Err(err).Msg("Failed to checkpoint saved session")
	}

	if result.Backup != "" {
		fmt.Printf("Unreadable workbook backed up to %s\n", result.Backup)
	}
	fmt.Printf("Saved: %d new record(s), %d total, %d excluded.\n", result.Added, result.Records, result.Excluded)
}

func printBatch(w io.Writer, st pipeline.State) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDATE\tDESCRIPTION\tAMOUNT\tCATEGORY\tFILE")
	for i, r := range st.Batch {
		category := r.Category
		if category == "" {
			category = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, r.Date, r.Description, r.Amount, category, r.SourceFile)
	}
	tw.Flush()
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(sc.Text()))
	return answer == "y" || answer == "yes"
}

func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: cli extract [options] FILE_OR_GS_URI")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, log, a := setup(*configPath)
	defer a.Close()

	location := fs.Arg(0)
	data, err := a.Store.Fetch(ctx, location)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}
	rows, err := a.Deps.Extractor.Extract(ctx, extract.Statement{Name: gcs.FileName(location), Data: data})
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}
	if err := writeRows(os.Stdout, rows); err != nil {
		log.Fatal().Err(err).Msg("Failed to write rows")
	}
	log.Info().Int("rows", len(rows)).Msg("Extraction complete")
}

func writeRows(w io.Writer, rows []ledger.Row) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"date", "description", "amount", "category"})
	for _, r := range rows {
		cw.Write([]string{r.Date, r.Description, r.Amount, r.Category})
	}
	cw.Flush()
	return cw.Error()
}

func runDashboard(args []string) {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Parse(args)

	ctx, log, a := setup(*configPath)
	defer a.Close()

	d, err := a.Tracker.Dashboard(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load dashboard")
	}
	printDashboard(os.Stdout, d)
}

func printDashboard(w io.Writer, d *tracker.Dashboard) {
	if d.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", d.Warning)
	}
	h := d.Headline
	fmt.Fprintln(w, "=== Headline ===")
	fmt.Fprintf(w, "Transactions:      %d over %d month(s)\n", h.Transactions, h.Months)
	fmt.Fprintf(w, "Total spend:       %s\n", h.TotalSpend.StringFixed(2))
	fmt.Fprintf(w, "Average per month: %s\n", h.AveragePerMonth.StringFixed(2))
	if h.TopCategory != "" {
		fmt.Fprintf(w, "Top category:      %s (%s)\n", h.TopCategory, h.TopCategorySpend.StringFixed(2))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "\n=== Breakdown ===")
	for _, s := range d.Breakdown {
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t\n", s.Category, s.Spend.StringFixed(2), s.Percent.StringFixed(1))
	}
	tw.Flush()

	fmt.Fprintln(w, "\n=== Monthly spend ===")
	for _, p := range d.Heartbeat {
		fmt.Fprintf(tw, "%s\t%s\t\n", p.Month, p.Spend.StringFixed(2))
	}
	tw.Flush()

	if len(d.Budget) == 0 || len(d.Months) == 0 {
		return
	}
	fmt.Fprintln(w, "\n=== Budget ===")
	fmt.Fprintf(tw, "Category\tBudget\t%s\t\n", strings.Join(d.Months, "\t"))
	for _, b := range d.Budget {
		cells := make([]string, len(b.Actual))
		for i, v := range b.Actual {
			cells[i] = v.StringFixed(2)
			if b.Over[i] {
				cells[i] += " !"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", b.Category, b.Threshold.StringFixed(2), strings.Join(cells, "\t"))
	}
	tw.Flush()
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := configFlag(fs)
	filePath := fs.String("file", "", "Path to local statement file")
	dest := fs.String("dest", os.Getenv("WATCH_PREFIX"), "Destination directory or gs:// prefix (defaults to WATCH_PREFIX)")
	fs.Parse(args)

	if *filePath == "" || *dest == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli upload -file PATH -dest DIR_OR_GS_PREFIX")
		os.Exit(2)
	}

	ctx, log, a := setup(*configPath)
	defer a.Close()

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}
	location := gcs.Join(*dest, gcs.FileName(*filePath))

	log.Info().Str("file", *filePath).Str("location", location).Msg("Uploading statement")
	if err := a.Store.Put(ctx, location, data, "application/pdf"); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	fmt.Printf("Uploaded %s to %s\n", *filePath, location)
}

func runCategories(args []string) {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Parse(args)

	_, _, a := setup(*configPath)
	defer a.Close()

	for _, c := range a.Categories {
		fmt.Println(c)
	}
	for _, r := range a.Config.Rules {
		fmt.Printf("  rule: %q -> %s\n", r.Keyword, r.Category)
	}
}

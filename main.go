package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/insightdelivered/statement-dashboard/internal/analysis"
	"github.com/insightdelivered/statement-dashboard/internal/api"
	"github.com/insightdelivered/statement-dashboard/internal/config"
	"github.com/insightdelivered/statement-dashboard/internal/extractor"
	"github.com/insightdelivered/statement-dashboard/internal/format"
	"github.com/insightdelivered/statement-dashboard/internal/logger"
	"github.com/insightdelivered/statement-dashboard/internal/mapper"
	"github.com/insightdelivered/statement-dashboard/internal/models"
	"github.com/insightdelivered/statement-dashboard/internal/session"
	"github.com/insightdelivered/statement-dashboard/internal/upload"
	"github.com/insightdelivered/statement-dashboard/internal/writer"
)

func main() {
	// CLI flags
	addrFlag := flag.String("addr", "", "Listen address for the dashboard (overrides LISTEN_ADDR)")
	endpointFlag := flag.String("endpoint", "", "Analysis service upload URL (overrides ANALYSIS_URL)")
	outputFlag := flag.String("output", "", "Output CSV file path (defaults to input filename with .csv extension)")
	headerFlag := flag.Bool("header", true, "Include account metadata header rows in CSV")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	helpFlag := flag.Bool("help", false, "Show usage help")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Bank Statement Analysis Dashboard
by Insight Delivered (QEA AutoLens)

Uploads bank statement PDFs to the analysis service and presents the
account summary, monthly analysis, analytics and charts.

Usage:
  statement-dashboard [flags]                 serve the web dashboard
  statement-dashboard [flags] <input.pdf> ... analyze statements from the command line

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Serve the dashboard on port 9000
  statement-dashboard --addr=:9000

  # Analyze a statement against a remote service
  statement-dashboard --endpoint=https://analysis.example.com/api/accounts/upload/ statement.pdf

  # Analyze several statements, one CSV per file
  statement-dashboard jan.pdf feb.pdf mar.pdf
`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("statement-dashboard v%s\n", api.Version)
		os.Exit(0)
	}

	if *helpFlag {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("Configuration error: %v\n", err)
	}
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}
	if *endpointFlag != "" {
		cfg.AnalysisURL = *endpointFlag
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Configuration error: %v\n", err)
	}

	decimal.MarshalJSONWithoutQuotes = true
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	client := analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisTimeout, log)

	if flag.NArg() == 0 {
		if err := serve(cfg, client, log); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
		return
	}

	inputFiles := flag.Args()
	if *outputFlag != "" && len(inputFiles) > 1 {
		fatalf("--output can only be used with a single input file\n")
	}

	opts := fileOptions{
		validator:     upload.Validator{MaxBytes: cfg.MaxUploadBytes},
		currency:      cfg.CurrencySymbol,
		outputPath:    *outputFlag,
		includeHeader: *headerFlag,
	}
	for _, inputPath := range inputFiles {
		if err := processFile(context.Background(), os.Stdout, client, inputPath, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error processing %s: %v\n", inputPath, err)
			os.Exit(1)
		}
	}
}

func serve(cfg *config.Config, client *analysis.Client, log *logrus.Logger) error {
	h, err := api.NewHandler(api.Options{
		Analyzer:        client,
		Sessions:        session.NewStore(cfg.SessionTTL),
		MaxUploadBytes:  cfg.MaxUploadBytes,
		MaxRequestBytes: cfg.MaxRequestBytes,
		CurrencySymbol:  cfg.CurrencySymbol,
		Limiter:         rate.NewLimiter(rate.Limit(cfg.UploadRate), cfg.UploadBurst),
		Log:             log,
	})
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	app := h.NewApp()

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.ListenAddr,
			"analysis": cfg.AnalysisURL,
		}).Info("dashboard listening")
		errCh <- app.Listen(cfg.ListenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}

type fileOptions struct {
	validator     upload.Validator
	currency      string
	outputPath    string
	includeHeader bool
}

func processFile(ctx context.Context, out io.Writer, client *analysis.Client, inputPath string, opts fileOptions) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file not found: %s", inputPath)
		}
		return err
	}

	name := filepath.Base(inputPath)
	f, err := opts.validator.Validate(name, upload.ContentTypeForName(name), data)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Processing: %s\n", inputPath)

	if report, err := extractor.Inspect(f.Data); err == nil {
		fmt.Fprintf(out, "  Detected %d page(s)\n", report.Pages)
		if !report.HasText {
			fmt.Fprintln(out, "  No text layer found; the analysis service will OCR the scan.")
		}
	}

	resp, err := client.Analyze(ctx, f.Name, f.Data)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	d := mapper.ToDashboard(resp)
	d.FileName = f.Name
	d.AnalyzedAt = time.Now().UTC()
	printSummary(out, d, opts.currency)

	// Determine output path
	outPath := opts.outputPath
	if outPath == "" {
		outPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".csv"
	}
	if err := writeCSV(outPath, d, opts.includeHeader); err != nil {
		return fmt.Errorf("CSV write failed: %w", err)
	}
	fmt.Fprintf(out, "  Output: %s\n", outPath)

	fmt.Fprintln(out, "  Done.")
	return nil
}

func printSummary(out io.Writer, d *models.Dashboard, currency string) {
	a := d.Account
	if a.CustomerName != "" {
		fmt.Fprintf(out, "  Customer: %s\n", a.CustomerName)
	}
	if a.AccountNumber != "" {
		fmt.Fprintf(out, "  Account number: %s\n", a.AccountNumber)
	}
	if a.IBAN != "" {
		fmt.Fprintf(out, "  IBAN: %s\n", a.IBAN)
	}
	if a.FinancialPeriod != "" {
		fmt.Fprintf(out, "  Period: %s\n", a.FinancialPeriod)
	}
	fmt.Fprintf(out, "  Opening balance: %s\n", format.Currency(a.OpeningBalance, currency))
	fmt.Fprintf(out, "  Closing balance: %s\n", format.Currency(a.ClosingBalance, currency))
	fmt.Fprintf(out, "  Transactions: %s across %d month(s)\n", format.Count(a.TotalTransactions), len(d.Months))

	if !d.HasMonths() {
		fmt.Fprintln(out, "  Warning: No monthly analysis returned for this statement.")
		return
	}
	for _, m := range d.Months {
		fmt.Fprintf(out, "    %-8s net %s, fluctuation %s\n", m.Month, format.Currency(m.NetChange, currency), format.Percent(m.Fluctuation))
	}
}

func writeCSV(path string, d *models.Dashboard, includeHeader bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	w := &writer.CSVWriter{IncludeHeader: includeHeader}
	if err := w.Write(f, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fatalf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg, args...)
	os.Exit(1)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/subscription-tracker/cmd/api"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/extract"
	importservice "github.com/FACorreiaa/subscription-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/sniffer"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/detector"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputCSV   = "csv"
)

type detectOptions struct {
	output         string
	catalogPath    string
	maxBytes       int64
	headerRow      int
	mapping        sniffer.ColumnMapping
	detectorConfig detector.Options
}

// candidateRow is the CSV shape of a candidate.
type candidateRow struct {
	Name            string `csv:"name"`
	Provider        string `csv:"provider_id"`
	Category        string `csv:"category"`
	Price           string `csv:"price"`
	Currency        string `csv:"currency"`
	Interval        string `csv:"interval"`
	NextPaymentDate string `csv:"next_payment_date"`
	PaymentMethod   string `csv:"payment_method"`
	NoticeDays      int    `csv:"notice_period_days"`
	Confidence      int    `csv:"confidence"`
	Charges         int    `csv:"charges"`
}

func detectCmd() *cobra.Command {
	opts := detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect <statement>",
		Short: "Detect subscriptions in a statement file",
		Long: `Parse a CSV, XLSX or PDF bank statement and list the recurring charges found in it.
Nothing is stored. Use the column flags when the header names are not recognized.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "output format (table, json, csv)")
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "provider catalog YAML (default: built-in)")
	cmd.Flags().Int64Var(&opts.maxBytes, "max-bytes", 50<<20, "largest file accepted")
	cmd.Flags().IntVar(&opts.headerRow, "header-row", -1, "0-based CSV header line (default: detect)")
	cmd.Flags().StringVar(&opts.mapping.Date, "date-col", "", "header of the date column")
	cmd.Flags().StringVar(&opts.mapping.Description, "description-col", "", "header of the description column")
	cmd.Flags().StringVar(&opts.mapping.Amount, "amount-col", "", "header of the amount column")
	cmd.Flags().StringVar(&opts.mapping.Currency, "currency-col", "", "header of the currency column")
	cmd.Flags().Float64Var(&opts.detectorConfig.AmountTolerance, "tolerance", detector.DefaultAmountTolerance, "max amount spread as a fraction of the mean")
	cmd.Flags().IntVar(&opts.detectorConfig.MinConfidence, "min-confidence", detector.DefaultMinConfidence, "drop candidates scoring below this")

	return cmd
}

func runDetect(cmd *cobra.Command, path string, opts detectOptions) error {
	switch opts.output {
	case outputTable, outputJSON, outputCSV:
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read statement: %w", err)
	}

	cat, err := api.LoadCatalog(opts.catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load provider catalog: %w", err)
	}

	svc := importservice.NewImportService(
		extract.NewPDFExtractor(),
		nil,
		cat,
		nil,
		importservice.Config{MaxUploadBytes: opts.maxBytes, Detection: opts.detectorConfig},
		cliLogger(),
	)

	req := importservice.PreviewRequest{Filename: filepath.Base(path), Data: data}
	if opts.mapping != (sniffer.ColumnMapping{}) {
		req.Mapping = &opts.mapping
	}
	if opts.headerRow >= 0 {
		req.HeaderRowIndex = &opts.headerRow
	}

	preview, err := svc.Preview(cmd.Context(), req)
	if err != nil {
		var extractErr *extract.ExtractionError
		if errors.As(err, &extractErr) {
			return errors.New(extractErr.UserMessage())
		}
		return err
	}

	out := cmd.OutOrStdout()
	switch opts.output {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(preview)
	case outputCSV:
		return writeCSV(out, preview.Candidates)
	default:
		return writeTable(out, preview)
	}
}

func writeTable(out io.Writer, preview *importservice.Preview) error {
	switch preview.Outcome {
	case importservice.OutcomeScanned:
		fmt.Fprintf(out, "%s looks like a scanned document (%d pages, no text layer); nothing to analyse.\n", strings.ToUpper(string(preview.Format)), preview.PageCount)
		return nil
	case importservice.OutcomeMappingRequired:
		fmt.Fprintf(out, "Could not identify columns: %s\n", strings.Join(preview.MissingColumns, ", "))
		fmt.Fprintf(out, "Headers found: %s\n", strings.Join(preview.Headers, " | "))
		fmt.Fprintln(out, "Pass --date-col, --description-col and --amount-col to map them.")
		return nil
	case importservice.OutcomeNoPatterns:
		fmt.Fprintf(out, "No recurring charges found in %d transactions.\n", preview.TransactionsAnalyzed)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRICE\tINTERVAL\tNEXT PAYMENT\tCATEGORY\tCONFIDENCE\tCHARGES")
	for _, c := range preview.Candidates {
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\t%s\t%d%%\t%d\n",
			c.Name, c.Price.StringFixed(2), c.Currency, c.Interval, c.NextPaymentDate, c.Category, c.Confidence, len(c.SourceTransactions))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d candidates from %d transactions", len(preview.Candidates), preview.TransactionsAnalyzed)
	if preview.RowsSkipped > 0 {
		fmt.Fprintf(out, " (%d rows skipped)", preview.RowsSkipped)
	}
	fmt.Fprintln(out)
	return nil
}

func writeCSV(out io.Writer, candidates []detector.Candidate) error {
	rows := make([]candidateRow, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, candidateRow{
			Name:            c.Name,
			Provider:        c.ProviderID,
			Category:        c.Category,
			Price:           c.Price.StringFixed(2),
			Currency:        c.Currency,
			Interval:        string(c.Interval),
			NextPaymentDate: c.NextPaymentDate,
			PaymentMethod:   c.PaymentMethod,
			NoticeDays:      c.NoticePeriodDays,
			Confidence:      c.Confidence,
			Charges:         len(c.SourceTransactions),
		})
	}
	return gocsv.Marshal(&rows, out)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/download"
	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/parser/cfdi"
)

var (
	outputFile   string
	parseIssued  bool
	parseUnpack  bool
	parseTimeout time.Duration
)

var parseCmd = &cobra.Command{
	Use:   "parse [files or directories...]",
	Short: "Extract invoice records from downloaded CFDI documents",
	Long: `Parse stamped CFDI documents on disk into invoice records without
contacting the authority or any ledger. Only income documents produce a
record; payment, credit-note and payroll documents are reported as skipped.

Directories are walked recursively. With --unpack, package archives (.zip)
found in a directory are extracted into it first.

Examples:
  fiscal-sync parse invoice.xml
  fiscal-sync parse downloads/AAA010101AAA/ -f table
  fiscal-sync parse downloads/AAA010101AAA/REQ-1 --unpack -o records.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	parseCmd.Flags().BoolVar(&parseIssued, "issued", false, "Treat documents as issued (recipient is the vendor)")
	parseCmd.Flags().BoolVar(&parseUnpack, "unpack", false, "Extract package archives in directories first")
	parseCmd.Flags().DurationVar(&parseTimeout, "timeout", 5*time.Minute, "Parsing timeout")
}

// ParseResult holds the result of parsing a single file
type ParseResult struct {
	File    string               `json:"file"`
	Invoice *model.InvoiceRecord `json:"invoice,omitempty"`
	Skipped bool                 `json:"skipped,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), parseTimeout)
	defer cancel()

	if parseUnpack {
		if err := unpackDirs(ctx, args); err != nil {
			return err
		}
	}

	files, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to parse")
	}
	printVerbose("Found %d files to parse\n", len(files))

	perspective := cfdi.Received
	if parseIssued {
		perspective = cfdi.Issued
	}
	extractor := cfdi.NewExtractor(cfdi.WithPerspective(perspective))

	results := make([]*ParseResult, 0, len(files))
	for _, file := range files {
		result := &ParseResult{File: file}
		inv, err := extractor.ExtractFile(ctx, file)
		switch {
		case err != nil:
			result.Error = err.Error()
			printVerbose("  %s: %s\n", file, result.Error)
		case inv == nil:
			result.Skipped = true
		default:
			result.Invoice = inv
		}
		results = append(results, result)
	}

	w := os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return renderTo(w, results, func(tw *tabwriter.Writer) { parseTable(tw, results) })
}

func unpackDirs(ctx context.Context, args []string) error {
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			continue
		}
		report, err := download.Unpack(ctx, arg)
		if err != nil {
			return err
		}
		printVerbose("Unpacked %d documents in %s\n", len(report.Files), arg)
		for _, f := range report.Failures {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", f)
		}
	}
	return nil
}

func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("file not found: %s", arg)
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				continue
			}
			if !info.IsDir() {
				files = append(files, match)
				continue
			}
			err = filepath.Walk(match, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && isXMLFile(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return files, nil
}

func isXMLFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

func parseTable(tw *tabwriter.Writer, results []*ParseResult) {
	fmt.Fprintln(tw, "FILE\tUUID\tFOLIO\tDATE\tVENDOR\tSUBTOTAL\tTAX\tTOTAL")
	fmt.Fprintln(tw, "----\t----\t-----\t----\t------\t--------\t---\t-----")

	for _, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(tw, "%s\tERROR: %s\t\t\t\t\t\t\n", r.File, r.Error)
		case r.Skipped:
			fmt.Fprintf(tw, "%s\t(not an income document)\t\t\t\t\t\t\n", r.File)
		default:
			inv := r.Invoice
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.File,
				inv.DocumentID(),
				inv.Folio,
				inv.Date.Format("2006-01-02"),
				inv.VendorName,
				inv.Subtotal().StringFixed(2),
				inv.TaxAmount().StringFixed(2),
				inv.Total.StringFixed(2),
			)
		}
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// tableFunc writes rows to a tabwriter already set up by render
type tableFunc func(tw *tabwriter.Writer)

// render prints v as indented JSON or through table, depending on --format
func render(v interface{}, table tableFunc) error {
	return renderTo(os.Stdout, v, table)
}

func renderTo(w io.Writer, v interface{}, table tableFunc) error {
	switch outputFormat {
	case "json":
		return outputJSON(w, v)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

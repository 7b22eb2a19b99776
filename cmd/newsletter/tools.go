package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/classletter/newsletter-engine/internal/domain"
	"github.com/classletter/newsletter-engine/internal/quality"
	"github.com/classletter/newsletter-engine/internal/sanitize"
)

var (
	sanitizeJSON bool
	scoreJSON    bool
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <file|->",
	Short: "Strip disallowed markup from an HTML fragment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}

		res := sanitize.Sanitize(string(raw), sanitize.PolicyFromConfig(cfg.Sanitizer))
		if sanitizeJSON {
			return writeIndented(cmd.OutOrStdout(), res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.CleanedHTML)
		for _, is := range res.Issues {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", is.Kind, is.Target, is.Description)
		}
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <file|->",
	Short: "Score an HTML document for newsletter quality",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		rep := quality.Score(string(raw))
		if scoreJSON {
			return writeIndented(cmd.OutOrStdout(), rep)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "document size: %s\n", humanize.IBytes(uint64(len(raw))))
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

func init() {
	sanitizeCmd.Flags().BoolVar(&sanitizeJSON, "json", false, "print the result and issues as JSON")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the full report as JSON")
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep domain.QualityReport) {
	fmt.Fprintf(w, "overall: %d\n", rep.OverallScore)
	for _, c := range domain.AllCategories {
		fmt.Fprintf(w, "  %-14s %3d\n", c, rep.CategoryScore(c))
	}
	for _, a := range rep.PriorityActions {
		fmt.Fprintf(w, "! %s\n", a)
	}
	for _, r := range rep.Recommendations {
		fmt.Fprintf(w, "- %s\n", r)
	}
}

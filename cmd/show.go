package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/zjrosen/timeline/internal/capture"
)

// markdownStyle selects the glamour style; "auto" follows the terminal.
// It can be overridden in tests.
var markdownStyle = "auto"

var historyLimit int

var showCmd = &cobra.Command{
	Use:   "show [trace.json | trace.meta.json]",
	Short: "Show a capture summary or the capture history",
	Long: `Show the summary of one capture, or the recent capture history when no
file is given.

Examples:
  timeline show load.json
  timeline show load.meta.json
  timeline show --last 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVarP(&historyLimit, "last", "n", 10, "number of history entries to show")
}

func runShow(cmd *cobra.Command, args []string) error {
	var md string
	if len(args) == 1 {
		path := args[0]
		if !strings.HasSuffix(path, capture.MetadataSuffix) {
			path = capture.MetadataPath(path)
		}
		meta, err := capture.Load(path)
		if err != nil {
			return err
		}
		md = captureMarkdown(meta)
	} else {
		entries, err := capture.ReadHistory(cfg.Trace.OutputDir)
		if err != nil {
			return err
		}
		if historyLimit > 0 && len(entries) > historyLimit {
			entries = entries[len(entries)-historyLimit:]
		}
		md = historyMarkdown(entries)
	}

	out, err := renderMarkdown(md)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), out)
	return err
}

func renderMarkdown(md string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(100)}
	if markdownStyle == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(markdownStyle))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

func captureMarkdown(m *capture.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Capture %s\n\n", m.CaptureID)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", m.Status)
	if m.URL != "" {
		fmt.Fprintf(&b, "| Page | %s |\n", m.URL)
	}
	fmt.Fprintf(&b, "| Trace | %s |\n", m.TracePath)
	fmt.Fprintf(&b, "| Started | %s |\n", m.StartTime.Format(time.RFC3339))
	if d := m.Duration(); d > 0 {
		fmt.Fprintf(&b, "| Duration | %s |\n", d.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "| Size | %s |\n", formatBytes(m.Bytes))
	fmt.Fprintf(&b, "| Screenshots | %t |\n", m.Screenshots)
	if m.Error != "" {
		fmt.Fprintf(&b, "| Error | %s |\n", m.Error)
	}

	if len(m.Categories) > 0 {
		b.WriteString("\n## Categories\n\n")
		for _, c := range m.Categories {
			fmt.Fprintf(&b, "- `%s`\n", c)
		}
	}
	return b.String()
}

func historyMarkdown(entries []capture.Entry) string {
	if len(entries) == 0 {
		return "_No captures recorded yet._\n"
	}
	var b strings.Builder
	b.WriteString("# Capture history\n\n")
	b.WriteString("| Started | Status | Size | Page | Trace |\n|---|---|---|---|---|\n")
	for _, e := range entries {
		c := e.Capture
		page := c.URL
		if page == "" {
			page = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			c.StartTime.Format("2006-01-02 15:04:05"), c.Status, formatBytes(c.Bytes), page, c.TracePath)
	}
	return b.String()
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

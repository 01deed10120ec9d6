// Package display renders run summaries for the CLI: colored tables for
// humans, JSON or YAML for scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"forcebackup/internal/backup"
	"forcebackup/internal/restore"
)

// timeRounding trims sub-millisecond noise from printed durations.
const timeRounding = time.Millisecond

// Format selects the output rendering.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat converts user input into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Renderer writes run summaries to one output stream.
type Renderer struct {
	out    io.Writer
	format Format

	success *color.Color
	warning *color.Color
	failure *color.Color
	header  *color.Color
}

// NewRenderer creates a renderer. Colors are enabled only for table output
// on a terminal, and NO_COLOR always wins.
func NewRenderer(out io.Writer, format Format) *Renderer {
	r := &Renderer{
		out:     out,
		format:  format,
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
		header:  color.New(color.Bold),
	}
	if !colorsEnabled(out) || format != FormatTable {
		r.success.DisableColor()
		r.warning.DisableColor()
		r.failure.DisableColor()
		r.header.DisableColor()
	}
	return r
}

func colorsEnabled(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// BackupSummary renders the outcome of one backup run.
func (r *Renderer) BackupSummary(meta *backup.RunMetadata) error {
	if r.format != FormatTable {
		return r.encode(meta)
	}

	fmt.Fprintf(r.out, "%s %s\n", r.header.Sprint("Backup run"), meta.ID)
	fmt.Fprintf(r.out, "Status: %s\n", r.statusColor(string(meta.Status)))
	if meta.OrgID != "" {
		fmt.Fprintf(r.out, "Org: %s (API %s)\n", meta.OrgID, meta.APIVersion)
	}
	if !meta.CompletedAt.IsZero() {
		fmt.Fprintf(r.out, "Duration: %s\n", meta.CompletedAt.Sub(meta.StartedAt).Round(timeRounding))
	}
	fmt.Fprintln(r.out)

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tRECORDS\tBINARIES\tKEY STRATEGY\tSTATUS")
	objects := append([]backup.ObjectSummary(nil), meta.Objects...)
	sort.Slice(objects, func(i, j int) bool { return objects[i].Object < objects[j].Object })
	for _, obj := range objects {
		status := r.success.Sprint("ok")
		switch {
		case obj.Skipped:
			status = r.warning.Sprint("skipped")
		case obj.Failed():
			status = r.failure.Sprint("failed")
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			obj.Object, obj.Records, obj.Binaries, obj.KeyStrategy, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "\nTotal: %d records", meta.TotalRecords)
	if meta.TotalBinaries > 0 {
		fmt.Fprintf(r.out, ", %d binaries", meta.TotalBinaries)
	}
	fmt.Fprintln(r.out)

	if meta.ArchiveFile != "" {
		fmt.Fprintf(r.out, "Archive: %s (%d bytes, sha256 %s)\n", meta.ArchiveFile, meta.ArchiveSize, shorten(meta.Checksum))
	}
	if meta.StorageLocation != "" {
		fmt.Fprintf(r.out, "Stored at: %s\n", meta.StorageLocation)
	}
	r.printWarnings(meta.Warnings)
	return nil
}

// RestoreSummary renders the outcome of one restore run.
func (r *Renderer) RestoreSummary(result *restore.RunResult) error {
	if r.format != FormatTable {
		return r.encode(result)
	}

	title := "Restore run"
	if result.DryRun {
		title = "Restore dry run"
	}
	fmt.Fprintf(r.out, "%s (%s)\n", r.header.Sprint(title), result.Duration.Round(timeRounding))
	if result.Aborted {
		fmt.Fprintln(r.out, r.failure.Sprint("Run aborted before completion"))
	}
	fmt.Fprintln(r.out)

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tTOTAL\tSUCCEEDED\tFAILED\tDEFERRED\tSTATUS")
	for _, obj := range result.Objects {
		status := r.success.Sprint("ok")
		switch {
		case obj.Skipped:
			status = r.warning.Sprint("skipped")
		case obj.Failed > 0:
			status = r.failure.Sprintf("%d failed", obj.Failed)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			obj.Object, obj.Total, obj.Succeeded, obj.Failed, obj.Deferred, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "\nTotal: %d succeeded, %d failed\n", result.TotalSucceeded(), result.TotalFailed())
	r.printWarnings(result.Warnings())
	return nil
}

// RunList renders stored backup runs, newest first.
func (r *Renderer) RunList(runs []*backup.RunMetadata) error {
	sorted := append([]*backup.RunMetadata(nil), runs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartedAt.After(sorted[j].StartedAt) })

	if r.format != FormatTable {
		return r.encode(sorted)
	}

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tRECORDS\tSIZE")
	for _, run := range sorted {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			r.statusColor(string(run.Status)),
			run.TotalRecords,
			byteSize(run.ArchiveSize))
	}
	return tw.Flush()
}

func (r *Renderer) printWarnings(warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(r.out, "%s %s\n", r.warning.Sprint("warning:"), warning)
	}
}

func (r *Renderer) statusColor(status string) string {
	switch status {
	case string(backup.RunStatusCompleted):
		return r.success.Sprint(status)
	case string(backup.RunStatusFailed):
		return r.failure.Sprint(status)
	default:
		return r.warning.Sprint(status)
	}
}

func (r *Renderer) encode(v interface{}) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("format %s has no encoder", r.format)
}

func shorten(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}

func byteSize(n int64) string {
	switch {
	case n <= 0:
		return "-"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(1024*1024*1024))
	}
}

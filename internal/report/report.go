package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devstatus/internal/domain"
)

// RenderMarkdown renders one group report. Device ids are listed under each
// non-empty label.
func RenderMarkdown(teamName string, r domain.StatusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s device status: %s\n\n", teamName, displayGroup(r.GroupID))
	fmt.Fprintf(&b, "Reference date: %s  \n", r.ReferenceDate)
	fmt.Fprintf(&b, "Thresholds (green/yellow-from/yellow-to days): %s  \n", r.Thresholds)
	fmt.Fprintf(&b, "Devices: %d\n\n", r.Total)

	b.WriteString("| Status | Count | Percentage |\n")
	b.WriteString("|---|---:|---:|\n")
	for _, s := range r.Labels {
		fmt.Fprintf(&b, "| %s | %d | %.2f%% |\n", s.Label, s.Count, s.Percentage)
	}

	for _, s := range r.Labels {
		if s.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", s.Label)
		for _, id := range s.DeviceIDs {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}
	return b.String()
}

func displayGroup(groupID string) string {
	if groupID == "" {
		return "ungrouped"
	}
	return groupID
}

// WriteReportFile writes content to <outputDir>/<group>_<YYYYMMDD>.md.
func WriteReportFile(content, outputDir string, r domain.StatusReport) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%04d%02d%02d.md",
		sanitizeFilename(displayGroup(r.GroupID)), r.ReferenceDate.Year, int(r.ReferenceDate.Month), r.ReferenceDate.Day)
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	return replacer.Replace(s)
}

// FormatSlackSummary renders a compact per-group overview for chat.
func FormatSlackSummary(teamName string, reports []domain.StatusReport) string {
	if len(reports) == 0 {
		return fmt.Sprintf("*%s device status*: no devices to classify.", teamName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s device status* as of %s (thresholds %s)\n",
		teamName, reports[0].ReferenceDate, reports[0].Thresholds)
	for _, r := range reports {
		g := r.Summary(domain.StatusGreen)
		y := r.Summary(domain.StatusYellow)
		red := r.Summary(domain.StatusRed)
		fmt.Fprintf(&b, "• `%s` %d devices: :large_green_circle: %d (%.2f%%)  :large_yellow_circle: %d (%.2f%%)  :red_circle: %d (%.2f%%)\n",
			displayGroup(r.GroupID), r.Total,
			g.Count, g.Percentage, y.Count, y.Percentage, red.Count, red.Percentage)
	}
	return strings.TrimRight(b.String(), "\n")
}

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"en-sniffer.klederson.com/internal/config"
)

// Summary describes one sniffing session.
type Summary struct {
	Duration     time.Duration
	Batches      int
	Observations int
	Rejected     int // Batches refused as malformed
	BadLines     int // Feed input that never became a batch
	Created      int
	Evicted      int
	Flushed      int
	PeakNearby   int

	StrongestRPI  string
	StrongestRSSI int
}

// RenderSummary renders the end-of-session report in a bordered panel of
// the given width.
func RenderSummary(s Summary, width int) string {
	title := StyleTitle.Render(fmt.Sprintf("%s v%s session", config.AppName, config.AppVersion))

	rows := []struct {
		label string
		value string
	}{
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Batches", fmt.Sprint(s.Batches)},
		{"Observations", fmt.Sprint(s.Observations)},
		{"Devices", fmt.Sprint(s.Evicted + s.Flushed)},
		{"Evicted", fmt.Sprint(s.Evicted)},
		{"Flushed", fmt.Sprint(s.Flushed)},
		{"Peak nearby", fmt.Sprint(s.PeakNearby)},
	}

	labelW := 0
	for _, r := range rows {
		labelW = max(labelW, lipgloss.Width(r.label))
	}

	lines := []string{title, ""}
	for _, r := range rows {
		label := r.label + strings.Repeat(" ", labelW-lipgloss.Width(r.label))
		lines = append(lines, StyleLabel.Render(label)+"  "+StyleValue.Render(r.value))
	}

	if s.StrongestRPI != "" {
		lines = append(lines, "", StyleLabel.Render("Strongest")+"  "+
			StyleRPI.Render(s.StrongestRPI)+" "+StyleValue.Render(fmt.Sprintf("%d dBm", s.StrongestRSSI)))
	}
	if s.Rejected > 0 || s.BadLines > 0 {
		lines = append(lines, "", StyleWarning.Render(
			fmt.Sprintf("Rejected %d batches, %d bad input lines", s.Rejected, s.BadLines)))
	}
	if s.Created == 0 {
		lines = append(lines, "", StyleHelp.Render("No beacons seen"))
	}

	content := strings.Join(lines, "\n")
	if width > 4 {
		return StylePanelBorder.Width(width - 2).Render(content)
	}
	return StylePanelBorder.Render(content)
}

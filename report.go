package driftwatch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// DriftReport captures one invocation's classified deltas for the report
// writers. Elements are pre-rendered as strings so both entity kinds share
// one report shape.
type DriftReport struct {
	RunID     string        `json:"run_id"`
	Generated time.Time     `json:"generated"`
	Cycles    []CycleReport `json:"cycles"`
}

// CycleReport is the outcome of one entity kind's diff cycle.
type CycleReport struct {
	Kind     EntityKind `json:"kind"`
	Scope    string     `json:"scope"`
	FirstRun bool       `json:"first_run"`
	Added    []string   `json:"added"`
	Removed  []string   `json:"removed"`
	Current  []string   `json:"current"`
	// Skipped marks a cycle whose observation step failed; its snapshot was
	// left untouched and no deltas were computed.
	Skipped bool `json:"skipped,omitempty"`
}

// renderElements converts a typed element set to the string form used in
// reports.
func renderElements[T any](elems []T) []string {
	out := make([]string, len(elems))
	for i, e := range elems {
		out[i] = fmt.Sprint(e)
	}
	return out
}

// WriteJSONDriftReport writes the report as indented JSON.
func WriteJSONDriftReport(report *DriftReport, filePath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON report: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return nil
}

// WriteCSVDriftReport writes the report as one row per change entry.
func WriteCSVDriftReport(report *DriftReport, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Kind", "Scope", "Change", "Element"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, cycle := range report.Cycles {
		if cycle.Skipped {
			if err := writer.Write([]string{string(cycle.Kind), cycle.Scope, "skipped", ""}); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
			continue
		}
		change := "added"
		if cycle.FirstRun {
			change = "first_observation"
		}
		for _, e := range cycle.Added {
			if err := writer.Write([]string{string(cycle.Kind), cycle.Scope, change, e}); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
		for _, e := range cycle.Removed {
			if err := writer.Write([]string{string(cycle.Kind), cycle.Scope, "removed", e}); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	return nil
}

// WritePDFDriftReport writes the report as a single-page-per-kind PDF.
func WritePDFDriftReport(report *DriftReport, filePath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, "Driftwatch Change Report")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 8, fmt.Sprintf("Run ID: %s", report.RunID))
	pdf.Ln(8)
	pdf.Cell(0, 8, fmt.Sprintf("Generated: %s", report.Generated.Format(time.RFC3339)))
	pdf.Ln(12)

	for i, cycle := range report.Cycles {
		if i > 0 {
			pdf.AddPage()
		}

		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 10, fmt.Sprintf("%s / %s", cycle.Kind, cycle.Scope))
		pdf.Ln(10)

		pdf.SetFont("Arial", "", 10)
		if cycle.Skipped {
			pdf.Cell(0, 8, "Observation failed; snapshot left untouched.")
			pdf.Ln(8)
			continue
		}
		if cycle.FirstRun {
			pdf.Cell(0, 8, "First observation for this entity kind.")
			pdf.Ln(8)
		}

		rows := []struct {
			label    string
			elements []string
		}{
			{"Added", cycle.Added},
			{"Removed", cycle.Removed},
			{"Current", cycle.Current},
		}

		pdf.SetFillColor(240, 240, 240)
		widths := []float64{30, 150}
		for _, h := range []string{"Change", "Elements"} {
			w := widths[0]
			if h == "Elements" {
				w = widths[1]
			}
			pdf.CellFormat(w, 8, h, "1", 0, "", true, 0, "")
		}
		pdf.Ln(8)

		fill := false
		for _, row := range rows {
			value := "(none)"
			if len(row.elements) > 0 {
				value = fmt.Sprintf("%d: %s", len(row.elements), joinLimited(row.elements, 120))
			}
			pdf.CellFormat(widths[0], 8, row.label, "1", 0, "", fill, 0, "")
			pdf.CellFormat(widths[1], 8, value, "1", 0, "", fill, 0, "")
			pdf.Ln(8)
			fill = !fill
		}
	}

	return pdf.OutputFileAndClose(filePath)
}

// joinLimited joins elements with commas, truncating the rendered list so a
// large subnet cannot blow up a PDF table cell.
func joinLimited(elems []string, limit int) string {
	out := ""
	for i, e := range elems {
		next := out
		if i > 0 {
			next += ", "
		}
		next += e
		if len(next) > limit {
			return out + fmt.Sprintf(", ... (%d more)", len(elems)-i)
		}
		out = next
	}
	return out
}

// PrintConsoleSummary outputs a run summary to the console.
func PrintConsoleSummary(report *DriftReport) {
	fmt.Println("\n===================================")
	fmt.Println("     Driftwatch Run Summary")
	fmt.Println("===================================")
	fmt.Printf("Run ID:    %s\n", report.RunID)
	fmt.Printf("Generated: %s\n", report.Generated.Format(time.RFC3339))

	for _, cycle := range report.Cycles {
		fmt.Printf("\n[%s] %s\n", cycle.Kind, cycle.Scope)
		if cycle.Skipped {
			fmt.Println("  - observation failed, cycle skipped")
			continue
		}
		if cycle.FirstRun {
			fmt.Println("  - first observation")
		}
		fmt.Printf("  - added:   %s\n", strconv.Itoa(len(cycle.Added)))
		fmt.Printf("  - removed: %s\n", strconv.Itoa(len(cycle.Removed)))
		fmt.Printf("  - current: %s\n", strconv.Itoa(len(cycle.Current)))
	}
	fmt.Println("\n===================================")
}

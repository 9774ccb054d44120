package scheduleopt

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/transitopt/transitopt/internal/feed"
)

// Report sheet names.
const (
	SummarySheet     = "Summary"
	AssignmentsSheet = "Assignments"
)

var assignmentHeaders = []string{
	"Route", "Period", "Start", "End", "Vehicles", "Headway (min)",
	"Demand (pax/h)", "Capacity (pax/h)", "Expected wait (min)",
}

// WriteReport renders the schedule as an XLSX workbook with a summary sheet
// and one row per assignment.
func WriteReport(w io.Writer, sched *Schedule) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := writeSummary(f, sched, header); err != nil {
		return err
	}
	if err := writeAssignments(f, sched, header); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, sched *Schedule, header int) error {
	index, err := f.NewSheet(SummarySheet)
	if err != nil {
		return fmt.Errorf("creating sheet %s: %w", SummarySheet, err)
	}
	f.SetActiveSheet(index)

	rows := [][]any{
		{"Metric", "Value"},
		{"Peak vehicles in service", sched.TotalVehicles},
		{"Max fleet size", sched.MaxFleetSize},
		{"Fleet utilization (%)", round2(sched.FleetUtilization * 100)},
		{"Capacity utilization (%)", round2(sched.CapacityUtilization * 100)},
		{"Objective", round2(sched.Objective)},
		{"Vehicles removed by repair", sched.Repairs},
	}
	for _, p := range sched.Periods {
		rows = append(rows, []any{"Vehicles in " + p.Name, sched.VehiclesByPeriod[p.Name]})
	}

	if err := setRows(f, SummarySheet, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(SummarySheet, 1, 1, header); err != nil {
		return fmt.Errorf("styling %s: %w", SummarySheet, err)
	}
	return f.SetColWidth(SummarySheet, "A", "A", 30)
}

func writeAssignments(f *excelize.File, sched *Schedule, header int) error {
	if _, err := f.NewSheet(AssignmentsSheet); err != nil {
		return fmt.Errorf("creating sheet %s: %w", AssignmentsSheet, err)
	}

	rows := make([][]any, 0, len(sched.Assignments)+1)
	head := make([]any, len(assignmentHeaders))
	for i, h := range assignmentHeaders {
		head[i] = h
	}
	rows = append(rows, head)
	for _, a := range sched.Assignments {
		rows = append(rows, []any{
			a.RouteID, a.Period,
			feed.FormatClock(a.PeriodStart), feed.FormatClock(a.PeriodEnd),
			a.Vehicles,
			round2(a.Headway.Minutes()),
			round2(a.Demand), round2(a.Capacity),
			round2(a.ExpectedWait.Minutes()),
		})
	}

	if err := setRows(f, AssignmentsSheet, rows); err != nil {
		return err
	}
	if err := f.SetRowStyle(AssignmentsSheet, 1, 1, header); err != nil {
		return fmt.Errorf("styling %s: %w", AssignmentsSheet, err)
	}
	last, _ := excelize.ColumnNumberToName(len(assignmentHeaders))
	return f.SetColWidth(AssignmentsSheet, "A", last, 16)
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("writing %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ReportFilename names the workbook for a schedule generated at t.
func ReportFilename(t time.Time) string {
	return "schedule-" + t.UTC().Format("20060102-150405") + ".xlsx"
}

package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ExportData is the JSON form of a run.
type ExportData struct {
	Metadata RunMetadata      `json:"metadata"`
	Tables   map[string]Table `json:"tables"`
}

func exportData(rec *Record) ExportData {
	data := ExportData{Metadata: rec.Metadata, Tables: make(map[string]Table, len(rec.Tables))}
	for _, t := range rec.Tables {
		data.Tables[t.Name] = t
	}
	return data
}

func writeJSON(w io.Writer, rec *Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exportData(rec))
}

func ExportJSON(path string, rec *Record) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(file, rec); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ExportJSONStdout(rec *Record) error {
	return writeJSON(os.Stdout, rec)
}

const metadataSheet = "metadata"

// ExportXLSX writes a workbook with a metadata sheet followed by one sheet
// per table. Numeric cells are stored as numbers.
func ExportXLSX(path string, rec *Record) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#2E75B6"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	idx, err := f.NewSheet(metadataSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	if err := writeSheet(f, metadataSheet, metadataTable(rec.Metadata), header); err != nil {
		return err
	}

	for _, t := range rec.Tables {
		if _, err := f.NewSheet(t.Name); err != nil {
			return err
		}
		if err := writeSheet(f, t.Name, t, header); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeSheet(f *excelize.File, sheet string, t Table, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &t.Header); err != nil {
		return err
	}
	if len(t.Header) > 0 {
		last, err := excelize.CoordinatesToCellName(len(t.Header), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return err
		}
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			if x, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(x) && !math.IsInf(x, 0) {
				values[j] = x
			} else {
				values[j] = v
			}
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func metadataTable(m RunMetadata) Table {
	t := Table{Name: metadataSheet, Header: []string{"key", "value"}}
	add := func(k, v string) { t.Rows = append(t.Rows, []string{k, v}) }
	add("id", m.ID)
	add("study", m.Study)
	add("timestamp", m.Timestamp.Format("2006-01-02 15:04:05"))
	add("dataset", m.Dataset)
	add("rows", strconv.Itoa(m.Rows))
	if len(m.Normalizers) > 0 {
		add("normalizers", strings.Join(m.Normalizers, "; "))
	}
	for _, mm := range m.Models {
		add(mm.Response+" formula", mm.Formula)
		add(mm.Response+" method", mm.Method)
		add(mm.Response+" criterion", strconv.FormatFloat(mm.Criterion, 'g', 8, 64))
		add(mm.Response+" sigma", strconv.FormatFloat(mm.Sigma, 'g', 8, 64))
		add(mm.Response+" converged", strconv.FormatBool(mm.Converged))
		add(mm.Response+" singular", strconv.FormatBool(mm.Singular))
	}
	return t
}

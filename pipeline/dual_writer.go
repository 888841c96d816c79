package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-shop-tracker/models"
)

// DualWriter exports to CSV and JSONL at the same time.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates both writers.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes items to both outputs.
func (dw *DualWriter) Write(items []models.Item) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(items); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.jsonWriter.Write(items); err != nil {
		return fmt.Errorf("json write: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var closeErrs []error
	if err := dw.csvWriter.Close(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("csv close: %w", err))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		closeErrs = append(closeErrs, fmt.Errorf("json close: %w", err))
	}
	return errors.Join(closeErrs...)
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	var validateErrs []error
	if err := dw.csvWriter.Validate(); err != nil {
		validateErrs = append(validateErrs, fmt.Errorf("csv validation: %w", err))
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		validateErrs = append(validateErrs, fmt.Errorf("json validation: %w", err))
	}
	return errors.Join(validateErrs...)
}

// NewWriter builds the writer for format ("csv", "json" or "dual"). For
// dual output the JSONL file sits next to filename with a .jsonl extension.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "csv":
		return NewCSVWriter(filename)
	case "json":
		return NewJSONWriter(filename)
	case "dual":
		return NewDualWriter(filename, jsonCompanion(filename))
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

func jsonCompanion(filename string) string {
	for i := len(filename) - 1; i >= 0 && filename[i] != '/'; i-- {
		if filename[i] == '.' {
			return filename[:i] + ".jsonl"
		}
	}
	return filename + ".jsonl"
}

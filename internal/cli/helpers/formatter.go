package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat is the rendering of command output.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatCSV   OutputFormat = "csv"
)

// Formatter renders command results.
type Formatter interface {
	Format(data any, w io.Writer) error
}

// NewFormatter returns the Formatter for format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return TableFormatter{}, nil
	case FormatJSON:
		return JSONFormatter{}, nil
	case FormatYAML:
		return YAMLFormatter{}, nil
	case FormatCSV:
		return CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter writes indented JSON.
type JSONFormatter struct{}

func (JSONFormatter) Format(data any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// YAMLFormatter writes YAML.
type YAMLFormatter struct{}

func (YAMLFormatter) Format(data any, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// TableFormatter writes a slice of structs as aligned columns. Columns are
// the fields with a `header` tag.
type TableFormatter struct{}

func (TableFormatter) Format(data any, w io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil || len(rows) == 0 {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// CSVFormatter writes a slice of structs as CSV using `header` tags.
type CSVFormatter struct{}

func (CSVFormatter) Format(data any, w io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil || len(rows) == 0 {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func tabulate(data any) ([]string, [][]string, error) {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("data must be a slice, got %T", data)
	}

	elem := val.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("slice elements must be structs, got %s", elem)
	}

	var headers []string
	var fields []int
	for i := range elem.NumField() {
		if h := elem.Field(i).Tag.Get("header"); h != "" {
			headers = append(headers, h)
			fields = append(fields, i)
		}
	}

	rows := make([][]string, 0, val.Len())
	for i := range val.Len() {
		v := reflect.Indirect(val.Index(i))
		row := make([]string, len(fields))
		for j, idx := range fields {
			row[j] = fmt.Sprint(v.Field(idx).Interface())
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

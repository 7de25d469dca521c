package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/pagegrab/pagegrab/internal/extract"
)

// Format represents output serialization formats.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Writer serializes a record sequence.
type Writer interface {
	// WriteAll buffers the records for output.
	WriteAll(records []extract.Record) error

	// Flush writes everything buffered so far.
	Flush() error
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatJSON, "":
		return &jsonWriter{w: bufio.NewWriter(w)}, nil
	case FormatJSONL:
		return &jsonlWriter{w: bufio.NewWriter(w)}, nil
	case FormatYAML:
		return &yamlWriter{w: bufio.NewWriter(w)}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// jsonWriter emits the full record sequence as one pretty-printed array.
type jsonWriter struct {
	w     *bufio.Writer
	items []extract.Record
}

func (w *jsonWriter) WriteAll(records []extract.Record) error {
	w.items = append(w.items, records...)
	return nil
}

func (w *jsonWriter) Flush() error {
	items := w.items
	if items == nil {
		// An empty run still produces a valid artifact.
		items = []extract.Record{}
	}

	output, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if _, err := w.w.Write(output); err != nil {
		return err
	}
	if _, err := w.w.WriteString("\n"); err != nil {
		return err
	}
	return w.w.Flush()
}

// jsonlWriter emits one JSON object per line.
type jsonlWriter struct {
	w     *bufio.Writer
	items []extract.Record
}

func (w *jsonlWriter) WriteAll(records []extract.Record) error {
	w.items = append(w.items, records...)
	return nil
}

func (w *jsonlWriter) Flush() error {
	for _, item := range w.items {
		output, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if _, err := w.w.Write(output); err != nil {
			return err
		}
		if _, err := w.w.WriteString("\n"); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

// yamlWriter emits the record sequence as a YAML list.
type yamlWriter struct {
	w     *bufio.Writer
	items []extract.Record
}

func (w *yamlWriter) WriteAll(records []extract.Record) error {
	w.items = append(w.items, records...)
	return nil
}

func (w *yamlWriter) Flush() error {
	items := w.items
	if items == nil {
		items = []extract.Record{}
	}

	encoder := yaml.NewEncoder(w.w)
	encoder.SetIndent(2)
	if err := encoder.Encode(items); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	return w.w.Flush()
}

package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// CSVSource reads a corpus from a CSV file with rows of the form
// id,label,v1,...,vn. The label column may be empty.
type CSVSource struct {
	Path       string
	SkipHeader bool
}

// Records parses every row of the file.
func (c CSVSource) Records(ctx context.Context) ([]Record, error) {
	log.Info().Msgf("Loading corpus CSV file: %s", c.Path)
	file, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Path, err)
	}
	defer file.Close()
	return readCSV(ctx, file, c.Path, c.SkipHeader)
}

// readCSV parses corpus rows from r; name is only used in error messages.
func readCSV(ctx context.Context, r io.Reader, name string, skipHeader bool) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var result []Record

	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error in %s: %w", name, err)
		}
		if skipHeader {
			skipHeader = false
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d in %s: expected id,label and at least one value", line, name)
		}
		vec := make([]float32, len(record)-2)
		for i, val := range record[2:] {
			parsed, err := parseFloat32(val)
			if err != nil {
				return nil, fmt.Errorf("parse error at line %d col %d in %s: %w", line, i+2, name, err)
			}
			vec[i] = parsed
		}
		result = append(result, Record{
			ID:     strings.TrimSpace(record[0]),
			Label:  strings.TrimSpace(record[1]),
			Vector: vec,
		})
	}

	log.Debug().Msgf("Parsed %d rows from %s", len(result), name)
	return result, nil
}

// parseFloat32 converts a trimmed string to float32.
func parseFloat32(s string) (float32, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	return float32(v), err
}

// WriteCSV writes records in the layout read by CSVSource, without a header.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	for _, r := range records {
		row := make([]string, 0, len(r.Vector)+2)
		row = append(row, r.ID, r.Label)
		for _, v := range r.Vector {
			row = append(row, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

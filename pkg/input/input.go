package input

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Columns are the accepted header names for the identifier column, in
// priority order.
var Columns = []string{"linkedin_url", "profile_url", "identifier", "url"}

// ReadIdentifiers reads profile identifiers from r. A CSV with a header row is
// read from its identifier column; anything else is one identifier per line
// with blank lines and '#' comments skipped.
func ReadIdentifiers(r io.Reader) ([]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if isCSV(b) {
		return readCSV(bytes.NewReader(b))
	}
	return readLines(bytes.NewReader(b))
}

func isCSV(b []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "://") && !strings.Contains(line, ",") {
			return false
		}
		_, ok := columnIndex(strings.Split(line, ","))
		return ok
	}
	return false
}

func readCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, ok := columnIndex(header)
	if !ok {
		return nil, fmt.Errorf("missing identifier column (one of %s)", strings.Join(Columns, ", "))
	}

	var out []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if idx >= len(rec) {
			return nil, fmt.Errorf("row has %d columns, want at least %d", len(rec), idx+1)
		}
		if v := strings.TrimSpace(rec[idx]); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}

func columnIndex(header []string) (int, bool) {
	for _, want := range Columns {
		for i, col := range header {
			if strings.EqualFold(strings.TrimSpace(col), want) {
				return i, true
			}
		}
	}
	return -1, false
}

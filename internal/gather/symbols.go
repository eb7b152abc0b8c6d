package gather

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadSymbols reads ticker symbols from a CSV file. The column headed
// "symbol" is used when present, otherwise the first column. Lines starting
// with # are ignored.
func LoadSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbols file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading symbols file %s: %w", path, err)
	}

	symbolIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "symbol") {
			symbolIdx = i
			break
		}
	}

	var symbols []string
	if symbolIdx < 0 {
		// No header row: the first line is data.
		symbolIdx = 0
		symbols = appendSymbol(symbols, header, symbolIdx)
	}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading symbols file %s: %w", path, err)
		}
		symbols = appendSymbol(symbols, record, symbolIdx)
	}
	return normalizeSymbols(symbols), nil
}

func appendSymbol(symbols, record []string, idx int) []string {
	if len(record) > idx {
		if sym := strings.TrimSpace(record[idx]); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

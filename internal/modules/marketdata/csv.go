package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/shopspring/decimal"
)

var csvColumns = []string{"date", "open", "high", "low", "close", "volume"}

// ParseCSV reads bars from CSV with a header row naming the columns
// date, open, high, low, close and volume in any order. Extra columns are
// ignored. Rows are returned in file order.
func ParseCSV(r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty CSV")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := make([]int, len(csvColumns))
	for i, name := range csvColumns {
		col, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", name)
		}
		cols[i] = col
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar, err := parseRecord(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRecord(record []string, cols []int) (domain.Bar, error) {
	field := func(i int) (string, error) {
		if cols[i] >= len(record) {
			return "", fmt.Errorf("missing %s", csvColumns[i])
		}
		return strings.TrimSpace(record[cols[i]]), nil
	}

	raw, err := field(0)
	if err != nil {
		return domain.Bar{}, err
	}
	date, err := time.Parse(DateLayout, raw)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid date %q", raw)
	}

	var values [5]decimal.Decimal
	for i := range values {
		raw, err := field(i + 1)
		if err != nil {
			return domain.Bar{}, err
		}
		if values[i], err = decimal.NewFromString(raw); err != nil {
			return domain.Bar{}, fmt.Errorf("invalid %s %q", csvColumns[i+1], raw)
		}
	}

	return domain.Bar{
		Date:   date,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

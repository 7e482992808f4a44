package portfolio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LoadBarsCSV reads one instrument's bars from a CSV file with header
// columns time,open,high,low,close,volume. time is parsed as RFC3339; it
// is the caller's job to provide one file per instrument, matching how
// the adapter this engine is grounded on takes a DataFrame per symbol.
func LoadBarsCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range []string{"time", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, want)
		}
	}

	var bars []Bar
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %s: %w", path, err)
		}

		t, err := time.Parse(time.RFC3339, row[cols["time"]])
		if err != nil {
			return nil, fmt.Errorf("%s: parse time %q: %w", path, row[cols["time"]], err)
		}

		bar := Bar{Time: t}
		if bar.Open, err = decimal.NewFromString(row[cols["open"]]); err != nil {
			return nil, fmt.Errorf("%s: parse open: %w", path, err)
		}
		if bar.High, err = decimal.NewFromString(row[cols["high"]]); err != nil {
			return nil, fmt.Errorf("%s: parse high: %w", path, err)
		}
		if bar.Low, err = decimal.NewFromString(row[cols["low"]]); err != nil {
			return nil, fmt.Errorf("%s: parse low: %w", path, err)
		}
		if bar.Close, err = decimal.NewFromString(row[cols["close"]]); err != nil {
			return nil, fmt.Errorf("%s: parse close: %w", path, err)
		}
		if bar.Volume, err = decimal.NewFromString(row[cols["volume"]]); err != nil {
			return nil, fmt.Errorf("%s: parse volume: %w", path, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// LoadInstrumentsCSV loads one CSV file per instrument from dir, deriving
// the symbol from the file's base name (BTCUSDT.csv -> symbol BTCUSDT) and
// tagging every instrument with venue.
func LoadInstrumentsCSV(dir, venue string) (map[InstrumentId][]Bar, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	out := make(map[InstrumentId][]Bar)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		bars, err := LoadBarsCSV(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[InstrumentId{Symbol: symbol, Venue: venue}] = bars
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no CSV bar files found", dir)
	}
	return out, nil
}

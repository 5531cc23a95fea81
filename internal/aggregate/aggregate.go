// Package aggregate turns the per-station archive into per-parameter
// tables of daily state means for downstream spreadsheet use.
package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"climapower/internal/catalog"
	"climapower/internal/series"
	"climapower/internal/store"
)

// DefaultStates is the ordered state allow-list for aggregation. The order
// fixes the output column order.
var DefaultStates = []string{"DF", "GO", "MG", "MS", "MT", "PR", "RJ", "RS", "SC", "SP"}

// ErrNoObservations means no eligible station reported a single value for
// the requested parameter.
var ErrNoObservations = errors.New("no observations for parameter")

// Aggregator computes daily cross-station means per state from the
// archive. It never modifies the archive.
type Aggregator struct {
	store  *store.Store
	states []string
}

func New(s *store.Store, states []string) *Aggregator {
	if len(states) == 0 {
		states = DefaultStates
	}
	return &Aggregator{store: s, states: append([]string(nil), states...)}
}

// Parameters returns the union of parameter columns over every archive
// file, sorted. Stations added with extra parameters later on must not be
// invisible to aggregation, so no single file is trusted to know them all.
func (a *Aggregator) Parameters() ([]string, error) {
	entries, err := a.store.Scan()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		_, table, err := a.store.Read(e.Code)
		if err != nil {
			return nil, err
		}
		for _, p := range table.Params() {
			seen[p] = true
		}
	}

	params := make([]string, 0, len(seen))
	for p := range seen {
		params = append(params, p)
	}
	sort.Strings(params)
	return params, nil
}

// Table is the aggregation result for one parameter: per date and state,
// the mean across that state's stations reporting that date. A state with
// no reporting station on a date has no cell at all.
type Table struct {
	states []string
	means  map[time.Time]map[string]float64
}

// States returns the state columns in output order.
func (t *Table) States() []string {
	return append([]string(nil), t.states...)
}

// Dates returns every date with at least one mean, ascending.
func (t *Table) Dates() []time.Time {
	dates := make([]time.Time, 0, len(t.means))
	for d := range t.means {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func (t *Table) Len() int {
	return len(t.means)
}

// Mean returns the state's mean for a date, ok=false when no station of
// that state reported.
func (t *Table) Mean(date time.Time, state string) (float64, bool) {
	v, ok := t.means[series.DateOf(date)][state]
	return v, ok
}

// WriteCSV encodes the table as `date,<state>,...` rows in date order,
// with empty cells where a state has no mean. The treated tables use a
// plain `date` index, unlike the station archives.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{"date"}, t.states...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, d := range t.Dates() {
		row := t.means[d]
		record[0] = d.Format("2006-01-02")
		for i, state := range t.states {
			if v, ok := row[state]; ok {
				record[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s: %w", record[0], err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

type accumulator struct {
	sum float64
	n   int
}

// Aggregate computes the state-mean table for one parameter. The
// catalogue maps archive files to states; files for stations outside the
// catalogue or outside the state list are ignored. Fails with
// ErrNoObservations when nothing eligible reports the parameter.
func (a *Aggregator) Aggregate(stations []catalog.Station, param string) (*Table, error) {
	entries, err := a.store.Scan()
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(a.states))
	for _, s := range a.states {
		allowed[s] = true
	}
	codeToState := make(map[string]string, len(stations))
	for _, st := range stations {
		codeToState[st.Code] = st.State
	}

	cells := make(map[time.Time]map[string]*accumulator)
	for _, e := range entries {
		state, ok := codeToState[e.Code]
		if !ok || !allowed[state] {
			continue
		}

		_, table, err := a.store.Read(e.Code)
		if err != nil {
			return nil, err
		}
		for _, d := range table.Dates() {
			row, _ := table.Get(d)
			v := row[param]
			if !v.Valid {
				continue
			}
			byState, ok := cells[d]
			if !ok {
				byState = make(map[string]*accumulator)
				cells[d] = byState
			}
			acc, ok := byState[state]
			if !ok {
				acc = &accumulator{}
				byState[state] = acc
			}
			acc.sum += v.Float64
			acc.n++
		}
	}

	if len(cells) == 0 {
		return nil, fmt.Errorf("aggregate %s: %w", param, ErrNoObservations)
	}

	t := &Table{
		states: append([]string(nil), a.states...),
		means:  make(map[time.Time]map[string]float64, len(cells)),
	}
	for d, byState := range cells {
		row := make(map[string]float64, len(byState))
		for state, acc := range byState {
			row[state] = acc.sum / float64(acc.n)
		}
		t.means[d] = row
	}
	return t, nil
}

// Export aggregates every parameter found in the archive and writes one
// `<parameter>.csv` per parameter into dir. Parameters with no eligible
// observations are skipped with a log line. Returns the written file
// names.
func (a *Aggregator) Export(stations []catalog.Station, dir string) ([]string, error) {
	params, err := a.Parameters()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var written []string
	for _, param := range params {
		table, err := a.Aggregate(stations, param)
		if errors.Is(err, ErrNoObservations) {
			log.Printf("aggregate: no observations for %s, skipping", param)
			continue
		}
		if err != nil {
			return written, err
		}

		name := param + ".csv"
		if err := writeTableFile(filepath.Join(dir, name), table); err != nil {
			return written, err
		}
		log.Printf("aggregate: %s: %d dates across %d states", name, table.Len(), len(a.states))
		written = append(written, name)
	}
	return written, nil
}

func writeTableFile(path string, table *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

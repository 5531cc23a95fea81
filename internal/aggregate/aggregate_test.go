package aggregate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"climapower/internal/catalog"
	"climapower/internal/store"
)

var testStations = []catalog.Station{
	{Name: "UBERLANDIA", State: "MG", Code: "A001"},
	{Name: "BELO HORIZONTE", State: "MG", Code: "A002"},
	{Name: "SAO PAULO", State: "SP", Code: "A003"},
	{Name: "MANAUS", State: "AM", Code: "A004"},
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func writeArchive(t *testing.T, s *store.Store, name, body string) {
	t.Helper()

	if err := os.MkdirAll(s.Dir(), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), name), []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// setupTestStore seeds an archive with two MG stations, one SP station,
// one station outside the state list and one unknown to the catalogue.
func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s := store.New(t.TempDir())
	writeArchive(t, s, "A001_20240101_20240102.csv", "datetime,PRECTOT,T2M\n2024-01-01,10,1\n2024-01-02,5,2\n")
	writeArchive(t, s, "A002_20240101_20240101.csv", "datetime,PRECTOT,T2M\n2024-01-01,20,3\n")
	writeArchive(t, s, "A003_20240101_20240101.csv", "datetime,PRECTOT,T2M\n2024-01-01,30,\n")
	writeArchive(t, s, "A004_20240101_20240101.csv", "datetime,PRECTOT,T2M\n2024-01-01,50,4\n")
	writeArchive(t, s, "Z999_20240101_20240101.csv", "datetime,WS2M\n2024-01-01,7\n")
	return s
}

func TestAggregate(t *testing.T) {
	a := New(setupTestStore(t), nil)

	table, err := a.Aggregate(testStations, "PRECTOT")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if got, ok := table.Mean(date("2024-01-01"), "MG"); !ok || got != 15.0 {
		t.Errorf("MG mean on 2024-01-01 = %v (ok=%v), want 15", got, ok)
	}
	if got, ok := table.Mean(date("2024-01-01"), "SP"); !ok || got != 30 {
		t.Errorf("SP mean on 2024-01-01 = %v (ok=%v), want 30", got, ok)
	}
	if got, ok := table.Mean(date("2024-01-02"), "MG"); !ok || got != 5 {
		t.Errorf("MG mean on 2024-01-02 = %v (ok=%v), want 5", got, ok)
	}
	if _, ok := table.Mean(date("2024-01-02"), "SP"); ok {
		t.Error("SP has no station reporting on 2024-01-02, want no cell")
	}
	if _, ok := table.Mean(date("2024-01-01"), "RS"); ok {
		t.Error("RS has no stations at all, want no cell")
	}

	dates := table.Dates()
	if len(dates) != 2 || !dates[0].Equal(date("2024-01-01")) || !dates[1].Equal(date("2024-01-02")) {
		t.Errorf("dates = %v, want 2024-01-01 and 2024-01-02", dates)
	}
}

func TestAggregateSkipsMissingValues(t *testing.T) {
	a := New(setupTestStore(t), nil)

	// A003 reports PRECTOT but has an empty T2M cell, so SP must not get a
	// zero-valued mean out of it.
	table, err := a.Aggregate(testStations, "T2M")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if _, ok := table.Mean(date("2024-01-01"), "SP"); ok {
		t.Error("SP T2M on 2024-01-01 should be absent")
	}
	if got, ok := table.Mean(date("2024-01-01"), "MG"); !ok || got != 2 {
		t.Errorf("MG T2M mean on 2024-01-01 = %v (ok=%v), want 2", got, ok)
	}
}

func TestAggregateNoObservations(t *testing.T) {
	a := New(setupTestStore(t), nil)

	if _, err := a.Aggregate(testStations, "RH2M"); !errors.Is(err, ErrNoObservations) {
		t.Fatalf("Aggregate = %v, want ErrNoObservations", err)
	}
}

func TestAggregateEmptyStore(t *testing.T) {
	a := New(store.New(filepath.Join(t.TempDir(), "missing")), nil)

	if _, err := a.Aggregate(testStations, "PRECTOT"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Aggregate = %v, want ErrNotFound", err)
	}
}

func TestParameters(t *testing.T) {
	a := New(setupTestStore(t), nil)

	params, err := a.Parameters()
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	want := []string{"PRECTOT", "T2M", "WS2M"}
	if len(params) != len(want) {
		t.Fatalf("parameters = %v, want %v", params, want)
	}
	for i := range want {
		if params[i] != want[i] {
			t.Fatalf("parameters = %v, want %v", params, want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	a := New(setupTestStore(t), []string{"MG", "SP"})

	table, err := a.Aggregate(testStations, "PRECTOT")
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	var buf strings.Builder
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "date,MG,SP\n2024-01-01,15,30\n2024-01-02,5,\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestExport(t *testing.T) {
	a := New(setupTestStore(t), nil)
	dir := filepath.Join(t.TempDir(), "treated")

	written, err := a.Export(testStations, dir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	// WS2M exists only in the uncatalogued Z999 archive, so it is discovered
	// as a parameter but yields no observations and no file.
	want := []string{"PRECTOT.csv", "T2M.csv"}
	if len(written) != len(want) || written[0] != want[0] || written[1] != want[1] {
		t.Fatalf("written = %v, want %v", written, want)
	}
	for _, name := range want {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("stat %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "WS2M.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("WS2M.csv should not exist, stat = %v", err)
	}
}

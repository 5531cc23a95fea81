package series

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func val(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}

func missing() sql.NullFloat64 {
	return sql.NullFloat64{}
}

func tablesEqual(t *testing.T, got, want *Table) {
	t.Helper()
	gotDates := got.Dates()
	wantDates := want.Dates()
	if len(gotDates) != len(wantDates) {
		t.Fatalf("len(dates) = %d, want %d", len(gotDates), len(wantDates))
	}
	for i := range wantDates {
		if !gotDates[i].Equal(wantDates[i]) {
			t.Fatalf("dates[%d] = %s, want %s", i, gotDates[i], wantDates[i])
		}
		gotRow, _ := got.Get(wantDates[i])
		wantRow, _ := want.Get(wantDates[i])
		for p, wv := range wantRow {
			if gotRow[p] != wv {
				t.Errorf("%s %s = %+v, want %+v", wantDates[i].Format("2006-01-02"), p, gotRow[p], wv)
			}
		}
	}
}

func TestMergeUnion(t *testing.T) {
	existing := NewTable("PRECTOT")
	existing.Set(date("2024-01-01"), "PRECTOT", val(1.0))
	existing.Set(date("2024-01-02"), "PRECTOT", val(2.0))

	incoming := NewTable("PRECTOT")
	incoming.Set(date("2024-01-03"), "PRECTOT", val(3.0))
	incoming.Set(date("2024-01-04"), "PRECTOT", val(4.0))

	merged, err := Merge(existing, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", merged.Len())
	}
	for _, tc := range []struct {
		day  string
		want float64
	}{
		{"2024-01-01", 1.0},
		{"2024-01-02", 2.0},
		{"2024-01-03", 3.0},
		{"2024-01-04", 4.0},
	} {
		row, ok := merged.Get(date(tc.day))
		if !ok {
			t.Fatalf("date %s missing from merged table", tc.day)
		}
		if row["PRECTOT"] != val(tc.want) {
			t.Errorf("%s = %+v, want %v", tc.day, row["PRECTOT"], tc.want)
		}
	}
}

func TestMergeIncomingWins(t *testing.T) {
	existing := NewTable("PRECTOT", "T2M")
	existing.Set(date("2024-01-01"), "PRECTOT", val(1.0))
	existing.Set(date("2024-01-01"), "T2M", val(21.0))
	existing.Set(date("2024-01-02"), "PRECTOT", val(2.0))
	existing.Set(date("2024-01-02"), "T2M", val(22.0))

	incoming := NewTable("PRECTOT", "T2M")
	incoming.Set(date("2024-01-02"), "PRECTOT", val(9.0))
	incoming.Set(date("2024-01-02"), "T2M", missing())

	merged, err := Merge(existing, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	// The overlapping row is taken wholesale from incoming, including its
	// missing T2M; no field-level mixing with the existing row.
	row, _ := merged.Get(date("2024-01-02"))
	if row["PRECTOT"] != val(9.0) {
		t.Errorf("PRECTOT = %+v, want 9.0", row["PRECTOT"])
	}
	if row["T2M"].Valid {
		t.Errorf("T2M = %+v, want missing", row["T2M"])
	}

	row, _ = merged.Get(date("2024-01-01"))
	if row["T2M"] != val(21.0) {
		t.Errorf("untouched row T2M = %+v, want 21.0", row["T2M"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	table := NewTable("PRECTOT")
	table.Set(date("2024-01-01"), "PRECTOT", val(1.5))
	table.Set(date("2024-01-02"), "PRECTOT", missing())
	table.Set(date("2024-01-03"), "PRECTOT", val(0))

	merged, err := Merge(table, table)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	tablesEqual(t, merged, table)
}

func TestMergeSchemaMismatch(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		incoming []string
		wantErr  bool
	}{
		{"identical", []string{"PRECTOT", "T2M"}, []string{"PRECTOT", "T2M"}, false},
		{"different column", []string{"PRECTOT"}, []string{"T2M"}, true},
		{"extra column", []string{"PRECTOT"}, []string{"PRECTOT", "T2M"}, true},
		{"reordered columns", []string{"PRECTOT", "T2M"}, []string{"T2M", "PRECTOT"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(NewTable(tt.existing...), NewTable(tt.incoming...))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Merge error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrSchemaMismatch) {
				t.Errorf("error %v does not wrap ErrSchemaMismatch", err)
			}
		})
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	existing := NewTable("PRECTOT")
	existing.Set(date("2024-01-01"), "PRECTOT", val(1.0))

	incoming := NewTable("PRECTOT")
	incoming.Set(date("2024-01-01"), "PRECTOT", val(5.0))
	incoming.Set(date("2024-01-02"), "PRECTOT", val(6.0))

	merged, err := Merge(existing, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	merged.Set(date("2024-01-01"), "PRECTOT", val(99.0))

	row, _ := existing.Get(date("2024-01-01"))
	if row["PRECTOT"] != val(1.0) {
		t.Errorf("existing mutated: %+v", row["PRECTOT"])
	}
	row, _ = incoming.Get(date("2024-01-01"))
	if row["PRECTOT"] != val(5.0) {
		t.Errorf("incoming mutated: %+v", row["PRECTOT"])
	}
	if existing.Len() != 1 || incoming.Len() != 2 {
		t.Errorf("input sizes changed: existing=%d incoming=%d", existing.Len(), incoming.Len())
	}
}

func TestBounds(t *testing.T) {
	table := NewTable("T2M")
	if _, _, ok := table.Bounds(); ok {
		t.Fatal("Bounds() ok = true for empty table")
	}

	table.Set(date("2024-03-05"), "T2M", val(20))
	table.Set(date("2024-03-01"), "T2M", val(18))
	table.Set(date("2024-03-03"), "T2M", val(19))

	start, end, ok := table.Bounds()
	if !ok {
		t.Fatal("Bounds() ok = false")
	}
	if !start.Equal(date("2024-03-01")) {
		t.Errorf("start = %s, want 2024-03-01", start)
	}
	if !end.Equal(date("2024-03-05")) {
		t.Errorf("end = %s, want 2024-03-05", end)
	}
}

func TestDatesSorted(t *testing.T) {
	table := NewTable("T2M")
	for _, d := range []string{"2024-01-03", "2024-01-01", "2024-01-02"} {
		table.Set(date(d), "T2M", val(1))
	}
	dates := table.Dates()
	for i := 1; i < len(dates); i++ {
		if !dates[i-1].Before(dates[i]) {
			t.Fatalf("dates not ascending: %v", dates)
		}
	}
}

func TestDateOfNormalizes(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	in := time.Date(2024, 1, 2, 23, 30, 0, 0, loc)
	got := DateOf(in)
	want := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOf(%s) = %s, want %s", in, got, want)
	}
}

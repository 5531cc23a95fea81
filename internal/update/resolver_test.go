package update

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"climapower/internal/store"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedResolver(today string) *Resolver {
	at := date(today).Add(10*time.Hour + 30*time.Minute)
	return NewResolver(clockwork.NewFakeClockAt(at))
}

func TestLatest(t *testing.T) {
	r := fixedResolver("2024-01-15")

	if got := r.Latest(); !got.Equal(date("2024-01-13")) {
		t.Errorf("Latest() = %s, want 2024-01-13", got.Format("2006-01-02"))
	}
}

func TestWindowFor(t *testing.T) {
	r := fixedResolver("2024-01-15")
	entry := store.Entry{Code: "A001", Start: date("2024-01-01"), End: date("2024-01-10")}

	w := r.WindowFor(entry)
	if !w.Start.Equal(date("2024-01-08")) {
		t.Errorf("window start = %s, want 2024-01-08", w.Start.Format("2006-01-02"))
	}
	if !w.End.Equal(date("2024-01-13")) {
		t.Errorf("window end = %s, want 2024-01-13", w.End.Format("2006-01-02"))
	}
}

func TestUpToDate(t *testing.T) {
	r := fixedResolver("2024-01-15")

	tests := []struct {
		end  string
		want bool
	}{
		{"2024-01-10", false},
		{"2024-01-12", false},
		{"2024-01-13", true},
		{"2024-01-14", true},
	}
	for _, tt := range tests {
		entry := store.Entry{Code: "A001", Start: date("2024-01-01"), End: date(tt.end)}
		if got := r.UpToDate(entry); got != tt.want {
			t.Errorf("UpToDate(end=%s) = %v, want %v", tt.end, got, tt.want)
		}
	}
}

func TestNewResolverDefaultsToRealClock(t *testing.T) {
	r := NewResolver(nil)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	latest := r.Latest()
	if latest.After(today) {
		t.Errorf("Latest() = %s is in the future", latest.Format("2006-01-02"))
	}
}

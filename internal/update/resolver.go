// Package update drives the extraction pipeline: it decides which date
// window each station needs, fetches it with bounded retries, merges the
// result into the station's archive and records the outcome.
package update

import (
	"time"

	"github.com/jonboulle/clockwork"

	"climapower/internal/series"
	"climapower/internal/store"
)

// overlapDays is the refetch buffer. The upstream publishes daily values a
// couple of days behind real time and may revise the most recent ones, so
// windows start two days before the archive ends and close two days before
// today.
const overlapDays = 2

// Window is an inclusive date range to request from the upstream.
type Window struct {
	Start time.Time
	End   time.Time
}

// Resolver computes per-station fetch windows from archive metadata and
// the current date.
type Resolver struct {
	clock clockwork.Clock
}

// NewResolver creates a resolver. A nil clock selects the system clock.
func NewResolver(clock clockwork.Clock) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{clock: clock}
}

// Latest returns the newest date the upstream is expected to serve, two
// days behind the current UTC date.
func (r *Resolver) Latest() time.Time {
	return series.DateOf(r.clock.Now().UTC()).AddDate(0, 0, -overlapDays)
}

// WindowFor returns the incremental window for an existing archive: it
// reopens the last two stored days so upstream revisions are picked up,
// and runs to the latest available date.
func (r *Resolver) WindowFor(entry store.Entry) Window {
	return Window{
		Start: entry.End.AddDate(0, 0, -overlapDays),
		End:   r.Latest(),
	}
}

// UpToDate reports whether the archive already ends at or past the latest
// date the upstream can serve, meaning a fetch could not add anything.
func (r *Resolver) UpToDate(entry store.Entry) bool {
	return !r.Latest().After(entry.End)
}

package update

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"climapower/internal/catalog"
	"climapower/internal/journal"
	"climapower/internal/metrics"
	"climapower/internal/power"
	"climapower/internal/series"
	"climapower/internal/store"
)

// Retry policy for one station: four attempts with a flat wait between
// them, then the station is skipped and the run moves on.
const (
	retryWait   = 40 * time.Second
	maxAttempts = 4
)

var errEmptyResult = errors.New("upstream returned no rows")

// Updater runs fetch and update passes over the station archive.
type Updater struct {
	store      *store.Store
	client     *power.Client
	params     []string
	clock      clockwork.Clock
	resolver   *Resolver
	journal    *journal.Journal
	newBackOff func() backoff.BackOff
	throttle   func(Window) time.Duration
}

// NewUpdater wires an updater for the given archive, API client and
// parameter list. A nil clock selects the system clock.
func NewUpdater(st *store.Store, client *power.Client, params []string, clock clockwork.Clock) *Updater {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Updater{
		store:    st,
		client:   client,
		params:   params,
		clock:    clock,
		resolver: NewResolver(clock),
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(retryWait), maxAttempts-1)
		},
		throttle: defaultThrottle,
	}
}

// SetJournal configures run auditing. Without it runs are not recorded.
func (u *Updater) SetJournal(j *journal.Journal) {
	u.journal = j
}

// SetBackOff replaces the per-station retry policy.
func (u *Updater) SetBackOff(f func() backoff.BackOff) {
	u.newBackOff = f
}

// SetThrottle replaces the post-fetch pacing policy.
func (u *Updater) SetThrottle(f func(Window) time.Duration) {
	u.throttle = f
}

func (u *Updater) Resolver() *Resolver {
	return u.resolver
}

// defaultThrottle paces successive stations so long historical extracts do
// not hammer the API: a flat floor plus a quarter second per year of the
// requested window.
func defaultThrottle(w Window) time.Duration {
	years := w.End.Year() - w.Start.Year()
	return 3*time.Second + time.Duration(years)*250*time.Millisecond
}

// Summary counts station outcomes for one pass.
type Summary struct {
	Fetched  int
	UpToDate int
	Skipped  int
	Failed   int
}

func (s Summary) Total() int {
	return s.Fetched + s.UpToDate + s.Skipped + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("%d fetched, %d up to date, %d skipped, %d failed",
		s.Fetched, s.UpToDate, s.Skipped, s.Failed)
}

// FetchAll downloads the given window for every station that has no
// archive file yet. Stations already on disk are left alone, whatever
// range their file covers.
func (u *Updater) FetchAll(ctx context.Context, stations []catalog.Station, window Window) (Summary, error) {
	var summary Summary
	if len(stations) == 0 {
		return summary, errors.New("no eligible stations")
	}

	have := make(map[string]bool)
	entries, err := u.store.Scan()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return summary, err
	}
	for _, e := range entries {
		have[e.Code] = true
	}

	run, _ := u.journal.StartRun("fetch", window.Start, window.End, len(stations))
	log.Printf("fetch: %d stations, window %s to %s",
		len(stations), window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))

	byState := make(map[string]int)
	for i, st := range stations {
		if err := ctx.Err(); err != nil {
			u.completeRun(run, summary, err)
			return summary, err
		}

		if have[st.Code] {
			summary.UpToDate++
			metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeUpToDate).Inc()
			u.record(run, journal.StationEvent{Code: st.Code, State: st.State, Outcome: journal.OutcomeUpToDate})
			continue
		}

		log.Printf("fetch: (%d/%d) station %s", i+1, len(stations), st.Code)
		table, attempts, err := u.fetchStation(ctx, st, window)
		if err != nil {
			if ctx.Err() != nil {
				u.completeRun(run, summary, ctx.Err())
				return summary, ctx.Err()
			}
			summary.Skipped++
			log.Printf("fetch: %s gave up after %d attempts: %v", st.Code, attempts, err)
			metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeSkipped).Inc()
			u.record(run, journal.StationEvent{
				Code: st.Code, State: st.State, Outcome: journal.OutcomeSkipped,
				Attempts: attempts, ErrorMessage: nullError(err),
			})
			continue
		}

		_, last, _ := table.Bounds()
		entry, err := u.store.Replace(st.Code, window.Start, last, table)
		if err != nil {
			summary.Failed++
			log.Printf("fetch: write %s: %v", st.Code, err)
			metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeFailed).Inc()
			u.record(run, journal.StationEvent{
				Code: st.Code, State: st.State, Outcome: journal.OutcomeFailed,
				Attempts: attempts, ErrorMessage: nullError(err),
			})
			continue
		}

		summary.Fetched++
		byState[st.State]++
		log.Printf("fetch: %s: %d rows to %s", st.Code, table.Len(), entry.Name)
		metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeFetched).Inc()
		metrics.RowsWritten.WithLabelValues(st.Code).Add(float64(table.Len()))
		u.record(run, journal.StationEvent{
			Code: st.Code, State: st.State, Outcome: journal.OutcomeFetched,
			Attempts:    attempts,
			RowsFetched: sql.NullInt64{Int64: int64(table.Len()), Valid: true},
			FileName:    sql.NullString{String: entry.Name, Valid: true},
		})

		if err := u.pause(ctx, window); err != nil {
			u.completeRun(run, summary, err)
			return summary, err
		}
	}

	log.Printf("fetch: done: %s", summary)
	if len(byState) > 0 {
		log.Printf("fetch: downloads per state: %s", formatTally(byState))
	}
	u.completeRun(run, summary, nil)
	return summary, nil
}

func formatTally(byState map[string]int) string {
	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = fmt.Sprintf("%s=%d", s, byState[s])
	}
	return strings.Join(parts, " ")
}

// UpdateAll brings every archived station up to the latest available
// date. The catalogue supplies coordinates; archive files without a
// catalogue entry are reported as failures because there is nothing to
// fetch them with.
func (u *Updater) UpdateAll(ctx context.Context, stations []catalog.Station) (Summary, error) {
	var summary Summary

	entries, err := u.store.Scan()
	if err != nil {
		return summary, fmt.Errorf("update: %w", err)
	}

	index := make(map[string]catalog.Station, len(stations))
	for _, st := range stations {
		index[st.Code] = st
	}

	latest := u.resolver.Latest()
	run, _ := u.journal.StartRun("update", time.Time{}, latest, len(entries))
	log.Printf("update: %d stations on disk, latest available %s", len(entries), latest.Format("2006-01-02"))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			u.completeRun(run, summary, err)
			return summary, err
		}

		st, ok := index[entry.Code]
		if !ok {
			summary.Failed++
			log.Printf("update: %s has no catalogue entry", entry.Code)
			metrics.StationsProcessed.WithLabelValues("", journal.OutcomeFailed).Inc()
			u.record(run, journal.StationEvent{
				Code: entry.Code, Outcome: journal.OutcomeFailed,
				ErrorMessage: sql.NullString{String: "no catalogue entry", Valid: true},
			})
			continue
		}

		if u.resolver.UpToDate(entry) {
			summary.UpToDate++
			metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeUpToDate).Inc()
			u.record(run, journal.StationEvent{Code: st.Code, State: st.State, Outcome: journal.OutcomeUpToDate})
			continue
		}

		window := u.resolver.WindowFor(entry)
		log.Printf("update: (%d/%d) station %s from %s", i+1, len(entries), entry.Code, window.Start.Format("2006-01-02"))

		incoming, attempts, err := u.fetchStation(ctx, st, window)
		if err != nil {
			if ctx.Err() != nil {
				u.completeRun(run, summary, ctx.Err())
				return summary, ctx.Err()
			}
			summary.Skipped++
			log.Printf("update: %s gave up after %d attempts: %v", st.Code, attempts, err)
			metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeSkipped).Inc()
			u.record(run, journal.StationEvent{
				Code: st.Code, State: st.State, Outcome: journal.OutcomeSkipped,
				Attempts: attempts, ErrorMessage: nullError(err),
			})
			continue
		}

		_, existing, err := u.store.Read(entry.Code)
		if err == nil {
			var merged *series.Table
			merged, err = series.Merge(existing, incoming)
			if err == nil {
				newStart, newEnd, _ := merged.Bounds()
				if entry.Start.Before(newStart) {
					newStart = entry.Start
				}
				var newEntry store.Entry
				newEntry, err = u.store.Replace(entry.Code, newStart, newEnd, merged)
				if err == nil {
					summary.Fetched++
					log.Printf("update: %s: %d new rows, now %s", st.Code, incoming.Len(), newEntry.Name)
					metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeFetched).Inc()
					metrics.RowsWritten.WithLabelValues(st.Code).Add(float64(incoming.Len()))
					u.record(run, journal.StationEvent{
						Code: st.Code, State: st.State, Outcome: journal.OutcomeFetched,
						Attempts:    attempts,
						RowsFetched: sql.NullInt64{Int64: int64(incoming.Len()), Valid: true},
						FileName:    sql.NullString{String: newEntry.Name, Valid: true},
					})
					if err := u.pause(ctx, window); err != nil {
						u.completeRun(run, summary, err)
						return summary, err
					}
					continue
				}
			}
		}

		summary.Failed++
		log.Printf("update: %s: %v", entry.Code, err)
		metrics.StationsProcessed.WithLabelValues(st.State, journal.OutcomeFailed).Inc()
		u.record(run, journal.StationEvent{
			Code: st.Code, State: st.State, Outcome: journal.OutcomeFailed,
			Attempts: attempts, ErrorMessage: nullError(err),
		})
	}

	log.Printf("update: done: %s", summary)
	u.completeRun(run, summary, nil)
	return summary, nil
}

// StationStatus pairs an archive entry with its staleness.
type StationStatus struct {
	Entry    store.Entry
	Latest   time.Time
	UpToDate bool
}

// Status reports the staleness of every archived station without touching
// the network.
func (u *Updater) Status() ([]StationStatus, error) {
	entries, err := u.store.Scan()
	if err != nil {
		return nil, err
	}

	latest := u.resolver.Latest()
	statuses := make([]StationStatus, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, StationStatus{Entry: e, Latest: latest, UpToDate: u.resolver.UpToDate(e)})
	}
	return statuses, nil
}

// fetchStation requests the window with the configured retry policy. An
// empty result counts as a failed attempt, the same as a transport error,
// because the upstream answers out-of-service periods with error pages.
func (u *Updater) fetchStation(ctx context.Context, st catalog.Station, window Window) (*series.Table, int, error) {
	coord := power.Coordinate{Latitude: st.Latitude, Longitude: st.Longitude}

	attempts := 0
	var table *series.Table
	operation := func() error {
		attempts++
		began := u.clock.Now()
		t, err := u.client.FetchDaily(ctx, coord, u.params, window.Start, window.End)
		metrics.PowerAPILatency.WithLabelValues(st.Code).Observe(u.clock.Since(began).Seconds())
		if err != nil {
			metrics.PowerAPICallsTotal.WithLabelValues(st.Code, "error").Inc()
			log.Printf("fetch: %s attempt %d: %v", st.Code, attempts, err)
			return err
		}
		if t.Len() == 0 {
			metrics.PowerAPICallsTotal.WithLabelValues(st.Code, "empty").Inc()
			log.Printf("fetch: %s attempt %d returned no rows", st.Code, attempts)
			return errEmptyResult
		}
		metrics.PowerAPICallsTotal.WithLabelValues(st.Code, "ok").Inc()
		table = t
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(u.newBackOff(), ctx))
	if err != nil {
		return nil, attempts, err
	}
	return table, attempts, nil
}

// pause waits out the per-station throttle, abandoning the wait when the
// context ends first.
func (u *Updater) pause(ctx context.Context, window Window) error {
	d := u.throttle(window)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-u.clock.After(d):
		return nil
	}
}

func (u *Updater) record(run *journal.Run, ev journal.StationEvent) {
	if err := u.journal.RecordStation(run, ev); err != nil {
		log.Printf("journal: record %s: %v", ev.Code, err)
	}
}

func (u *Updater) completeRun(run *journal.Run, summary Summary, cause error) {
	if run == nil {
		return
	}
	run.Fetched = sql.NullInt64{Int64: int64(summary.Fetched), Valid: true}
	run.UpToDate = sql.NullInt64{Int64: int64(summary.UpToDate), Valid: true}
	run.Skipped = sql.NullInt64{Int64: int64(summary.Skipped), Valid: true}
	run.Failed = sql.NullInt64{Int64: int64(summary.Failed), Valid: true}
	run.Success = cause == nil
	run.ErrorMessage = nullError(cause)
	if err := u.journal.CompleteRun(run); err != nil {
		log.Printf("journal: complete run %d: %v", run.ID, err)
	}
}

func nullError(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

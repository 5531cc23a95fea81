package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"climapower/internal/aggregate"
	"climapower/internal/catalog"
	"climapower/internal/journal"
	"climapower/internal/power"
	"climapower/internal/store"
	"climapower/internal/update"
)

// Globals are the flags shared by every subcommand. The base directory is
// laid out as metadata/ (catalogue, coastal list, run journal), history/
// (per-station archives) and treated_data/ (aggregation output).
type Globals struct {
	EnvFile     kongdotenv.ENVFileConfig `name:"env-file" help:"Path to .env file to load."`
	BaseDir     string                   `name:"base-dir" default:"data" env:"CLIMAPOWER_BASE_DIR" help:"Directory holding metadata/, history/ and treated_data/."`
	Parameters  []string                 `default:"IMERG_PRECTOT,T2M" env:"CLIMAPOWER_PARAMETERS" help:"POWER parameters to request."`
	States      []string                 `default:"DF,GO,MG,MS,MT,PR,RJ,RS,SC,SP" env:"CLIMAPOWER_STATES" help:"State abbreviations to keep, in output column order."`
	BaseURL     string                   `name:"base-url" env:"CLIMAPOWER_BASE_URL" help:"Override the POWER API endpoint."`
	JournalDB   string                   `name:"journal-db" env:"CLIMAPOWER_JOURNAL_DB" help:"Run journal SQLite path. Defaults to <base-dir>/metadata/runs.db."`
	NoJournal   bool                     `name:"no-journal" help:"Skip writing the run journal."`
	MetricsAddr string                   `name:"metrics-addr" env:"CLIMAPOWER_METRICS_ADDR" help:"Expose Prometheus metrics on this address while running."`
}

func (g *Globals) archive() *store.Store {
	return store.New(filepath.Join(g.BaseDir, "history"))
}

func (g *Globals) journalPath() string {
	if g.JournalDB != "" {
		return g.JournalDB
	}
	return filepath.Join(g.BaseDir, "metadata", "runs.db")
}

func (g *Globals) openJournal() (*journal.Journal, error) {
	path := g.journalPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return j, nil
}

// loadCatalogue reads the station catalogue and coastal exclusion list and
// returns the full catalogue plus the extraction-eligible subset.
func (g *Globals) loadCatalogue() (all, eligible []catalog.Station, err error) {
	all, err = catalog.LoadStations(filepath.Join(g.BaseDir, "metadata", "catalogue.csv"))
	if err != nil {
		return nil, nil, err
	}
	coastal, err := catalog.LoadCoastal(filepath.Join(g.BaseDir, "metadata", "coastal.csv"))
	if err != nil {
		return nil, nil, err
	}
	return all, catalog.Eligible(all, g.States, coastal), nil
}

func (g *Globals) newUpdater(s *store.Store) (*update.Updater, *journal.Journal, error) {
	u := update.NewUpdater(s, power.NewClient(g.BaseURL), g.Parameters, nil)
	if g.NoJournal {
		return u, nil, nil
	}
	j, err := g.openJournal()
	if err != nil {
		return nil, nil, err
	}
	u.SetJournal(j)
	return u, j, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// FetchCmd downloads history for every eligible station that has no
// archive file yet.
type FetchCmd struct {
	Start string `default:"2006-01-01" help:"First day to request (YYYY-MM-DD)."`
	End   string `help:"Last day to request (YYYY-MM-DD). Defaults to the freshest day the upstream has."`
}

func (c *FetchCmd) Run(g *Globals) error {
	_, eligible, err := g.loadCatalogue()
	if err != nil {
		return err
	}

	u, j, err := g.newUpdater(g.archive())
	if err != nil {
		return err
	}
	defer j.Close()

	start, err := time.Parse("2006-01-02", c.Start)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	window := update.Window{Start: start, End: u.Resolver().Latest()}
	if c.End != "" {
		window.End, err = time.Parse("2006-01-02", c.End)
		if err != nil {
			return fmt.Errorf("parse --end: %w", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := u.FetchAll(ctx, eligible, window)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

// UpdateCmd brings every archived station up to the latest available day.
type UpdateCmd struct{}

func (c *UpdateCmd) Run(g *Globals) error {
	_, eligible, err := g.loadCatalogue()
	if err != nil {
		return err
	}

	u, j, err := g.newUpdater(g.archive())
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := u.UpdateAll(ctx, eligible)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}

// AggregateCmd writes one state-mean table per parameter found in the
// archive.
type AggregateCmd struct {
	OutDir string `name:"out-dir" help:"Output directory. Defaults to <base-dir>/treated_data."`
}

func (c *AggregateCmd) Run(g *Globals) error {
	all, _, err := g.loadCatalogue()
	if err != nil {
		return err
	}

	dir := c.OutDir
	if dir == "" {
		dir = filepath.Join(g.BaseDir, "treated_data")
	}

	written, err := aggregate.New(g.archive(), g.States).Export(all, dir)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d tables to %s\n", len(written), dir)
	return nil
}

// StatusCmd reports archive coverage without touching the network.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	u := update.NewUpdater(g.archive(), power.NewClient(g.BaseURL), g.Parameters, nil)

	statuses, err := u.Status()
	if err != nil {
		return err
	}

	stale := 0
	for _, st := range statuses {
		verdict := "up to date"
		if !st.UpToDate {
			verdict = "stale"
			stale++
		}
		fmt.Printf("%-10s %s to %s  %s\n",
			st.Entry.Code,
			st.Entry.Start.Format("2006-01-02"),
			st.Entry.End.Format("2006-01-02"),
			verdict)
	}
	fmt.Printf("%d stations, %d stale, latest available day %s\n",
		len(statuses), stale, u.Resolver().Latest().Format("2006-01-02"))
	return nil
}

// JournalCmd lists recent runs, or recent station failures with
// --failures.
type JournalCmd struct {
	Limit    int  `default:"10" help:"How many entries to show."`
	Failures bool `help:"Show recent station failures instead of runs."`
}

func (c *JournalCmd) Run(g *Globals) error {
	j, err := g.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if c.Failures {
		events, err := j.RecentFailures(c.Limit)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("%s  %-10s %-10s attempts=%d  %s\n",
				ev.CreatedAt.Format("2006-01-02 15:04:05"),
				ev.Code, ev.Outcome, ev.Attempts, ev.ErrorMessage.String)
		}
		return nil
	}

	runs, err := j.RecentRuns(c.Limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("#%-4d %-7s %s  %s\n", r.ID, r.Kind, r.StartedAt.Format("2006-01-02 15:04:05"), describeRun(r))
	}
	return nil
}

func describeRun(r journal.Run) string {
	if !r.FinishedAt.Valid {
		return "unfinished"
	}
	s := update.Summary{
		Fetched:  int(r.Fetched.Int64),
		UpToDate: int(r.UpToDate.Int64),
		Skipped:  int(r.Skipped.Int64),
		Failed:   int(r.Failed.Int64),
	}
	if !r.Success {
		return fmt.Sprintf("aborted (%s): %s", s, r.ErrorMessage.String)
	}
	return s.String()
}

// serveMetrics exposes the Prometheus registry for the lifetime of the
// process. Long fetch runs take hours, so scraping mid-run is the point.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server: %v", err)
	}
}

var cli struct {
	Globals

	Fetch     FetchCmd     `cmd:"" help:"Download history for eligible stations missing from the archive."`
	Update    UpdateCmd    `cmd:"" help:"Bring every archived station up to the latest available day."`
	Aggregate AggregateCmd `cmd:"" help:"Write per-parameter daily state-mean tables."`
	Status    StatusCmd    `cmd:"" help:"Show archive coverage and staleness."`
	Journal   JournalCmd   `cmd:"" help:"Show recent runs and station failures."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("climapower"),
		kong.Description("Maintains per-station NASA POWER daily archives and aggregates them into state-mean tables."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	if cli.MetricsAddr != "" {
		go serveMetrics(cli.MetricsAddr)
	}

	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

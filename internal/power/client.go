// Package power fetches daily agro-climate series from the NASA POWER
// temporal API for a single point on the globe.
package power

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"climapower/internal/httputil"
	"climapower/internal/series"
)

// DefaultBaseURL is the production daily point endpoint.
const DefaultBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

// community selects the agroclimatology parameter set.
const community = "AG"

// missingValue is the sentinel the API writes for days without data.
const missingValue = -999

const dateParamLayout = "20060102"

// Coordinate is a point in degrees north and east. The fields are named so
// that latitude and longitude cannot be swapped silently at a call site.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Client queries the POWER daily point endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the given endpoint. An empty baseURL
// selects the production API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httputil.NewClient(),
		baseURL:    baseURL,
	}
}

// FetchDaily requests one value per day and parameter for the inclusive
// date range at the given point. A non-2xx response yields an empty table
// rather than an error, matching how the API reports out-of-coverage
// requests; the caller's retry policy decides what to do with it.
func (c *Client) FetchDaily(ctx context.Context, coord Coordinate, params []string, start, end time.Time) (*series.Table, error) {
	q := url.Values{}
	q.Set("parameters", strings.Join(params, ","))
	q.Set("community", community)
	q.Set("longitude", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	q.Set("latitude", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	q.Set("start", start.UTC().Format(dateParamLayout))
	q.Set("end", end.UTC().Format(dateParamLayout))
	q.Set("format", "CSV")
	q.Set("time-standard", "UTC")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch daily: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("power: status %d from %s: %s", resp.StatusCode, c.baseURL, truncateBody(body))
		return series.NewTable(params...), nil
	}

	return parseDaily(body)
}

// parseDaily decodes the CSV payload. The payload opens with a free-form
// preamble; the real table starts at the header line naming YEAR and DOY,
// followed by one row per day.
func parseDaily(body []byte) (*series.Table, error) {
	lines := strings.Split(string(body), "\n")

	header := -1
	var columns []string
	for i, line := range lines {
		fields := strings.Split(strings.TrimRight(line, "\r"), ",")
		for _, f := range fields {
			if f == "YEAR" {
				header = i
				columns = fields
				break
			}
		}
		if header >= 0 {
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("parse daily: no YEAR header in %d-line response", len(lines))
	}
	if len(columns) < 3 || columns[0] != "YEAR" || columns[1] != "DOY" {
		return nil, fmt.Errorf("parse daily: unexpected header %q", strings.Join(columns, ","))
	}

	table := series.NewTable(columns[2:]...)
	for _, line := range lines[header+1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != len(columns) {
			return nil, fmt.Errorf("parse daily: row has %d fields, header has %d", len(fields), len(columns))
		}

		year, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parse daily: year %q: %w", fields[0], err)
		}
		doy, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parse daily: day of year %q: %w", fields[1], err)
		}
		date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)

		for i, name := range columns[2:] {
			v, err := strconv.ParseFloat(fields[i+2], 64)
			if err != nil {
				return nil, fmt.Errorf("parse daily: %s on %s: %w", name, date.Format("2006-01-02"), err)
			}
			table.Set(date, name, sql.NullFloat64{Float64: v, Valid: v != missingValue})
		}
	}
	return table, nil
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

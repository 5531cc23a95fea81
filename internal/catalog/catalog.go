// Package catalog loads the INMET automatic station metadata that drives
// extraction: the station catalogue and the coastal exclusion list.
package catalog

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
)

// Station is one row of the station catalogue. Only the columns the
// pipeline needs are mapped; the catalogue carries many more.
type Station struct {
	Name      string  `csv:"DC_NOME"`
	State     string  `csv:"SG_ESTADO"`
	Latitude  float64 `csv:"VL_LATITUDE"`
	Longitude float64 `csv:"VL_LONGITUDE"`
	Code      string  `csv:"CD_ESTACAO"`
}

type coastalRow struct {
	Code string `csv:"CD_ESTACAO"`
}

// LoadStations reads the station catalogue CSV.
func LoadStations(path string) ([]Station, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	defer f.Close()

	var stations []Station
	if err := gocsv.UnmarshalFile(f, &stations); err != nil {
		return nil, fmt.Errorf("load stations %s: %w", path, err)
	}
	for i, st := range stations {
		if st.Code == "" || st.State == "" {
			return nil, fmt.Errorf("load stations %s: row %d has no station code or state", path, i+1)
		}
	}
	return stations, nil
}

// LoadCoastal reads the coastal exclusion list and returns the set of
// excluded station codes.
func LoadCoastal(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load coastal list: %w", err)
	}
	defer f.Close()

	var rows []coastalRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("load coastal list %s: %w", path, err)
	}
	coastal := make(map[string]bool, len(rows))
	for _, r := range rows {
		coastal[r.Code] = true
	}
	return coastal, nil
}

// Eligible filters the catalogue down to the stations worth extracting:
// located in one of the given states and absent from the coastal list.
// Catalogue order is preserved.
func Eligible(stations []Station, states []string, coastal map[string]bool) []Station {
	wanted := make(map[string]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	var eligible []Station
	for _, st := range stations {
		if wanted[st.State] && !coastal[st.Code] {
			eligible = append(eligible, st)
		}
	}
	return eligible
}

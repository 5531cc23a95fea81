// Package store keeps per-station observation archives as CSV files in a
// flat directory. Each station owns at most one file and the file name
// carries the covered date range, so a directory listing is the whole
// catalogue of what has been fetched.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"climapower/internal/series"
)

// ErrNotFound reports that no archive file exists for the requested
// station, or that the archive directory holds no station files at all.
var ErrNotFound = errors.New("station file not found")

// Entry identifies one station file and the date range its name declares.
type Entry struct {
	Name  string
	Code  string
	Start time.Time
	End   time.Time
}

// Store reads and replaces station files under a single directory.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Scan lists every station file in the directory, sorted by file name.
// Files that do not match the station naming pattern are ignored. Scan
// returns ErrNotFound when the directory is missing or holds no station
// files.
func (s *Store) Scan() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scan %s: %w", s.dir, ErrNotFound)
		}
		return nil, fmt.Errorf("scan %s: %w", s.dir, err)
	}

	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		code, start, end, err := ParseFilename(de.Name())
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Code: code, Start: start, End: end})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("scan %s: %w", s.dir, ErrNotFound)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Find returns the entry for the given station code, or ErrNotFound.
func (s *Store) Find(code string) (Entry, error) {
	entries, err := s.Scan()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, fmt.Errorf("find %s: %w", code, ErrNotFound)
		}
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Code == code {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("find %s: %w", code, ErrNotFound)
}

// Read loads the archive for the given station code.
func (s *Store) Read(code string) (Entry, *series.Table, error) {
	entry, err := s.Find(code)
	if err != nil {
		return Entry{}, nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, entry.Name))
	if err != nil {
		return Entry{}, nil, fmt.Errorf("read %s: %w", entry.Name, err)
	}
	defer f.Close()

	table, err := series.ReadCSV(f)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("read %s: %w", entry.Name, err)
	}
	return entry, table, nil
}

// Replace writes the table as the station's new archive file named for the
// given date range, then removes any older file for the same station. The
// new file is written to a temporary name in the same directory, synced
// and renamed into place first, so a crash at any point leaves at least
// one complete file for the station on disk.
func (s *Store) Replace(code string, start, end time.Time, table *series.Table) (Entry, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}

	name := Filename(code, start, end)
	tmp, err := os.CreateTemp(s.dir, name+".tmp*")
	if err != nil {
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}
	defer os.Remove(tmp.Name())

	if err := table.WriteCSV(tmp); err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Entry{}, fmt.Errorf("replace %s: sync: %w", code, err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}

	if err := s.removeOthers(code, name); err != nil {
		return Entry{}, fmt.Errorf("replace %s: %w", code, err)
	}
	return Entry{Name: name, Code: code, Start: start, End: end}, nil
}

// removeOthers deletes every station file for code except keep. Run only
// after the replacement file is in place.
func (s *Store) removeOthers(code, keep string) error {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, de := range dirents {
		if de.IsDir() || de.Name() == keep {
			continue
		}
		c, _, _, err := ParseFilename(de.Name())
		if err != nil || c != code {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

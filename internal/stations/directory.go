// Package stations maps the station codes operators type to the service
// area ids the logistics site is queried with.
package stations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

var ErrUnknownStation = errors.New("unknown station")

const (
	ColumnParentLocation = "parent_location"
	ColumnStationCode    = "station_code"
	ColumnProviderCode   = "provider_code"
	ColumnServiceAreaId  = "service_area_id"
)

type Station struct {
	Code           string
	ServiceAreaId  string
	ParentLocation string
	ProviderCode   string
}

// LookupError is returned for a code that is not in the directory.
type LookupError struct {
	Code        string
	Suggestions []string
}

func (e *LookupError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown station %q", e.Code)
	}
	return fmt.Sprintf("unknown station %q (did you mean %s?)", e.Code, strings.Join(e.Suggestions, ", "))
}

func (e *LookupError) Is(target error) bool {
	return target == ErrUnknownStation
}

// Directory is an immutable station table.
type Directory struct {
	stations map[string]Station
	codes    []string
}

// NormalizeCode trims and upper-cases a station code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Parse reads a directory from CSV with a header row. station_code and
// service_area_id are required columns, the first row of a code wins.
func Parse(r io.Reader) (Directory, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return Directory{}, fmt.Errorf("station directory is empty")
	}
	if err != nil {
		return Directory{}, err
	}

	columns := map[string]int{}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		columns[name] = i
	}
	for _, required := range []string{ColumnStationCode, ColumnServiceAreaId} {
		if _, ok := columns[required]; !ok {
			return Directory{}, fmt.Errorf("station directory is missing column %q", required)
		}
	}

	field := func(record []string, column string) string {
		i, ok := columns[column]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	dir := Directory{stations: map[string]Station{}}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Directory{}, err
		}

		code := NormalizeCode(field(record, ColumnStationCode))
		areaId := field(record, ColumnServiceAreaId)
		if code == "" || areaId == "" {
			continue
		}
		if _, exists := dir.stations[code]; exists {
			continue
		}
		dir.stations[code] = Station{
			Code:           code,
			ServiceAreaId:  areaId,
			ParentLocation: field(record, ColumnParentLocation),
			ProviderCode:   field(record, ColumnProviderCode),
		}
		dir.codes = append(dir.codes, code)
	}
	return dir, nil
}

// Load parses the directory at path.
func Load(path string) (Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return Directory{}, fmt.Errorf("open station directory: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (d Directory) Len() int {
	return len(d.codes)
}

// Codes returns every code in file order.
func (d Directory) Codes() []string {
	return append([]string(nil), d.codes...)
}

func (d Directory) Station(code string) (Station, error) {
	code = NormalizeCode(code)
	station, ok := d.stations[code]
	if !ok {
		return Station{}, &LookupError{Code: code, Suggestions: d.Suggest(code, 3)}
	}
	return station, nil
}

// Lookup returns the service area id of a station code.
func (d Directory) Lookup(code string) (string, error) {
	station, err := d.Station(code)
	if err != nil {
		return "", err
	}
	return station.ServiceAreaId, nil
}

// Suggest returns up to n known codes most similar to code.
func (d Directory) Suggest(code string, n int) []string {
	type scored struct {
		code  string
		score float64
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil
	}

	candidates := []scored{}
	for _, known := range d.codes {
		score := matchr.JaroWinkler(code, known, false)
		if score < 0.7 {
			continue
		}
		candidates = append(candidates, scored{code: known, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := []string{}
	for i := 0; i < len(candidates) && i < n; i++ {
		out = append(out, candidates[i].code)
	}
	return out
}

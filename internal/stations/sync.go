package stations

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"routine-desk/lib/restyutil"
	"routine-desk/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

// ProviderNames maps the provider codes of the remote document to the names
// operators know them by, unmapped codes are kept as they are.
var ProviderNames = map[string]string{
	"ENSH": "ENSHU",
	"SATT": "LOGINET",
	"MRUK": "MARUWA",
	"SBCL": "SBS",
	"WKB":  "WAKABA",
}

type Syncer struct {
	SourceUrl string
	Path      string
	Client    *resty.Client
	Tel       telemetry.API
}

func NewSyncer(sourceUrl, path string, tel telemetry.API) Syncer {
	client := resty.New()
	restyutil.InstrumentClient(client, tel, nil)
	return Syncer{SourceUrl: sourceUrl, Path: path, Client: client, Tel: tel}
}

// Sync downloads the tab separated station document and rewrites the local
// directory from it, returning the number of stations written.
func (s Syncer) Sync(ctx context.Context) (int, error) {
	if s.SourceUrl == "" {
		return 0, fmt.Errorf("stations.source_url is not configured")
	}
	res, err := s.Client.R().SetContext(ctx).Get(s.SourceUrl)
	if err != nil {
		return 0, err
	}
	if res.IsError() {
		return 0, fmt.Errorf("download station document: %s", res.Status())
	}

	var out bytes.Buffer
	count, err := Convert(bytes.NewReader(res.Body()), &out)
	if err != nil {
		return 0, err
	}

	err = os.MkdirAll(filepath.Dir(s.Path), 0700)
	if err != nil {
		return 0, err
	}
	tmp := s.Path + ".tmp"
	err = os.WriteFile(tmp, out.Bytes(), 0600)
	if err != nil {
		return 0, err
	}
	err = os.Rename(tmp, s.Path)
	if err != nil {
		return 0, err
	}
	s.Tel.ReportDebug("syncer.sync", "stations", count, "path", s.Path)
	return count, nil
}

var syncColumns = []string{ColumnParentLocation, ColumnStationCode, ColumnProviderCode, ColumnServiceAreaId}

// Convert turns the tab separated document into the directory CSV. Rows
// whose parent location starts with "H" are dropped.
func Convert(r io.Reader, w io.Writer) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read station document header: %w", err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, name := range syncColumns {
		if _, ok := columns[name]; !ok {
			return 0, fmt.Errorf("station document is missing column %q", name)
		}
	}

	writer := csv.NewWriter(w)
	err = writer.Write(syncColumns)
	if err != nil {
		return 0, err
	}

	count := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		field := func(name string) string {
			i := columns[name]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		parent := field(ColumnParentLocation)
		if strings.HasPrefix(parent, "H") {
			continue
		}
		provider := field(ColumnProviderCode)
		if mapped, ok := ProviderNames[provider]; ok {
			provider = mapped
		}
		err = writer.Write([]string{parent, field(ColumnStationCode), provider, field(ColumnServiceAreaId)})
		if err != nil {
			return 0, err
		}
		count++
	}
	writer.Flush()
	return count, writer.Error()
}

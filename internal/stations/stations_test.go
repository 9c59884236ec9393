package stations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"routine-desk/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const directoryCsv = `parent_location,station_code,provider_code,service_area_id
KNT,dtk1,ENSHU,1001
KNT,DTK2,SBS,1002
KNT, DTK3 ,SBS,1003
KNT,DTK4,WAKABA,1004
KNS,XYZ9,MARUWA,2009
KNT,DTK1,ENSHU,9999
KNT,,SBS,3000
`

func writeDirectory(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "stations.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestParse(t *testing.T) {
	dir, err := Parse(strings.NewReader(directoryCsv))
	require.NoError(t, err)
	require.Equal(t, []string{"DTK1", "DTK2", "DTK3", "DTK4", "XYZ9"}, dir.Codes())

	id, err := dir.Lookup(" dtk1 ")
	require.NoError(t, err)
	require.Equal(t, "1001", id, "first occurrence wins")

	station, err := dir.Station("DTK3")
	require.NoError(t, err)
	require.Equal(t, Station{Code: "DTK3", ServiceAreaId: "1003", ParentLocation: "KNT", ProviderCode: "SBS"}, station)
}

func TestParseRequiredColumns(t *testing.T) {
	_, err := Parse(strings.NewReader("station_code,area\nDTK1,1\n"))
	require.ErrorContains(t, err, ColumnServiceAreaId)

	_, err = Parse(strings.NewReader(""))
	require.Error(t, err)

	dir, err := Parse(strings.NewReader("service_area_id,station_code\n77,abc\n"))
	require.NoError(t, err)
	id, err := dir.Lookup("ABC")
	require.NoError(t, err)
	require.Equal(t, "77", id)
}

func TestLookupUnknown(t *testing.T) {
	dir, err := Parse(strings.NewReader(directoryCsv))
	require.NoError(t, err)

	_, err = dir.Lookup("dtk5")
	require.ErrorIs(t, err, ErrUnknownStation)

	var lookupErr *LookupError
	require.True(t, errors.As(err, &lookupErr))
	require.Equal(t, "DTK5", lookupErr.Code)
	require.Len(t, lookupErr.Suggestions, 3)
	for _, suggestion := range lookupErr.Suggestions {
		require.True(t, strings.HasPrefix(suggestion, "DTK"), suggestion)
	}
	require.Contains(t, err.Error(), "did you mean")

	_, err = dir.Lookup("QQQQQQQ")
	require.ErrorIs(t, err, ErrUnknownStation)
}

func TestCache(t *testing.T) {
	path := writeDirectory(t, directoryCsv)
	cache := NewCache(path, time.Hour)

	dir, err := cache.Directory()
	require.NoError(t, err)
	require.Equal(t, 5, dir.Len())

	require.NoError(t, os.WriteFile(path, []byte("station_code,service_area_id\nNEW1,1\n"), 0600))
	dir, err = cache.Directory()
	require.NoError(t, err)
	require.Equal(t, 5, dir.Len(), "cached until the ttl expires")

	cache.Invalidate()
	dir, err = cache.Directory()
	require.NoError(t, err)
	require.Equal(t, []string{"NEW1"}, dir.Codes())
}

func TestCacheZeroTtlAlwaysReloads(t *testing.T) {
	path := writeDirectory(t, directoryCsv)
	cache := NewCache(path, 0)

	_, err := cache.Directory()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("station_code,service_area_id\nNEW1,1\n"), 0600))

	dir, err := cache.Directory()
	require.NoError(t, err)
	require.Equal(t, 1, dir.Len())
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := Loader{Path: filepath.Join(t.TempDir(), "nope.csv")}.Directory()
	require.ErrorIs(t, err, os.ErrNotExist)
}

const remoteDocument = "parent_location\tstation_code\tprovider_code\tservice_area_id\textra\n" +
	"KNT\tDTK1\tENSH\t1001\tx\n" +
	"HKD\tHKD1\tSATT\t5001\tx\n" +
	"KNS\tXYZ9\tMRUK\t2009\tx\n" +
	"KNS\tABC1\tOTHER\t2010\tx\n"

func TestConvert(t *testing.T) {
	var out strings.Builder
	count, err := Convert(strings.NewReader(remoteDocument), &out)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Equal(t,
		"parent_location,station_code,provider_code,service_area_id\n"+
			"KNT,DTK1,ENSHU,1001\n"+
			"KNS,XYZ9,MARUWA,2009\n"+
			"KNS,ABC1,OTHER,2010\n",
		out.String(),
	)
}

func TestSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, remoteDocument)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "state", "stations.csv")
	syncer := NewSyncer(server.URL, path, &telemetry.Recorder{})
	count, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count)

	dir, err := Load(path)
	require.NoError(t, err)
	id, err := dir.Lookup("xyz9")
	require.NoError(t, err)
	require.Equal(t, "2009", id)
}

func TestSyncHttpError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "stations.csv")
	_, err := NewSyncer(server.URL, path, &telemetry.Recorder{}).Sync(context.Background())
	require.Error(t, err)
	require.NoFileExists(t, path)
}

package configlibsql

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct is the config of a sqlite database, Url is either a path to a local
// file, ":memory:", or a libsql:// / http(s):// url of a remote database.
type Struct struct {
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) remote() bool {
	return strings.HasPrefix(config.Url, "libsql://") ||
		strings.HasPrefix(config.Url, "http://") ||
		strings.HasPrefix(config.Url, "https://")
}

func (config Struct) OpenDB() (*sql.DB, error) {
	if config.Url == "" {
		return nil, fmt.Errorf("a database url was not specified")
	}

	if config.remote() {
		url := config.Url
		if config.AuthToken != "" {
			url = fmt.Sprintf("%s?authToken=%s", url, config.AuthToken)
		}
		return sql.Open("libsql", url)
	}

	if config.Url != ":memory:" {
		err := os.MkdirAll(filepath.Dir(config.Url), 0700)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", config.Url)
	if err != nil {
		return nil, err
	}
	// sqlite only allows a single writer, WAL lets readers proceed while it writes
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

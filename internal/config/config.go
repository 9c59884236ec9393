// Package config is the application config of routine-desk, it is read from
// routine.json5 (plus routine.local.json5) and layered over Defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"routine-desk/lib/configutil"
	configlibsql "routine-desk/lib/configutil/libsql"
)

type Session struct {
	LoginUrl       string `json:"login_url"`
	MarkerPath     string `json:"marker_path"`
	SecretPath     string `json:"secret_path"`
	SecretEncoding string `json:"secret_encoding"`
	Wait           string `json:"wait"`
	SignInText     string `json:"sign_in_text"`
}

type Stations struct {
	CsvPath   string `json:"csv_path"`
	SourceUrl string `json:"source_url"`
	CacheTtl  string `json:"cache_ttl"`
}

type Logistics struct {
	BaseUrl string `json:"base_url"`
}

type Cortex struct {
	Attempts    uint   `json:"attempts"`
	Backoff     string `json:"backoff"`
	Wait        string `json:"wait"`
	FlexOnly    bool   `json:"flex_only"`
	CompanyName string `json:"company_name"`
}

type Roster struct {
	Attempts uint   `json:"attempts"`
	Backoff  string `json:"backoff"`
	Wait     string `json:"wait"`
}

type Batch struct {
	Workers int    `json:"workers"`
	Stagger string `json:"stagger"`
}

type Mail struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

type Http struct {
	BypassCloudflare bool   `json:"bypass_cloudflare"`
	DumpDir          string `json:"dump_dir"`
}

type Config struct {
	ProfileDir string `json:"profile_dir"`
	StateDir   string `json:"state_dir"`
	// Driver is either "chrome" or "http".
	Driver string `json:"driver"`
	// Timezone is an IANA zone name, empty means the local zone.
	Timezone string `json:"timezone"`

	Session   Session             `json:"session"`
	Stations  Stations            `json:"stations"`
	Logistics Logistics           `json:"logistics"`
	Cortex    Cortex              `json:"cortex"`
	Roster    Roster              `json:"roster"`
	Batch     Batch               `json:"batch"`
	Journal   configlibsql.Struct `json:"journal"`
	Mail      Mail                `json:"mail"`
	Http      Http                `json:"http"`
}

const (
	DriverChrome = "chrome"
	DriverHttp   = "http"
)

const (
	MinWorkers = 1
	MaxWorkers = 16
)

// Defaults returns the config used for every key not present in the config
// file, paths are rooted at <user config dir>/routine-desk.
func Defaults() Config {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	stateDir := filepath.Join(base, "routine-desk")
	profileDir := filepath.Join(stateDir, "profile")

	return Config{
		ProfileDir: profileDir,
		StateDir:   stateDir,
		Driver:     DriverChrome,
		Session: Session{
			MarkerPath:     filepath.Join(stateDir, "Midway"),
			SecretPath:     filepath.Join(stateDir, "secret"),
			SecretEncoding: "plain",
			Wait:           "30s",
			SignInText:     "Sign in",
		},
		Stations: Stations{
			CsvPath:  filepath.Join(stateDir, "stations.csv"),
			CacheTtl: "5m",
		},
		Cortex: Cortex{
			Attempts:    3,
			Backoff:     "2s",
			Wait:        "20s",
			CompanyName: "Amazon Flex",
		},
		Roster: Roster{
			Attempts: 5,
			Backoff:  "3s",
			Wait:     "20s",
		},
		Batch: Batch{
			Workers: 4,
		},
		Journal: configlibsql.Struct{
			Url: filepath.Join(stateDir, "journal.db"),
		},
		Mail: Mail{
			Port: 587,
		},
	}
}

// Load reads the config at path merged over Defaults, a missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err = configutil.WithDefaults(cfg, Defaults())
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if c.Driver != DriverChrome && c.Driver != DriverHttp {
		return fmt.Errorf("unknown driver %q, expected %q or %q", c.Driver, DriverChrome, DriverHttp)
	}
	durations := map[string]string{
		"session.wait":       c.Session.Wait,
		"stations.cache_ttl": c.Stations.CacheTtl,
		"cortex.backoff":     c.Cortex.Backoff,
		"cortex.wait":        c.Cortex.Wait,
		"roster.backoff":     c.Roster.Backoff,
		"roster.wait":        c.Roster.Wait,
		"batch.stagger":      c.Batch.Stagger,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		_, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Duration parses a duration that already passed Validate, "" is 0.
func Duration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// WorkerCount clamps the configured worker count into [MinWorkers, MaxWorkers].
func (b Batch) WorkerCount() int {
	return ClampWorkers(b.Workers)
}

func ClampWorkers(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// RequireLogistics returns an error when the logistics base url is missing.
func (c Config) RequireLogistics() error {
	if c.Logistics.BaseUrl == "" {
		return fmt.Errorf("logistics.base_url is not configured")
	}
	return nil
}

// RequireLogin returns an error when the login url is missing.
func (c Config) RequireLogin() error {
	if c.Session.LoginUrl == "" {
		return fmt.Errorf("session.login_url is not configured")
	}
	return nil
}

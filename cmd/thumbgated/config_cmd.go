// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thumbgate/thumbgate/internal/config"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  thumbgated config validate [--file|-f thumbgate.yaml]")
	fmt.Fprintln(os.Stderr, "  thumbgated config dump --effective [--file|-f thumbgate.yaml] [--format=yaml|json]")
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("thumbgated config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required (no thumbgate.yaml found via $THUMBGATE_CONFIG or the data dir)")
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fmt.Printf("✓ %s is valid\n", configPath)
	return 0
}

func runConfigDump(args []string) int {
	fs := flag.NewFlagSet("thumbgated config dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	var format string
	var effective bool

	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	fs.BoolVar(&effective, "effective", false, "dump effective configuration (defaults + file + env)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !effective {
		fmt.Fprintln(os.Stderr, "Error: --effective is required")
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	dump := dumpFromConfig(cfg.Sanitized())

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(dump); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dump); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

// dumpConfig mirrors config.Config for human-facing output: durations render
// as strings ("24h") instead of nanosecond integers.
type dumpConfig struct {
	Listen        string        `yaml:"listen" json:"listen"`
	MetricsListen string        `yaml:"metrics_listen" json:"metrics_listen"`
	DataDir       string        `yaml:"data_dir" json:"data_dir"`
	Cache         dumpCache     `yaml:"cache" json:"cache"`
	Origin        dumpOrigin    `yaml:"origin" json:"origin"`
	Prewarm       dumpPrewarm   `yaml:"prewarm" json:"prewarm"`
	Verify        dumpVerify    `yaml:"verify" json:"verify"`
	Index         dumpIndex     `yaml:"index" json:"index"`
	API           dumpAPI       `yaml:"api" json:"api"`
	Log           dumpLog       `yaml:"log" json:"log"`
	Telemetry     dumpTelemetry `yaml:"telemetry" json:"telemetry"`
}

type dumpCache struct {
	MaxBytes       int64   `yaml:"max_bytes" json:"max_bytes"`
	EntryMaxBytes  int64   `yaml:"entry_max_bytes" json:"entry_max_bytes"`
	Mode           string  `yaml:"mode" json:"mode"`
	OverrideTTL    string  `yaml:"override_ttl" json:"override_ttl"`
	HeuristicMax   string  `yaml:"heuristic_max" json:"heuristic_max"`
	StaleIfError   string  `yaml:"stale_if_error" json:"stale_if_error"`
	Offline        bool    `yaml:"offline" json:"offline"`
	FreeSpaceFloor float64 `yaml:"free_space_floor" json:"free_space_floor"`
}

type dumpOrigin struct {
	BaseURL    string      `yaml:"base_url" json:"base_url"`
	AllowHosts []string    `yaml:"allow_hosts" json:"allow_hosts"`
	Timeout    string      `yaml:"timeout" json:"timeout"`
	RateRPS    float64     `yaml:"rate_rps" json:"rate_rps"`
	RateBurst  int         `yaml:"rate_burst" json:"rate_burst"`
	Breaker    dumpBreaker `yaml:"breaker" json:"breaker"`
}

type dumpBreaker struct {
	FailureThreshold int    `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int    `yaml:"success_threshold" json:"success_threshold"`
	OpenInterval     string `yaml:"open_interval" json:"open_interval"`
}

type dumpPrewarm struct {
	Workers     int    `yaml:"workers" json:"workers"`
	Queue       int    `yaml:"queue" json:"queue"`
	Manifest    string `yaml:"manifest" json:"manifest"`
	Interval    string `yaml:"interval" json:"interval"`
	NegativeTTL string `yaml:"negative_ttl" json:"negative_ttl"`
}

type dumpVerify struct {
	Interval    string `yaml:"interval" json:"interval"`
	ProbeURL    string `yaml:"probe_url" json:"probe_url"`
	HistoryPath string `yaml:"history_path" json:"history_path"`
	Keep        int    `yaml:"keep" json:"keep"`
}

type dumpIndex struct {
	Backend string `yaml:"backend" json:"backend"`
	Badger  struct {
		Dir string `yaml:"dir" json:"dir"`
	} `yaml:"badger" json:"badger"`
	Redis struct {
		Addr     string `yaml:"addr" json:"addr"`
		Password string `yaml:"password" json:"password"`
		DB       int    `yaml:"db" json:"db"`
	} `yaml:"redis" json:"redis"`
}

type dumpAPI struct {
	Token          string   `yaml:"token" json:"token"`
	ReadToken      string   `yaml:"read_token" json:"read_token"`
	RateRPS        float64  `yaml:"rate_rps" json:"rate_rps"`
	RateBurst      int      `yaml:"rate_burst" json:"rate_burst"`
	CORSOrigins    []string `yaml:"cors_origins" json:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies"`
}

type dumpLog struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type dumpTelemetry struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

func dumpFromConfig(cfg config.Config) dumpConfig {
	d := dumpConfig{
		Listen:        cfg.Listen,
		MetricsListen: cfg.MetricsListen,
		DataDir:       cfg.DataDir,
		Cache: dumpCache{
			MaxBytes:       cfg.Cache.MaxBytes,
			EntryMaxBytes:  cfg.Cache.EntryMaxBytes,
			Mode:           cfg.Cache.Mode,
			OverrideTTL:    cfg.Cache.OverrideTTL.String(),
			HeuristicMax:   cfg.Cache.HeuristicMax.String(),
			StaleIfError:   cfg.Cache.StaleIfError.String(),
			Offline:        cfg.Cache.Offline,
			FreeSpaceFloor: cfg.Cache.FreeSpaceFloor,
		},
		Origin: dumpOrigin{
			BaseURL:    cfg.Origin.BaseURL,
			AllowHosts: cfg.Origin.AllowHosts,
			Timeout:    cfg.Origin.Timeout.String(),
			RateRPS:    cfg.Origin.RateRPS,
			RateBurst:  cfg.Origin.RateBurst,
			Breaker: dumpBreaker{
				FailureThreshold: cfg.Origin.Breaker.FailureThreshold,
				SuccessThreshold: cfg.Origin.Breaker.SuccessThreshold,
				OpenInterval:     cfg.Origin.Breaker.OpenInterval.String(),
			},
		},
		Prewarm: dumpPrewarm{
			Workers:     cfg.Prewarm.Workers,
			Queue:       cfg.Prewarm.Queue,
			Manifest:    cfg.Prewarm.Manifest,
			Interval:    cfg.Prewarm.Interval.String(),
			NegativeTTL: cfg.Prewarm.NegativeTTL.String(),
		},
		Verify: dumpVerify{
			Interval:    cfg.Verify.Interval.String(),
			ProbeURL:    cfg.Verify.ProbeURL,
			HistoryPath: cfg.HistoryPath(),
			Keep:        cfg.Verify.Keep,
		},
		API: dumpAPI{
			Token:          cfg.API.Token,
			ReadToken:      cfg.API.ReadToken,
			RateRPS:        cfg.API.RateRPS,
			RateBurst:      cfg.API.RateBurst,
			CORSOrigins:    cfg.API.CORSOrigins,
			TrustedProxies: cfg.API.TrustedProxies,
		},
		Log: dumpLog{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		},
		Telemetry: dumpTelemetry{
			Enabled:      cfg.Telemetry.Enabled,
			ServiceName:  cfg.Telemetry.ServiceName,
			Exporter:     cfg.Telemetry.Exporter,
			Endpoint:     cfg.Telemetry.Endpoint,
			SamplingRate: cfg.Telemetry.SamplingRate,
		},
	}
	d.Index.Backend = cfg.Index.Backend
	d.Index.Badger.Dir = cfg.BadgerDir()
	d.Index.Redis.Addr = cfg.Index.Redis.Addr
	d.Index.Redis.Password = cfg.Index.Redis.Password
	d.Index.Redis.DB = cfg.Index.Redis.DB
	return d
}

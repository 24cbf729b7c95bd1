package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// EvictionPolicy names one of the pluggable eviction strategies from
// spec.md §4.5.
type EvictionPolicy string

// Recognized eviction_policy values.
const (
	PolicyFIFO EvictionPolicy = "FIFO"
	PolicyLRU  EvictionPolicy = "LRU"
	PolicyLFU  EvictionPolicy = "LFU"
	PolicyLW   EvictionPolicy = "LW"
)

// Config holds every value spec.md §6 says is recognized in the server's
// key=value configuration file, plus the two ambient keys SPEC_FULL.md §6
// adds for operational wiring (admin_listen, log_level).
type Config struct {
	SocketPath      string
	LogFilePath     string
	AdminListen     string
	LogLevel        string
	EvictionPolicy  EvictionPolicy
	NWorkers        int
	QueueCapacity   int // 0 means unbounded
	MaxFileNum      int
	MaxBytes        int64
	MaxLocks        int
	ExpectedClients int
}

// Default returns the configuration spec.md §6 specifies when no config
// file is supplied or a key is absent from one.
func Default() Config {
	return Config{
		NWorkers:        4,
		QueueCapacity:   0,
		MaxFileNum:      10,
		MaxBytes:        1_000_000,
		MaxLocks:        100,
		ExpectedClients: 10,
		SocketPath:      "./storage_socket",
		LogFilePath:     "./log.csv",
		EvictionPolicy:  PolicyFIFO,
		AdminListen:     "",
		LogLevel:        "info",
	}
}

// Load reads a key=value configuration file from path, overlaying
// recognized keys onto Default(). An empty path is not an error — the
// caller may legitimately run with defaults only (spec.md's CLI makes -c
// optional). A non-empty path that cannot be opened is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	return Parse(f, cfg)
}

// Parse overlays key=value pairs read from r onto base, returning the
// merged configuration. Blank lines and lines starting with '#' are
// ignored; unrecognized keys are ignored rather than rejected, since the
// spec treats the config format itself as an external, loosely-lexed
// contract.
func Parse(r io.Reader, base Config) (Config, error) {
	cfg := base

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("config: malformed line %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := apply(&cfg, key, value); err != nil {
			return Config{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}

	return cfg, validate(cfg)
}

func apply(cfg *Config, key, value string) error {
	switch key {
	case "n_workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: n_workers: %w", err)
		}
		cfg.NWorkers = n
	case "dim_workers_queue":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: dim_workers_queue: %w", err)
		}
		cfg.QueueCapacity = n
	case "max_file_num":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: max_file_num: %w", err)
		}
		cfg.MaxFileNum = n
	case "max_bytes":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: max_bytes: %w", err)
		}
		cfg.MaxBytes = n
	case "max_locks":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: max_locks: %w", err)
		}
		cfg.MaxLocks = n
	case "expected_clients":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: expected_clients: %w", err)
		}
		cfg.ExpectedClients = n
	case "socket_path":
		cfg.SocketPath = value
	case "log_file_path":
		cfg.LogFilePath = value
	case "admin_listen":
		cfg.AdminListen = value
	case "log_level":
		cfg.LogLevel = value
	case "eviction_policy":
		policy := EvictionPolicy(strings.ToUpper(value))
		switch policy {
		case PolicyFIFO, PolicyLRU, PolicyLFU, PolicyLW:
			cfg.EvictionPolicy = policy
		default:
			return fmt.Errorf("config: unrecognized eviction_policy %q", value)
		}
	}
	// Unrecognized keys are ignored, not rejected.
	return nil
}

func validate(cfg Config) error {
	if cfg.NWorkers < 1 {
		return fmt.Errorf("config: n_workers must be >= 1, got %d", cfg.NWorkers)
	}
	if cfg.MaxFileNum < 1 {
		return fmt.Errorf("config: max_file_num must be >= 1, got %d", cfg.MaxFileNum)
	}
	if cfg.MaxBytes < 1 {
		return fmt.Errorf("config: max_bytes must be >= 1, got %d", cfg.MaxBytes)
	}
	if cfg.MaxLocks < 1 {
		return fmt.Errorf("config: max_locks must be >= 1, got %d", cfg.MaxLocks)
	}
	if cfg.SocketPath == "" {
		return fmt.Errorf("config: socket_path must not be empty")
	}
	return nil
}

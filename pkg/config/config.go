// Package config holds the strata engine configuration keys from spec.md
// §6. Parsing a configuration file format is explicitly out of scope;
// callers build a Config directly or via the With* functional options.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/strata/pkg/errs"
)

// Mode selects whether Client dispatches through the async backend queue
// or invokes the orchestrator inline.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// IOMode selects the L4 flush strategy. Only Posix and Aggregated have a
// concrete storage.Backend in this library; MPI and Library are accepted by
// Validate as recognized values, but no backend exists for them and
// levels.FlushL4 returns errs.Unsupported when either is selected.
type IOMode string

const (
	IOModePosix      IOMode = "posix"
	IOModeMPI        IOMode = "mpi"
	IOModeLibrary    IOMode = "library"
	IOModeAggregated IOMode = "aggregated"
)

const (
	DefaultBlockSize      = 64 * 1024
	MaxBlockSize          = 2 * 1024 * 1024
	DefaultMaxVersions    = 2
	DefaultScratchVersion = 2
	DefaultECInterval     = 1
	DefaultWatchdogSec    = 60
)

// Config is the engine-wide configuration, mirroring spec.md §6.
type Config struct {
	Scratch    string // required: fast node-local staging directory
	Persistent string // required: durable L4 directory
	Meta       string // metadata root; defaults to Scratch/meta if empty

	Mode           Mode
	QueuePrefix    string // async transport socket namespace; see pkg/queue.DefaultSocketPath
	MaxParallelism int
	Chksum         bool
	WatchdogInterval time.Duration
	MaxVersions      int
	ScratchVersions  int
	ECInterval       int
	TransferSize     int
	BlockSize        int
	IOMode           IOMode
	FailureDomain    string

	// Pluggable-backend passthrough, validated but not interpreted here.
	AXLType      string
	DAOSPoolUUID string
	DAOSContUUID string
}

// Option mutates a Config; used by New as functional options.
type Option func(*Config)

func WithScratch(dir string) Option     { return func(c *Config) { c.Scratch = dir } }
func WithPersistent(dir string) Option  { return func(c *Config) { c.Persistent = dir } }
func WithMeta(dir string) Option        { return func(c *Config) { c.Meta = dir } }
func WithMode(m Mode) Option            { return func(c *Config) { c.Mode = m } }
func WithQueuePrefix(p string) Option   { return func(c *Config) { c.QueuePrefix = p } }
func WithMaxParallelism(n int) Option   { return func(c *Config) { c.MaxParallelism = n } }
func WithChecksum(enabled bool) Option  { return func(c *Config) { c.Chksum = enabled } }
func WithWatchdog(d time.Duration) Option { return func(c *Config) { c.WatchdogInterval = d } }
func WithIOMode(m IOMode) Option        { return func(c *Config) { c.IOMode = m } }
func WithBlockSize(n int) Option        { return func(c *Config) { c.BlockSize = n } }
func WithFailureDomain(s string) Option { return func(c *Config) { c.FailureDomain = s } }

// New builds a Config with spec.md defaults, then applies opts.
func New(opts ...Option) *Config {
	c := &Config{
		Mode:             ModeSync,
		QueuePrefix:      "strata",
		MaxParallelism:   0, // 0 means "hardware concurrency", resolved by queue.NewServer
		Chksum:           true,
		WatchdogInterval: DefaultWatchdogSec * time.Second,
		MaxVersions:      DefaultMaxVersions,
		ScratchVersions:  DefaultScratchVersion,
		ECInterval:       DefaultECInterval,
		BlockSize:        DefaultBlockSize,
		IOMode:           IOModePosix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Meta == "" && c.Scratch != "" {
		c.Meta = c.Scratch + "/meta"
	}
	return c
}

// Validate checks the required keys and directory reachability, returning
// errs.ConfigInvalid wrapped with detail on failure. A fatal init error per
// §7.
func (c *Config) Validate() error {
	if c.Scratch == "" {
		return fmt.Errorf("scratch directory required: %w", errs.ConfigInvalid)
	}
	if c.Persistent == "" {
		return fmt.Errorf("persistent directory required: %w", errs.ConfigInvalid)
	}
	if c.Mode != ModeSync && c.Mode != ModeAsync {
		return fmt.Errorf("mode must be sync or async, got %q: %w", c.Mode, errs.ConfigInvalid)
	}
	switch c.IOMode {
	case IOModePosix, IOModeMPI, IOModeLibrary, IOModeAggregated:
	default:
		return fmt.Errorf("unrecognized io_mode %q: %w", c.IOMode, errs.ConfigInvalid)
	}
	if c.BlockSize <= 0 || c.BlockSize > MaxBlockSize {
		return fmt.Errorf("block_size must be in (0, %d], got %d: %w", MaxBlockSize, c.BlockSize, errs.ConfigInvalid)
	}
	for _, dir := range []string{c.Scratch, c.Persistent} {
		if err := ensureDir(dir); err != nil {
			return fmt.Errorf("directory %q unreachable: %w: %w", dir, err, errs.ConfigInvalid)
		}
	}
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}
	return nil
}

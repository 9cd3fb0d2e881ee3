// Package config handles goldos.toml machine configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/goldos/goldos/disk"
	"github.com/goldos/goldos/file"
	"github.com/goldos/goldos/process"
	"github.com/goldos/goldos/store"
)

const (
	DEFAULT_IMAGE = "eeprom.bin"

	STORE_MIN = disk.HEADER_SIZE + disk.BLOCK_OVERHEAD + disk.BLOCK_ALIGN
	STORE_MAX = disk.HEADER_SIZE + disk.BLOCK_OVERHEAD + disk.BLOCK_SIZE_MASK
)

// Config represents a goldos.toml machine configuration.
type Config struct {
	Store     Store     `toml:"store"`
	Files     Files     `toml:"files"`
	Processes Processes `toml:"processes"`
	Trace     Trace     `toml:"trace"`
}

// Store configures the persistent byte store.
type Store struct {
	Size       int    `toml:"size"`
	Image      string `toml:"image"`
	AutoFormat bool   `toml:"auto-format"`
}

// Files configures the open file table.
type Files struct {
	Capacity int `toml:"capacity"`
}

// Processes configures the process table.
type Processes struct {
	Slots int `toml:"slots"`
}

// Trace configures logging.
type Trace struct {
	Verbose      bool `toml:"verbose"`
	Instructions bool `toml:"instructions"`
}

// Default returns the configuration of an ATmega328p board.
func Default() (cfg Config) {
	cfg = Config{
		Store: Store{
			Size:       store.DEFAULT_SIZE,
			Image:      DEFAULT_IMAGE,
			AutoFormat: true,
		},
		Files: Files{
			Capacity: file.DEFAULT_CAPACITY,
		},
		Processes: Processes{
			Slots: process.PROCESSES_SIZE,
		},
	}

	return
}

// Parse overlays TOML text on the defaults.
func Parse(text string) (cfg Config, err error) {
	cfg = Default()

	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for n, key := range undecoded {
			keys[n] = key.String()
		}
		err = fmt.Errorf("%w: %v", ErrUnknownKey, strings.Join(keys, ", "))
		return
	}

	err = cfg.Validate()
	return
}

// Load parses a goldos.toml file. A missing file yields the defaults.
func Load(path string) (cfg Config, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		err = nil
		return
	}
	if err != nil {
		err = &ErrConfig{Path: path, Err: err}
		return
	}

	cfg, err = Parse(string(data))
	if err != nil {
		err = &ErrConfig{Path: path, Err: err}
		return
	}

	return
}

// Validate checks every setting is in range.
func (cfg *Config) Validate() (err error) {
	var errs []error

	if cfg.Store.Size < STORE_MIN || cfg.Store.Size > STORE_MAX {
		errs = append(errs, fmt.Errorf("%w: %d", ErrStoreSize, cfg.Store.Size))
	}
	if len(cfg.Store.Image) == 0 {
		errs = append(errs, ErrImage)
	}
	if cfg.Files.Capacity < 1 || cfg.Files.Capacity > math.MaxInt8 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrCapacity, cfg.Files.Capacity))
	}
	if cfg.Processes.Slots < 1 || cfg.Processes.Slots > math.MaxInt8 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrSlots, cfg.Processes.Slots))
	}

	err = errors.Join(errs...)
	return
}

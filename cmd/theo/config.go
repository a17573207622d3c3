// This file is part of theo.
//
// Copyright (C) 2024 GoRE Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goretk/theo/obf"
)

// defaultBase is where the simulated image starts.
const defaultBase = 0x1_4000_0000

var errBadExternal = errors.New("external must be name=address")

// config is the pipeline description read from YAML. Flags override it.
type config struct {
	Entry     string            `yaml:"entry"`
	Seed      *uint64           `yaml:"seed"`
	Base      uint64            `yaml:"base"`
	Passes    []string          `yaml:"passes"`
	Externals map[string]uint64 `yaml:"externals"`
}

func loadConfig(path string) (*config, error) {
	if path == "" {
		return &config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*config, error) {
	c := &config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	return c, nil
}

// addExternals parses name=address pairs into the config.
func (c *config) addExternals(pairs []string) error {
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return fmt.Errorf("%w: %q", errBadExternal, p)
		}
		addr, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("%w: %q: %w", errBadExternal, p, err)
		}
		if c.Externals == nil {
			c.Externals = make(map[string]uint64)
		}
		c.Externals[name] = addr
	}
	return nil
}

func (c *config) externals() map[string]uintptr {
	m := make(map[string]uintptr, len(c.Externals))
	for name, addr := range c.Externals {
		m[name] = uintptr(addr)
	}
	return m
}

func (c *config) base() uintptr {
	if c.Base == 0 {
		return defaultBase
	}
	return uintptr(c.Base)
}

// engine builds the configured passes. Without a seed the passes are
// randomized differently on every run.
func (c *config) engine(logger *slog.Logger) (*obf.Engine, error) {
	seed := rand.Uint64()
	if c.Seed != nil {
		seed = *c.Seed
	}
	logger.Debug("building passes", "passes", c.Passes, "seed", seed)
	return obf.Build(c.Passes, rand.New(rand.NewPCG(seed, seed)), logger)
}

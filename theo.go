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

/*
Package theo links a function out of a COFF static library into memory.

The library is decomposed into the symbols reachable from an entry symbol,
the symbols are rewritten by obfuscation passes and then linked into memory
handed out by the host.

	t := theo.New(lib, theo.Link{
		Allocator: mem.Allocate,
		Copier:    mem.Copy,
		Resolver:  resolve,
	}, "entry", theo.WithEngine(engine))
	if _, err := t.Decompose(); err != nil {
		return err
	}
	addr, err := t.Compose()
*/
package theo

import (
	"fmt"
	"log/slog"

	"github.com/goretk/theo/decomp"
	"github.com/goretk/theo/internal/xlog"
	"github.com/goretk/theo/obf"
	"github.com/goretk/theo/recomp"
	"github.com/goretk/theo/sym"
)

// Link holds the host callbacks used to place the image.
type Link struct {
	Allocator sym.Allocator
	Copier    sym.Copier
	Resolver  sym.Resolver
}

// Option configures a Theo.
type Option func(*Theo)

// WithEngine sets the passes run by Compose. Without it no passes run.
func WithEngine(e *obf.Engine) Option {
	return func(t *Theo) { t.engine = e }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(t *Theo) { t.logger = l }
}

// Theo decomposes a library and links the result.
type Theo struct {
	lib    []byte
	link   Link
	entry  string
	engine *obf.Engine
	logger *slog.Logger

	tbl        *sym.Table
	decomp     *decomp.Decomposer
	linker     *recomp.Linker
	decomposed bool
	rewritten  bool
	passErr    error
}

// New creates a Theo for the entry symbol of lib.
func New(lib []byte, link Link, entry string, opts ...Option) *Theo {
	t := &Theo{lib: lib, link: link, entry: entry, tbl: sym.NewTable()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = xlog.Or(t.logger)
	t.decomp = decomp.New(lib, t.tbl, t.logger)
	return t
}

// Decompose collects the symbols reachable from the entry and returns how
// many symbols the table holds.
func (t *Theo) Decompose() (int, error) {
	n, err := t.decomp.Decompose(t.entry)
	if err != nil {
		return 0, err
	}
	t.decomposed = true
	return n, nil
}

// Compose runs the passes and links the table. It returns the address of
// the entry symbol. Calling it again returns the same address without
// linking twice. The passes run at most once, so after a failed link a
// further call only retries the link.
func (t *Theo) Compose() (uintptr, error) {
	if !t.decomposed {
		return 0, ErrNotDecomposed
	}
	if t.linker != nil {
		return t.linker.Address(t.entry), nil
	}
	if err := t.rewrite(); err != nil {
		return 0, err
	}

	l := recomp.New(t.tbl, t.engine, t.link.Allocator, t.link.Copier, t.link.Resolver, t.logger)
	if err := l.Link(); err != nil {
		return 0, err
	}
	t.linker = l

	addr := l.Address(t.entry)
	if addr == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEntryNotLinked, t.entry)
	}
	t.logger.Info("linked library", "entry", t.entry, "addr", addr, "symbols", t.tbl.Len())
	return addr, nil
}

// rewrite runs the generic passes. Splitting passes must see whole
// functions and instruction passes must see every split instruction. A
// failing pass may leave symbols half rewritten, so it is not retried either.
func (t *Theo) rewrite() error {
	if t.rewritten {
		return t.passErr
	}
	t.rewritten = true

	phases := []sym.Kind{
		sym.KindFunction,
		sym.KindInstruction,
		sym.KindAll &^ (sym.KindFunction | sym.KindInstruction),
	}
	for _, kind := range phases {
		for _, s := range t.tbl.Kinds(kind) {
			if err := t.engine.Generic(s, t.tbl); err != nil {
				t.passErr = fmt.Errorf("pass failed on %s: %w", s.Name, err)
				return t.passErr
			}
		}
		t.logger.Debug("finished pass phase", "kind", kind, "symbols", t.tbl.Len())
	}
	return nil
}

// Resolve returns the address assigned to name, or zero.
func (t *Theo) Resolve(name string) uintptr {
	if s, ok := t.tbl.LookupName(name); ok {
		return s.Addr
	}
	return 0
}

// Table returns the symbol table.
func (t *Theo) Table() *sym.Table {
	return t.tbl
}

// Externals returns the names referenced by the closure that no object
// defines.
func (t *Theo) Externals() []string {
	return t.decomp.Externals()
}

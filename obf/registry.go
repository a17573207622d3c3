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

package obf

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
)

// DefaultPasses is the pipeline that splits functions and hides every
// successor, branch target and imm64 address.
var DefaultPasses = []string{"func-split", "reloc-transform", "next-inst", "jcc-rewrite"}

// PassNames lists the names Build understands.
func PassNames() []string {
	return []string{"func-split", "reloc-transform", "next-inst", "jcc-rewrite", "trace"}
}

// Build creates an engine running the named passes in order. All passes
// draw from rng.
func Build(names []string, rng *rand.Rand, logger *slog.Logger) (*Engine, error) {
	e := NewEngine()
	var next *NextInst
	nextInst := func() *NextInst {
		if next == nil {
			next = NewNextInst(rng, logger)
		}
		return next
	}

	for _, name := range names {
		switch name {
		case "func-split":
			e.Add(NewFuncSplit(logger))
		case "reloc-transform":
			e.Add(NewRelocTransform(rng, logger))
		case "next-inst":
			e.Add(nextInst())
		case "jcc-rewrite":
			e.Add(NewJccRewrite(nextInst(), logger))
		case "trace":
			e.Add(NewTrace(logger))
		default:
			return nil, fmt.Errorf("%w: %q, want one of %v", ErrUnknownPass, name, PassNames())
		}
	}
	return e, nil
}

// Has reports whether the engine runs a pass with the given name.
func (e *Engine) Has(name string) bool {
	return slices.ContainsFunc(e.passes, func(p Pass) bool { return p.Name() == name })
}

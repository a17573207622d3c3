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

import "github.com/goretk/theo/sym"

// Engine is an ordered list of passes. Registration order is significant:
// later passes see what earlier passes did to a symbol.
type Engine struct {
	passes []Pass
}

// NewEngine returns an engine running passes in the given order.
func NewEngine(passes ...Pass) *Engine {
	return &Engine{passes: passes}
}

// Add appends a pass.
func (e *Engine) Add(p Pass) {
	e.passes = append(e.passes, p)
}

// Passes returns the registered passes in order.
func (e *Engine) Passes() []Pass {
	return e.passes
}

// ForEach calls fn for every pass in registration order, without looking at
// the pass kind. It stops at the first error.
func (e *Engine) ForEach(s *sym.Symbol, fn func(s *sym.Symbol, p Pass) error) error {
	if e == nil {
		return nil
	}
	for _, p := range e.passes {
		if err := fn(s, p); err != nil {
			return err
		}
	}
	return nil
}

// Generic runs the generic hook of every pass on s.
func (e *Engine) Generic(s *sym.Symbol, tbl *sym.Table) error {
	return e.ForEach(s, func(s *sym.Symbol, p Pass) error {
		gp, ok := p.(GenericPass)
		if !ok {
			return nil
		}
		return gp.Generic(s, tbl)
	})
}

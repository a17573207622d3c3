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

// Command theo inspects and links COFF static libraries.
package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"

	"github.com/goretk/theo"
	"github.com/goretk/theo/decomp"
	"github.com/goretk/theo/host"
	"github.com/goretk/theo/sym"
)

func main() {
	app := cli.NewApp()
	app.Name = "theo"
	app.Usage = "link a function out of a COFF static library"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log pass and linker details"},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "inspect",
			Usage:     "print the symbols reachable from the entry symbol",
			ArgsUsage: "LIB",
			Action:    inspect,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "entry", Aliases: []string{"e"}, Required: true, Usage: "entry symbol"},
				&cli.BoolFlag{Name: "dump", Usage: "dump every symbol"},
			},
		},
		{
			Name:      "link",
			Usage:     "run the passes and link the library",
			ArgsUsage: "LIB",
			Action:    link,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "entry", Aliases: []string{"e"}, Usage: "entry symbol, overrides the pipeline"},
				&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "pipeline `FILE`"},
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write the simulated image to `FILE`"},
				&cli.BoolFlag{Name: "mmap", Usage: "link into mapped memory of this process"},
				&cli.Uint64Flag{Name: "seed", Usage: "seed for the passes"},
				&cli.StringSliceFlag{Name: "pass", Aliases: []string{"p"}, Usage: "pass to run, in order"},
				&cli.StringSliceFlag{Name: "external", Aliases: []string{"x"}, Usage: "`NAME=ADDR` of an external symbol"},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func logger(ctx *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if ctx.Bool("debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func library(ctx *cli.Context) ([]byte, error) {
	if ctx.NArg() != 1 {
		return nil, fmt.Errorf("expected one library, got %d arguments", ctx.NArg())
	}
	return os.ReadFile(ctx.Args().First())
}

func inspect(ctx *cli.Context) error {
	lib, err := library(ctx)
	if err != nil {
		return err
	}
	tbl := sym.NewTable()
	d := decomp.New(lib, tbl, logger(ctx))
	if _, err = d.Decompose(ctx.String("entry")); err != nil {
		return err
	}

	w := ctx.App.Writer
	if ctx.Bool("dump") {
		cfg := spew.ConfigState{Indent: "  ", MaxDepth: 3, DisablePointerAddresses: true, SortKeys: true}
		for _, s := range tbl.Symbols() {
			cfg.Fdump(w, s)
		}
	} else {
		printTable(w, tbl)
	}
	if ext := d.Externals(); len(ext) > 0 {
		fmt.Fprintf(w, "externals: %v\n", ext)
	}
	return nil
}

func link(ctx *cli.Context) error {
	lg := logger(ctx)
	lib, err := library(ctx)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	if ctx.IsSet("entry") {
		cfg.Entry = ctx.String("entry")
	}
	if ctx.IsSet("seed") {
		seed := ctx.Uint64("seed")
		cfg.Seed = &seed
	}
	if ctx.IsSet("pass") {
		cfg.Passes = ctx.StringSlice("pass")
	}
	if err := cfg.addExternals(ctx.StringSlice("external")); err != nil {
		return err
	}
	if cfg.Entry == "" {
		return errors.New("no entry symbol given")
	}
	engine, err := cfg.engine(lg)
	if err != nil {
		return err
	}

	var (
		l     theo.Link
		img   *host.Image
		mem   *host.Memory
		known = cfg.externals()
	)
	if ctx.Bool("mmap") {
		mem = host.NewMemory()
		defer mem.Release()
		l = theo.Link{Allocator: mem.Allocate, Copier: mem.Copy, Resolver: host.Symbols(known, nil)}
	} else {
		img = host.NewImage(cfg.base())
		l = theo.Link{Allocator: img.Allocate, Copier: img.Copy, Resolver: host.Symbols(known, img.Stub)}
	}

	t := theo.New(lib, l, cfg.Entry, theo.WithEngine(engine), theo.WithLogger(lg))
	if _, err := t.Decompose(); err != nil {
		return err
	}
	addr, err := t.Compose()
	if err != nil {
		return err
	}
	if mem != nil {
		if err := mem.Seal(); err != nil {
			return err
		}
	}

	w := ctx.App.Writer
	printTable(w, t.Table())
	fmt.Fprintf(w, "entry %s at %#x\n", cfg.Entry, addr)

	if out := ctx.String("out"); out != "" && img != nil {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := img.WriteTo(f); err != nil {
			return err
		}
	}
	return nil
}

func printTable(w io.Writer, tbl *sym.Table) {
	syms := tbl.Symbols()
	slices.SortStableFunc(syms, func(a, b *sym.Symbol) int {
		return cmp.Compare(a.Addr, b.Addr)
	})

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDR\tKIND\tNAME\tSIZE\tRELOCS")
	for _, s := range syms {
		fmt.Fprintf(tw, "%#x\t%s\t%s\t%d\t%d\n", s.Addr, s.Kind, s.Name, s.Size(), len(s.Relocations))
	}
	tw.Flush()
}

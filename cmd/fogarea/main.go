// Command fogarea prints the explored area of a sync archive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/cellsummary"
	"github.com/mohammed-shakir/fogmap-area/internal/importer"
	"github.com/mohammed-shakir/fogmap-area/internal/logger"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	Archive  string
	Strategy string
	Parallel int
	Cells    int
	Compare  bool
	JSON     bool
}

type result struct {
	Strategy string  `json:"strategy"`
	Area     float64 `json:"area_m2"`
	Millis   float64 `json:"ms"`
}

type output struct {
	Archive  string               `json:"archive"`
	Blocks   int                  `json:"blocks"`
	Pixels   int64                `json:"pixels"`
	Results  []result             `json:"results"`
	Warnings []importer.Warning   `json:"warnings,omitempty"`
	Report   *area.Report         `json:"report,omitempty"`
	Cells    *cellsummary.Summary `json:"cells,omitempty"`
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("fogarea", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.Archive, "archive", "", "Path to the sync archive (zip of tile files)")
	fs.StringVar(&o.Strategy, "strategy", area.Exact.String(), "Strategy name, comma list or \"all\"")
	fs.IntVar(&o.Parallel, "parallel", 1, "Shards for the parallel reduction (1 = sequential)")
	fs.IntVar(&o.Cells, "cells", -1, "Also print per-H3-cell areas at this resolution (-1 = off)")
	fs.BoolVar(&o.Compare, "compare", false, "Report the spread between all strategies")
	fs.BoolVar(&o.JSON, "json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.Archive == "" {
		return o, errors.New("-archive is required")
	}
	return o, nil
}

func parseStrategies(s string) ([]area.Strategy, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return area.AllStrategies(), nil
	}
	var out []area.Strategy
	for name := range strings.SplitSeq(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		st, err := area.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil, errors.New("no strategy given")
	}
	return out, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "fogarea:", err)
		return 2
	}
	zl := logger.Build(logger.Config{Level: "warn", Console: true, Component: "fogarea"}, stderr)
	log := logger.NewSlog(&zl)

	strategies, err := parseStrategies(o.Strategy)
	if err != nil {
		fmt.Fprintln(stderr, "fogarea:", err)
		return 2
	}

	bm, warns, err := importer.LoadSyncArchive(o.Archive)
	if err != nil {
		log.Error("import failed", "archive", o.Archive, "err", err)
		return 1
	}
	for _, w := range warns {
		log.Warn("skipped tile data", "entry", w.Entry, "reason", w.Reason, "detail", w.Detail)
	}

	est := area.New()
	out := output{
		Archive:  o.Archive,
		Blocks:   bm.Len(),
		Pixels:   bm.Popcount(),
		Warnings: warns,
	}
	ctx := context.Background()
	for _, st := range strategies {
		start := time.Now()
		a, err := est.ParallelTotalArea(ctx, bm, st, o.Parallel)
		if err != nil {
			log.Error("area failed", "strategy", st.String(), "err", err)
			return 1
		}
		out.Results = append(out.Results, result{
			Strategy: st.String(),
			Area:     a,
			Millis:   float64(time.Since(start).Microseconds()) / 1000,
		})
	}
	if o.Compare {
		rep, err := est.Compare(bm)
		if err != nil {
			log.Error("compare failed", "err", err)
			return 1
		}
		out.Report = &rep
	}
	if o.Cells >= 0 {
		sum, err := cellsummary.New(est).Summarize(bm, o.Cells, strategies[0])
		if err != nil {
			log.Error("cell summary failed", "res", o.Cells, "err", err)
			return 1
		}
		out.Cells = &sum
	}

	if o.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Error("write output", "err", err)
			return 1
		}
		return 0
	}
	printTable(stdout, out)
	return 0
}

func printTable(w io.Writer, out output) {
	fmt.Fprintf(w, "%s: %d blocks, %d pixels, %d warnings\n", out.Archive, out.Blocks, out.Pixels, len(out.Warnings))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tAREA_M2\tAREA_KM2\tMS")
	for _, r := range out.Results {
		fmt.Fprintf(tw, "%s\t%.3f\t%.6f\t%.2f\n", r.Strategy, r.Area, r.Area/1e6, r.Millis)
	}
	_ = tw.Flush()
	if out.Report != nil {
		fmt.Fprintf(w, "max spread %.3f m2, within tolerance: %t\n", out.Report.MaxSpread, out.Report.WithinTolerance)
	}
	if out.Cells != nil {
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "H3 CELL (res %d)\tBLOCKS\tAREA_M2\n", out.Cells.Res)
		for _, c := range out.Cells.Cells {
			fmt.Fprintf(tw, "%s\t%d\t%.3f\n", c.Cell, c.Blocks, c.Area)
		}
		_ = tw.Flush()
	}
}

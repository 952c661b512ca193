// Package cellsummary breaks the area of a coverage bitmap down by H3 cell.
package cellsummary

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/coverage"
	"github.com/mohammed-shakir/fogmap-area/internal/tiling"
)

// DefaultRes is about 5 km² per cell, a few blocks at mid latitudes.
const DefaultRes = 7

type Cell struct {
	Cell   string  `json:"cell"`
	Area   float64 `json:"area_m2"`
	Blocks int     `json:"blocks"`
}

type Summary struct {
	Res      int     `json:"res"`
	Strategy string  `json:"strategy"`
	Cells    []Cell  `json:"cells"`
	Total    float64 `json:"total_m2"`
}

type Summarizer struct {
	est *area.Estimator
}

func New(est *area.Estimator) *Summarizer {
	if est == nil {
		est = area.New()
	}
	return &Summarizer{est: est}
}

// Summarize assigns each block, whole, to the cell containing the block
// center. Cells come back sorted by index string.
func (s *Summarizer) Summarize(src coverage.Source, res int, strat area.Strategy) (Summary, error) {
	if err := validateRes(res); err != nil {
		return Summary{}, err
	}
	byCell := make(map[h3.Cell]*Cell)
	for k, blk := range src.Blocks() {
		a, err := s.est.BlockArea(k, blk, strat)
		if err != nil {
			return Summary{}, err
		}
		c, err := blockCell(k, res)
		if err != nil {
			return Summary{}, err
		}
		agg, ok := byCell[c]
		if !ok {
			agg = &Cell{Cell: c.String()}
			byCell[c] = agg
		}
		agg.Area += a
		agg.Blocks++
	}
	return build(res, strat.String(), byCell), nil
}

// Rollup re-aggregates a summary at a coarser resolution.
func Rollup(sum Summary, parentRes int) (Summary, error) {
	if err := validateRes(parentRes); err != nil {
		return Summary{}, err
	}
	if parentRes > sum.Res {
		return Summary{}, fmt.Errorf("parentRes %d must be <= summary resolution %d", parentRes, sum.Res)
	}
	byCell := make(map[h3.Cell]*Cell, len(sum.Cells))
	for _, in := range sum.Cells {
		p, err := toParent(in.Cell, parentRes)
		if err != nil {
			return Summary{}, err
		}
		agg, ok := byCell[p]
		if !ok {
			agg = &Cell{Cell: p.String()}
			byCell[p] = agg
		}
		agg.Area += in.Area
		agg.Blocks += in.Blocks
	}
	return build(parentRes, sum.Strategy, byCell), nil
}

func build(res int, strategy string, byCell map[h3.Cell]*Cell) Summary {
	out := Summary{Res: res, Strategy: strategy, Cells: make([]Cell, 0, len(byCell))}
	for _, c := range byCell {
		out.Cells = append(out.Cells, *c)
	}
	sort.Slice(out.Cells, func(i, j int) bool { return out.Cells[i].Cell < out.Cells[j].Cell })
	for _, c := range out.Cells {
		out.Total += c.Area
	}
	return out
}

func blockCell(k coverage.BlockKey, res int) (h3.Cell, error) {
	half := int64(coverage.BlockWidth / 2)
	lng, lat, err := tiling.PixelLngLat(k.FirstCol()+half, k.FirstRow()+half, tiling.Zoom)
	if err != nil {
		return 0, fmt.Errorf("block %s: %w", k, err)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return 0, fmt.Errorf("h3 cell of block %s: %w", k, err)
	}
	return c, nil
}

func toParent(cell string, parentRes int) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", cell)
	}
	if parentRes == c.Resolution() {
		return c, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return 0, fmt.Errorf("h3 parent: %w", err)
	}
	return p, nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpmo implements Greedy Placement for Magnet Optimization: a discrete
// combinatorial search that commits full-strength dipoles one (or a few) at a
// time to minimize the normal-field residual, with multi-placement,
// backtracking and arbitrary-polarization variants.
package gpmo

import "errors"

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
)

var (
	// ErrBadConfig reports an invalid placement parameter.
	ErrBadConfig = errors.New("gpmo: invalid configuration")
	// ErrHistoryBudget reports nhistory exceeding the placement budget K.
	ErrHistoryBudget = errors.New("gpmo: nhistory must not exceed K")
	// ErrMissingAxes reports a fixed-axis variant on a model without polarization axes.
	ErrMissingAxes = errors.New("gpmo: model has no polarization axes")
	// ErrMissingPolVectors reports an arbitrary-vector variant on a model without polarization sets.
	ErrMissingPolVectors = errors.New("gpmo: model has no polarization vector sets")
	// ErrMissingGrid reports a spatial variant on a model without grid coordinates.
	ErrMissingGrid = errors.New("gpmo: model has no grid coordinates")
	// ErrCoordinateSystem reports an arbitrary-vector variant on a non-cartesian grid.
	ErrCoordinateSystem = errors.New("gpmo: arbitrary polarization vectors require a cartesian grid")
)

// Algorithm selects the greedy placement variant.
type Algorithm int

const (
	// Baseline commits the single best (site, ±axis) pair per step.
	Baseline Algorithm = iota
	// Multi commits several top-ranked non-conflicting sites per step.
	Multi
	// Backtracking periodically reverses recent commitments that no longer
	// reduce the residual.
	Backtracking
	// ArbVec selects polarizations from a finite candidate set per site.
	ArbVec
	// ArbVecBacktracking combines ArbVec selection with backtracking.
	ArbVecBacktracking
)

func (a Algorithm) String() string {
	switch a {
	case Baseline:
		return "baseline"
	case Multi:
		return "multi"
	case Backtracking:
		return "backtracking"
	case ArbVec:
		return "ArbVec"
	case ArbVecBacktracking:
		return "ArbVec_backtracking"
	}
	return "unknown"
}

func (a Algorithm) known() bool {
	return a >= Baseline && a <= ArbVecBacktracking
}

// arbitrary reports whether polarizations come from per-site candidate sets.
func (a Algorithm) arbitrary() bool {
	return a == ArbVec || a == ArbVecBacktracking
}

// backtracks reports whether the variant runs periodic reversal sweeps.
func (a Algorithm) backtracks() bool {
	return a == Backtracking || a == ArbVecBacktracking
}

// needsGrid reports whether the variant reasons about site coordinates.
func (a Algorithm) needsGrid() bool {
	return a == Multi || a.backtracks()
}

// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpmo

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/stelloptim/pmopt/dipole"
)

// LogLevel controls the frequency and type of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogLast print warnings and the final state of a run.
	LogLast LogLevel = 0
	// LogEval print the residual error at every history checkpoint.
	LogEval LogLevel = 1
)

// Logger handles logging output for the placement engine.
// The writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Msg, format, a...)
}

// Backtrack configures the periodic reversal sweeps.
type Backtrack struct {
	// Frequency is the number of placements between sweeps.
	Frequency int
	// Window bounds the rolling log of revisitable commitments.
	// Defaults to Frequency.
	Window int
	// Tolerance is the allowed increase of ‖r‖² when reversing a commitment.
	Tolerance float64
}

// Problem specifies a greedy placement problem.
type Problem struct {
	// Model is the shared objective model; it is only read during a run.
	// Fixed-axis variants require Axes, arbitrary-vector variants require
	// PolVectors on a cartesian grid, and spatial variants require GridXYZ.
	Model *dipole.Model
	// Algorithm selects the placement variant.
	Algorithm Algorithm
	// K is the total placement budget. Budgets beyond the number of available
	// sites are clamped with a logged warning.
	K int
	// NHistory is the number of checkpoints recorded across the K placements.
	// Must not exceed K; zero records only the final state.
	NHistory int
	// RegL2 adds the convex penalty reg·‖mmaxᵢ·pᵢ‖² per committed site,
	// folded into each candidate's selection score.
	RegL2 float64
	// Backtrack configures the reversal sweeps; only read by the
	// backtracking variants.
	Backtrack Backtrack
	// NAdjacent is the number of placements committed per round by Multi.
	// Defaults to 1.
	NAdjacent int
	// MinSeparation keeps sites committed within one Multi round at least
	// this far apart.
	MinSeparation float64
	// Workers bounds the parallelism of candidate scans.
	// Defaults to GOMAXPROCS.
	Workers int
}

// New validates the problem and creates a placement optimizer.
// All configuration errors are raised here, before any computation starts;
// an oversized K is clamped and logged rather than rejected.
func (p *Problem) New(logger *Logger) (*Optimizer, error) {

	if logger == nil {
		logger = &Logger{Level: LogNoop}
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	if p.Model == nil {
		return nil, fmt.Errorf("%w: objective model is required", ErrBadConfig)
	}
	if err := p.Model.Validate(); err != nil {
		return nil, err
	}

	md := p.Model
	var err error
	switch {
	case !p.Algorithm.known():
		err = fmt.Errorf("%w: unknown algorithm %v", ErrBadConfig, p.Algorithm)
	case p.K <= 0:
		err = fmt.Errorf("%w: placement budget K must greater than 0", ErrBadConfig)
	case p.NHistory < 0:
		err = fmt.Errorf("%w: nhistory must not be negative", ErrBadConfig)
	case p.NHistory > p.K:
		err = fmt.Errorf("%w: nhistory %d, K %d", ErrHistoryBudget, p.NHistory, p.K)
	case p.RegL2 < zero:
		err = fmt.Errorf("%w: reg_l2 must not be negative", ErrBadConfig)
	case p.Backtrack.Tolerance < zero:
		err = fmt.Errorf("%w: backtracking tolerance must not be negative", ErrBadConfig)
	case p.MinSeparation < zero:
		err = fmt.Errorf("%w: minimum separation must not be negative", ErrBadConfig)
	case !p.Algorithm.arbitrary() && md.Axes == nil:
		err = ErrMissingAxes
	case p.Algorithm.arbitrary() && md.PolVectors == nil:
		err = ErrMissingPolVectors
	case p.Algorithm.arbitrary() && md.Coordinates != dipole.Cartesian:
		err = fmt.Errorf("%w: grid is %v", ErrCoordinateSystem, md.Coordinates)
	case p.Algorithm.needsGrid() && md.GridXYZ == nil:
		err = fmt.Errorf("%w: %v requires grid coordinates", ErrMissingGrid, p.Algorithm)
	}
	if err != nil {
		return nil, err
	}

	if p.Algorithm.arbitrary() {
		for i, set := range md.PolVectors {
			if len(set) == 0 {
				return nil, fmt.Errorf("%w: empty polarization set at site %d", ErrMissingPolVectors, i)
			}
		}
	}

	k := p.K
	if n := md.NumSites(); k > n {
		if logger.enable(LogLast) {
			logger.log("Placement budget K = %d exceeds the %d available sites; clamping K to %d\n", k, n, n)
		}
		k = n
	}

	bt := p.Backtrack
	if p.Algorithm.backtracks() {
		if bt.Frequency <= 0 {
			bt.Frequency = 100
		}
		if bt.Window <= 0 {
			bt.Window = bt.Frequency
		}
	}

	nAdjacent := p.NAdjacent
	if nAdjacent <= 0 {
		nAdjacent = 1
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Optimizer{
		model:     md,
		algorithm: p.Algorithm,
		k:         k,
		nhistory:  p.NHistory,
		regL2:     p.RegL2,
		backtrack: bt,
		nAdjacent: nAdjacent,
		minSep:    p.MinSeparation,
		workers:   workers,
		logger:    *logger,
	}, nil
}

// Optimizer runs the greedy placement search. The optimizer itself is
// immutable; Run allocates fresh engine state per call, so one optimizer may
// be reused across runs.
type Optimizer struct {
	model     *dipole.Model
	algorithm Algorithm
	k         int
	nhistory  int
	regL2     float64
	backtrack Backtrack
	nAdjacent int
	minSep    float64
	workers   int
	logger    Logger
}

// Result contains the outcome of a placement run.
type Result struct {
	// M is the final binary moment assignment, pre-scaled by the per-site
	// magnitude bound: every committed site carries mmaxᵢ·pᵢ.
	M dipole.Moments
	// Errors is the squared residual ‖A·m − b‖² (plus the reg_l2 term when
	// configured) at every checkpoint.
	Errors []float64
	// BnErrors is the mean |B·n| field error at every checkpoint.
	BnErrors []float64
	// MHistory snapshots the moment assignment at every checkpoint.
	MHistory []dipole.Moments
	// NumNonzeros records the count of committed magnets after each
	// backtracking sweep; empty for non-backtracking variants.
	NumNonzeros []int
	Summary
}

// Summary contains a summary of the placement process.
type Summary struct {
	Algorithm Algorithm
	// K is the effective placement budget after clamping.
	K int
	// NumPlaced counts commitments, NumRemoved reversals; the final number of
	// magnets is NumPlaced − NumRemoved.
	NumPlaced, NumRemoved int
}

// Run executes the configured placement variant to its budget.
// Non-improving steps and exhausted budgets are not errors; the best
// assignment found and the full histories are always returned.
func (o *Optimizer) Run() *Result {
	e := o.newEngine()
	switch o.algorithm {
	case Multi:
		e.runMulti()
	default:
		e.runSequential()
	}
	return e.result()
}

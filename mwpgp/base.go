// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mwpgp solves the convex half of the permanent magnet placement
// problem: a bound-constrained quadratic program over per-site L2 balls,
// driven either standalone or inside the relax-and-split orchestration that
// alternates it with a proximal sparsity step.
package mwpgp

import "errors"

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0

	// defaultNu makes the relaxation term negligible unless configured.
	defaultNu = 1e100

	// boundTol decides when a site counts as sitting on its magnitude bound.
	boundTol = 1e-12

	// guessTol is the feasibility tolerance for the initial guess.
	guessTol = 1e-8

	// alphaMargin keeps the maximal step strictly inside the stability region.
	alphaMargin = 1e-5
)

var (
	// ErrExclusiveReg reports L0 and L1 regularization configured together.
	ErrExclusiveReg = errors.New("mwpgp: L0 and L1 regularization cannot be used concurrently")
	// ErrBadConfig reports an invalid solver parameter.
	ErrBadConfig = errors.New("mwpgp: invalid configuration")
)

// Status is the terminal state of an optimization run.
type Status int

const (
	StatusUnknown Status = iota
	// ConvProjGrad: the projected gradient norm fell below the tolerance.
	ConvProjGrad
	// OverIterLimit: the convex iteration budget was exhausted; the best
	// iterate found is still returned, this is not an error.
	OverIterLimit
	// Converged: relax-and-split split distance ‖m − m_proxy‖ fell below epsilon.
	Converged
	// MaxIterReached: the relax-and-split budget was exhausted.
	MaxIterReached
)

func (s Status) String() string {
	switch s {
	case ConvProjGrad:
		return "CONVERGENCE: NORM_OF_PROJECTED_GRADIENT_<=_EPS"
	case OverIterLimit:
		return "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	case Converged:
		return "CONVERGENCE: SPLIT_DISTANCE_<=_EPS_RS"
	case MaxIterReached:
		return "STOP: TOTAL NO. of RELAX-SPLIT ITERATIONS REACHED LIMIT"
	}
	return "UNKNOWN TASK"
}

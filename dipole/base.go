// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dipole defines the objective model shared by the permanent magnet
// optimizers: the influence operator mapping dipole moments to normal-field
// residuals, the per-site magnitude bounds, and the pure projection and
// proximal operators acting on moment assignments.
package dipole

import "errors"

const (
	zero = 0.0
	one  = 1.0
)

var (
	// ErrDimensionMismatch reports an array whose shape disagrees with the model.
	ErrDimensionMismatch = errors.New("dipole: dimension mismatch")
	// ErrNonPositiveBound reports a magnitude bound ≤ 0.
	ErrNonPositiveBound = errors.New("dipole: magnitude bound must be positive")
	// ErrNilOperator reports a model without an influence operator.
	ErrNilOperator = errors.New("dipole: influence operator is required")
	// ErrInfeasibleGuess reports an initial moment guess violating its magnitude bounds.
	ErrInfeasibleGuess = errors.New("dipole: initial guess violates magnitude bounds")
)

// CoordinateSystem identifies the basis the dipole grid was built in.
// It is fixed at grid construction time and only inspected here; variants
// restricted to cartesian grids validate against it.
type CoordinateSystem int

const (
	Cartesian CoordinateSystem = iota
	Cylindrical
	Toroidal
)

func (c CoordinateSystem) String() string {
	switch c {
	case Cartesian:
		return "cartesian"
	case Cylindrical:
		return "cylindrical"
	case Toroidal:
		return "toroidal"
	}
	return "unknown"
}

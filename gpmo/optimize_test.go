// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpmo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/stelloptim/pmopt/dipole"
)

// axisModel couples every field sample to exactly one moment component
// (A = I of size 3N) and fixes every polarization axis along +x, so the best
// placement at site i cancels b[3i] exactly when b[3i] matches mmaxᵢ.
func axisModel(t *testing.T, b []float64) *dipole.Model {
	t.Helper()
	require.Zero(t, len(b)%3)
	n := len(b) / 3
	a := mat.NewDense(3*n, 3*n, nil)
	for i := 0; i < 3*n; i++ {
		a.Set(i, i, 1)
	}
	mmax := make([]float64, n)
	axes := make([]dipole.Vec3, n)
	for i := range mmax {
		mmax[i] = 1
		axes[i] = dipole.Vec3{1, 0, 0}
	}
	md := &dipole.Model{A: a, B: b, Mmax: mmax, Axes: axes}
	require.NoError(t, md.Validate())
	return md
}

func TestNewConfigErrors(t *testing.T) {
	md := axisModel(t, make([]float64, 12))
	noAxes := &dipole.Model{A: md.A, B: md.B, Mmax: md.Mmax}
	polarized := &dipole.Model{
		A: md.A, B: md.B, Mmax: md.Mmax,
		PolVectors: [][]dipole.Vec3{
			{{1, 0, 0}}, {{1, 0, 0}}, {{1, 0, 0}}, {{1, 0, 0}},
		},
	}
	cylindrical := &dipole.Model{
		A: md.A, B: md.B, Mmax: md.Mmax,
		PolVectors:  polarized.PolVectors,
		Coordinates: dipole.Cylindrical,
	}
	emptySet := &dipole.Model{
		A: md.A, B: md.B, Mmax: md.Mmax,
		PolVectors: [][]dipole.Vec3{
			{{1, 0, 0}}, {}, {{1, 0, 0}}, {{1, 0, 0}},
		},
	}

	tests := []struct {
		name string
		p    Problem
		want error
	}{
		{"nil model", Problem{K: 4}, ErrBadConfig},
		{"unknown algorithm", Problem{Model: md, Algorithm: Algorithm(99), K: 4}, ErrBadConfig},
		{"zero budget", Problem{Model: md}, ErrBadConfig},
		{"negative history", Problem{Model: md, K: 4, NHistory: -1}, ErrBadConfig},
		{"history over budget", Problem{Model: md, K: 4, NHistory: 5}, ErrHistoryBudget},
		{"negative reg", Problem{Model: md, K: 4, RegL2: -1}, ErrBadConfig},
		{"negative tolerance", Problem{Model: md, K: 4, Backtrack: Backtrack{Tolerance: -1}}, ErrBadConfig},
		{"no axes", Problem{Model: noAxes, K: 4}, ErrMissingAxes},
		{"no polarization sets", Problem{Model: md, Algorithm: ArbVec, K: 4}, ErrMissingPolVectors},
		{"empty polarization set", Problem{Model: emptySet, Algorithm: ArbVec, K: 4}, ErrMissingPolVectors},
		{"cylindrical grid", Problem{Model: cylindrical, Algorithm: ArbVec, K: 4}, ErrCoordinateSystem},
		{"backtracking without grid", Problem{Model: md, Algorithm: Backtracking, K: 4}, ErrMissingGrid},
		{"multi without grid", Problem{Model: md, Algorithm: Multi, K: 4}, ErrMissingGrid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.New(nil)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBaselineToyPlacement(t *testing.T) {
	// only site 2 can cancel any field, at full strength along +x
	b := make([]float64, 12)
	b[6] = 1
	md := axisModel(t, b)

	opt, err := (&Problem{Model: md, Algorithm: Baseline, K: 1, NHistory: 1, Workers: 3}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Equal(t, 1, res.NumPlaced)
	require.Zero(t, res.NumRemoved)
	require.Equal(t, dipole.Vec3{1, 0, 0}, res.M[2])
	require.Equal(t, 1, res.M.NumNonzero())
	require.Len(t, res.Errors, 1)
	require.InDelta(t, 0, res.Errors[0], 1e-12)
	require.InDelta(t, 0, res.BnErrors[0], 1e-12)
}

func TestRegularizationInHistory(t *testing.T) {
	b := make([]float64, 3)
	b[0] = 1
	md := axisModel(t, b)

	opt, err := (&Problem{Model: md, Algorithm: Baseline, K: 1, NHistory: 1, RegL2: 1}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	// residual is cancelled exactly, leaving only the regL2·mmax² penalty
	require.InDelta(t, 1, res.Errors[0], 1e-12)
}

func TestBudgetClampWarning(t *testing.T) {
	b := make([]float64, 12)
	for i := 0; i < 4; i++ {
		b[3*i] = 1
	}
	md := axisModel(t, b)

	var buf bytes.Buffer
	logger := &Logger{Level: LogLast, Msg: &buf}
	opt, err := (&Problem{Model: md, Algorithm: Baseline, K: 10}).New(logger)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "clamping K to 4")

	res := opt.Run()
	require.Equal(t, 4, res.K)
	require.Equal(t, 4, res.NumPlaced)
	require.Equal(t, 4, res.M.NumNonzero())
}

func TestHistoryCadence(t *testing.T) {
	b := make([]float64, 24)
	for i := 0; i < 8; i++ {
		b[3*i] = float64(8-i) * 0.2
	}
	md := axisModel(t, b)

	opt, err := (&Problem{Model: md, Algorithm: Baseline, K: 8, NHistory: 4}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Len(t, res.Errors, 4)
	require.Len(t, res.BnErrors, 4)
	require.Len(t, res.MHistory, 4)
	require.Equal(t, 8, res.MHistory[3].NumNonzero())
}

func TestNoHistoryRecordsFinalState(t *testing.T) {
	b := make([]float64, 12)
	for i := 0; i < 4; i++ {
		b[3*i] = 1
	}
	md := axisModel(t, b)

	opt, err := (&Problem{Model: md, Algorithm: Baseline, K: 4}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Len(t, res.Errors, 1)
	require.Len(t, res.MHistory, 1)
	require.InDelta(t, 0, res.Errors[0], 1e-12)
}

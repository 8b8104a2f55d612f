// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpmo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/stelloptim/pmopt/dipole"
)

func TestBaselineMonotoneHistory(t *testing.T) {
	// every site strictly improves the residual, largest target first
	b := make([]float64, 18)
	targets := []float64{3, 2.5, 2, 1.5, 1.2, 0.8}
	for i, v := range targets {
		b[3*i] = v
	}
	md := axisModel(t, b)

	opt, err := (&Problem{Model: md, Algorithm: Baseline, K: 6, NHistory: 6}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Len(t, res.Errors, 6)
	for i := 1; i < len(res.Errors); i++ {
		require.LessOrEqual(t, res.Errors[i], res.Errors[i-1])
	}
	require.Equal(t, 6, res.M.NumNonzero())
}

// denseModel fills A with a deterministic full-rank pattern so that every
// candidate column overlaps every field sample.
func denseModel(t *testing.T, n, f int) *dipole.Model {
	t.Helper()
	a := mat.NewDense(f, 3*n, nil)
	seed := uint64(0x9e3779b9)
	for i := 0; i < f; i++ {
		for j := 0; j < 3*n; j++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			a.Set(i, j, float64(int64(seed>>33)%2000-1000)/1000)
		}
	}
	b := make([]float64, f)
	mmax := make([]float64, n)
	axes := make([]dipole.Vec3, n)
	for i := 0; i < f; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		b[i] = float64(int64(seed>>33)%2000-1000) / 500
	}
	for i := range mmax {
		mmax[i] = 1 + float64(i%3)*0.5
		axes[i] = dipole.Vec3{0, 1, 0}
	}
	md := &dipole.Model{A: a, B: b, Mmax: mmax, Axes: axes}
	require.NoError(t, md.Validate())
	return md
}

func TestDeterministicAcrossWorkers(t *testing.T) {
	md := denseModel(t, 24, 17)

	run := func(workers int) *Result {
		opt, err := (&Problem{
			Model: md, Algorithm: Baseline, K: 12, NHistory: 12, Workers: workers,
		}).New(nil)
		require.NoError(t, err)
		return opt.Run()
	}

	serial := run(1)
	for _, workers := range []int{2, 5} {
		parallel := run(workers)
		require.Equal(t, serial.M, parallel.M)
		require.Equal(t, serial.Errors, parallel.Errors)
		require.Equal(t, serial.BnErrors, parallel.BnErrors)
	}

	repeat := run(5)
	require.Equal(t, run(5).M, repeat.M)
}

func TestBacktrackingReversesBadPlacement(t *testing.T) {
	// two sites share the same field column; once the first placement leaves a
	// small residual, the second can only overshoot and the sweep undoes it
	a := mat.NewDense(3, 6, nil)
	a.Set(0, 0, 1)
	a.Set(0, 3, 1)
	md := &dipole.Model{
		A:       a,
		B:       []float64{0.9, 0, 0},
		Mmax:    []float64{1, 1},
		Axes:    []dipole.Vec3{{1, 0, 0}, {1, 0, 0}},
		GridXYZ: []dipole.Vec3{{0, 0, 0}, {1, 0, 0}},
	}
	require.NoError(t, md.Validate())

	opt, err := (&Problem{
		Model:     md,
		Algorithm: Backtracking,
		K:         2,
		NHistory:  2,
		Backtrack: Backtrack{Frequency: 2},
	}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Equal(t, 2, res.NumPlaced)
	require.Equal(t, 1, res.NumRemoved)
	require.Equal(t, dipole.Vec3{1, 0, 0}, res.M[0])
	require.True(t, res.M[1].IsZero())
	require.Equal(t, []int{1}, res.NumNonzeros)
	require.InDelta(t, 0.01, res.Errors[len(res.Errors)-1], 1e-12)
}

func TestMultiKeepsSeparation(t *testing.T) {
	// four equally attractive sites on a line; per round of two placements the
	// second must sit at least 1.5 apart from the first
	b := make([]float64, 12)
	for i := 0; i < 4; i++ {
		b[3*i] = 1
	}
	md := axisModel(t, b)
	md.GridXYZ = []dipole.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}}
	require.NoError(t, md.Validate())

	opt, err := (&Problem{
		Model:         md,
		Algorithm:     Multi,
		K:             4,
		NHistory:      4,
		NAdjacent:     2,
		MinSeparation: 1.5,
	}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Equal(t, 4, res.NumPlaced)
	require.Equal(t, 4, res.M.NumNonzero())
	require.InDelta(t, 0, res.Errors[len(res.Errors)-1], 1e-12)

	// first round commits sites 0 and 2: site 1 is skipped for being too close
	require.Equal(t, 1, res.MHistory[0].NumNonzero())
	require.False(t, res.MHistory[0][0].IsZero())
	second := res.MHistory[1]
	require.False(t, second[0].IsZero())
	require.True(t, second[1].IsZero())
	require.False(t, second[2].IsZero())
}

func TestArbVecSelectsFromCandidateSets(t *testing.T) {
	a := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		a.Set(i, i, 1)
	}
	md := &dipole.Model{
		A:    a,
		B:    []float64{0, 2, 0, 0, 0, 0},
		Mmax: []float64{1, 1},
		PolVectors: [][]dipole.Vec3{
			{{1, 0, 0}, {0, 1, 0}},
			{{0, 0, 1}},
		},
	}
	require.NoError(t, md.Validate())

	opt, err := (&Problem{Model: md, Algorithm: ArbVec, K: 1, NHistory: 1}).New(nil)
	require.NoError(t, err)
	res := opt.Run()

	require.Equal(t, dipole.Vec3{0, 1, 0}, res.M[0])
	require.True(t, res.M[1].IsZero())
	require.InDelta(t, 1, res.Errors[0], 1e-12)
}

// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpmo

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/stelloptim/pmopt/dipole"
)

// engine holds the mutable state of one placement run.
//
// Candidate columns are pre-scaled by the per-site magnitude bound, so a
// commitment is always a unit polarization vector in the scaled space:
//
//	‖A·m − b‖² = ‖(A·diag(mmax))·p − b‖², ‖pᵢ‖ = 1 on committed sites
//
// The residual is maintained incrementally, one rank-1 update per commitment;
// selection scores need only three inner products per free site thanks to the
// per-site Gram matrices built once up front.
type engine struct {
	o  *Optimizer
	md *dipole.Model

	n, f int

	// cols[i] holds the three scaled operator columns of site i,
	// gram[i] the symmetric 3×3 Gram of those columns packed as
	// [xx xy xz yy yz zz], and regSq[i] the penalty regL2·mmaxᵢ².
	cols  [][3][]float64
	gram  [][6]float64
	regSq []float64

	// pols[i] enumerates the admissible unit polarizations of site i.
	pols [][]dipole.Vec3

	r      []float64
	unit   []dipole.Vec3
	placed []bool

	numActive int
	regTerm   float64
	placedCnt int
	removed   int

	stride   int
	lastStep int
	errs     []float64
	bnErrs   []float64
	mHist    []dipole.Moments
	nonzeros []int

	log commitLog
}

func (o *Optimizer) newEngine() *engine {
	md := o.model
	n, f := md.NumSites(), md.NumSamples()

	e := &engine{
		o:        o,
		md:       md,
		n:        n,
		f:        f,
		cols:     make([][3][]float64, n),
		gram:     make([][6]float64, n),
		regSq:    make([]float64, n),
		pols:     make([][]dipole.Vec3, n),
		r:        make([]float64, f),
		unit:     make([]dipole.Vec3, n),
		placed:   make([]bool, n),
		stride:   1,
		lastStep: -1,
	}
	if o.nhistory > 0 {
		e.stride = (o.k + o.nhistory - 1) / o.nhistory
	} else {
		e.stride = o.k
	}

	// r starts at A·0 − b.
	floats.AddScaled(e.r, -one, md.B)

	e.forEachSite(func(lo, hi int) {
		buf := make([]float64, f)
		for i := lo; i < hi; i++ {
			s := md.Mmax[i]
			for c := 0; c < 3; c++ {
				mat.Col(buf, 3*i+c, md.A)
				col := make([]float64, f)
				floats.AddScaled(col, s, buf)
				e.cols[i][c] = col
			}
			b := &e.cols[i]
			e.gram[i] = [6]float64{
				floats.Dot(b[0], b[0]), floats.Dot(b[0], b[1]), floats.Dot(b[0], b[2]),
				floats.Dot(b[1], b[1]), floats.Dot(b[1], b[2]),
				floats.Dot(b[2], b[2]),
			}
			e.regSq[i] = o.regL2 * s * s
			if o.algorithm.arbitrary() {
				e.pols[i] = md.PolVectors[i]
			} else {
				e.pols[i] = []dipole.Vec3{md.Axes[i], md.Axes[i].Scale(-one)}
			}
		}
	})

	if o.algorithm.backtracks() {
		e.log = newCommitLog(o.backtrack.Window)
	}
	return e
}

// forEachSite splits [0, n) into contiguous chunks and runs fn on each chunk
// from its own goroutine. All state touched by fn must be disjoint per chunk.
func (e *engine) forEachSite(fn func(lo, hi int)) {
	w := e.o.workers
	if w > e.n {
		w = e.n
	}
	if w <= 1 {
		fn(0, e.n)
		return
	}
	chunk := (e.n + w - 1) / w
	var wg sync.WaitGroup
	for lo := 0; lo < e.n; lo += chunk {
		hi := lo + chunk
		if hi > e.n {
			hi = e.n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// residualDots computes tᵢ = Bᵢᵀ·r for site i, the only per-scan quantity that
// depends on the current residual.
func (e *engine) residualDots(i int) dipole.Vec3 {
	b := &e.cols[i]
	return dipole.Vec3{
		floats.Dot(b[0], e.r),
		floats.Dot(b[1], e.r),
		floats.Dot(b[2], e.r),
	}
}

// quad evaluates pᵀ·Gᵢ·p against the packed Gram of site i.
func (e *engine) quad(i int, p dipole.Vec3) float64 {
	g := &e.gram[i]
	return p[0]*p[0]*g[0] + p[1]*p[1]*g[3] + p[2]*p[2]*g[5] +
		two*(p[0]*p[1]*g[1]+p[0]*p[2]*g[2]+p[1]*p[2]*g[4])
}

// score is the change of the penalized squared residual caused by committing
// polarization p at site i: 2·cᵀr + ‖c‖² + regL2·mmaxᵢ²·‖p‖².
func (e *engine) score(i int, p, t dipole.Vec3) float64 {
	return two*p.Dot(t) + e.quad(i, p) + e.regSq[i]*p.Dot(p)
}

type pick struct {
	score     float64
	site, pol int
}

func betterPick(a, b pick) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.site != b.site {
		return a.site < b.site
	}
	return a.pol < b.pol
}

// scanBest finds the free (site, polarization) pair with the lowest score.
// Chunk winners are reduced in site order with a total tie-break on
// (score, site, pol), so the result does not depend on the worker count.
func (e *engine) scanBest() (pick, bool) {
	w := e.o.workers
	if w > e.n {
		w = e.n
	}
	if w < 1 {
		w = 1
	}
	chunk := (e.n + w - 1) / w
	nchunk := (e.n + chunk - 1) / chunk
	bests := make([]pick, nchunk)
	e.forEachSite(func(lo, hi int) {
		best := pick{score: math.Inf(1), site: -1}
		for i := lo; i < hi; i++ {
			if e.placed[i] {
				continue
			}
			t := e.residualDots(i)
			for pi, p := range e.pols[i] {
				if s := e.score(i, p, t); s < best.score {
					best = pick{score: s, site: i, pol: pi}
				}
			}
		}
		bests[lo/chunk] = best
	})
	best := pick{score: math.Inf(1), site: -1}
	for _, b := range bests {
		if b.site >= 0 && betterPick(b, best) {
			best = b
		}
	}
	return best, best.site >= 0
}

// commit places polarization p at site i and folds its column into the residual.
func (e *engine) commit(i int, p dipole.Vec3) {
	e.unit[i] = p
	e.placed[i] = true
	e.addMoment(i, p, one)
	e.regTerm += e.regSq[i] * p.Dot(p)
	e.numActive++
	e.placedCnt++
}

// uncommit reverses a prior commitment at site i, freeing the site.
func (e *engine) uncommit(i int) {
	p := e.unit[i]
	e.addMoment(i, p, -one)
	e.regTerm -= e.regSq[i] * p.Dot(p)
	e.unit[i] = dipole.Vec3{}
	e.placed[i] = false
	e.numActive--
	e.removed++
}

func (e *engine) addMoment(i int, p dipole.Vec3, sign float64) {
	for c := 0; c < 3; c++ {
		if p[c] != zero {
			floats.AddScaled(e.r, sign*p[c], e.cols[i][c])
		}
	}
}

// checkpoint records the error histories and a moment snapshot after commit
// step k (0-based) when the cadence or the final step is reached.
func (e *engine) checkpoint(k int) {
	if (k+1)%e.stride != 0 && k+1 != e.o.k {
		return
	}
	e.record(k)
}

// record unconditionally appends a history checkpoint for commit step k.
func (e *engine) record(k int) {
	if k == e.lastStep {
		return
	}
	e.lastStep = k

	rn := floats.Norm(e.r, 2)
	err := rn*rn + e.regTerm
	bn := e.meanBn()
	e.errs = append(e.errs, err)
	e.bnErrs = append(e.bnErrs, bn)
	e.mHist = append(e.mHist, e.moments())

	if e.o.logger.enable(LogEval) {
		e.o.logger.log("i = %d, ‖A·m − b‖² = %.8e, mean |B·n| = %.8e\n", k+1, err, bn)
	}
}

// meanBn converts the residual into a mean |B·n| error, undoing the per-sample
// quadrature weighting when the model carries surface normal norms.
func (e *engine) meanBn() float64 {
	sum := zero
	if e.md.NormalNorms == nil {
		for _, v := range e.r {
			sum += math.Abs(v)
		}
		return sum / float64(e.f)
	}
	ff := float64(e.f)
	for i, v := range e.r {
		sum += math.Abs(v) * math.Sqrt(ff/e.md.NormalNorms[i])
	}
	return sum / ff
}

func (e *engine) moments() dipole.Moments {
	m := dipole.NewMoments(e.n)
	for i := range m {
		if e.placed[i] {
			m[i] = e.unit[i].Scale(e.md.Mmax[i])
		}
	}
	return m
}

// runSequential drives the baseline, ArbVec and backtracking variants: one
// commitment per step, with periodic reversal sweeps when configured.
func (e *engine) runSequential() {
	bt := e.o.algorithm.backtracks()
	for k := 0; k < e.o.k; k++ {
		best, ok := e.scanBest()
		if !ok {
			break
		}
		e.commit(best.site, e.pols[best.site][best.pol])
		if bt {
			e.log.push(best.site)
			if (k+1)%e.o.backtrack.Frequency == 0 {
				e.sweep()
			}
		}
		e.checkpoint(k)
	}
}

// runMulti drives the multi-placement variant: every round ranks the best
// polarization of every free site against the round-start residual, then
// commits up to NAdjacent of them, rejecting sites closer than MinSeparation
// to a site already committed this round.
func (e *engine) runMulti() {
	k := 0
	round := make([]pick, e.n)
	ranked := make([]pick, 0, e.n)
	committed := make([]int, 0, e.o.nAdjacent)
	for k < e.o.k {
		e.forEachSite(func(lo, hi int) {
			for i := lo; i < hi; i++ {
				best := pick{score: math.Inf(1), site: -1}
				if !e.placed[i] {
					t := e.residualDots(i)
					for pi, p := range e.pols[i] {
						if s := e.score(i, p, t); s < best.score {
							best = pick{score: s, site: i, pol: pi}
						}
					}
				}
				round[i] = best
			}
		})
		ranked = ranked[:0]
		for _, b := range round {
			if b.site >= 0 {
				ranked = append(ranked, b)
			}
		}
		if len(ranked) == 0 {
			return
		}
		sort.Slice(ranked, func(a, b int) bool { return betterPick(ranked[a], ranked[b]) })

		committed = committed[:0]
		for _, cand := range ranked {
			if len(committed) == e.o.nAdjacent || k == e.o.k {
				break
			}
			if e.conflicts(cand.site, committed) {
				continue
			}
			e.commit(cand.site, e.pols[cand.site][cand.pol])
			committed = append(committed, cand.site)
			e.checkpoint(k)
			k++
		}
		if len(committed) == 0 {
			return
		}
	}
}

// conflicts reports whether site sits within the minimum separation of a site
// committed earlier in the same round.
func (e *engine) conflicts(site int, committed []int) bool {
	if e.o.minSep <= zero {
		return false
	}
	p := e.md.GridXYZ[site]
	for _, j := range committed {
		if p.Sub(e.md.GridXYZ[j]).Norm() < e.o.minSep {
			return true
		}
	}
	return false
}

func (e *engine) result() *Result {
	if e.placedCnt > 0 {
		// make sure an early break still ends the histories at the final state
		e.record(e.placedCnt - 1)
	}
	m := e.moments()
	if e.o.logger.enable(LogLast) {
		rn := floats.Norm(e.r, 2)
		e.o.logger.log("%v placement finished: %d commitments, %d reversals, %d magnets, ‖A·m − b‖² = %.8e\n",
			e.o.algorithm, e.placedCnt, e.removed, e.numActive, rn*rn+e.regTerm)
	}
	return &Result{
		M:           m,
		Errors:      e.errs,
		BnErrors:    e.bnErrs,
		MHistory:    e.mHist,
		NumNonzeros: e.nonzeros,
		Summary: Summary{
			Algorithm:  e.o.algorithm,
			K:          e.o.k,
			NumPlaced:  e.placedCnt,
			NumRemoved: e.removed,
		},
	}
}

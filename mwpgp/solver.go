// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mwpgp

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/stelloptim/pmopt/dipole"
)

// convexStep minimizes
//
//	½‖A·m − b‖² + 𝚛𝚎𝚐_𝚕𝟸‖m‖² + (1/2ν)‖m − m_proxy‖²
//
// subject to ‖mᵢ‖ ≤ mmaxᵢ, warm-started from w.m, by projected gradient with
// an active/free-set partition and an exact line search:
//
//   - the gradient is g = Aᵀ(Am − b) + 2·𝚛𝚎𝚐_𝚕𝟸·m + (m − m_proxy)/ν
//     (the proxy term only participates when a nonconvex term is configured);
//   - a site is active when it sits on its magnitude bound and the descent
//     direction points outward; active sites keep only the tangential gradient
//     component, so the partition is re-derived every iteration;
//   - the step along d = -𝚙𝚛𝚘𝚓 g is the exact quadratic minimizer
//     α⁎ = ‖𝚙𝚛𝚘𝚓 g‖² / dᵀQd, capped at α_max = 2(1−ε)/‖Q‖₂;
//   - each site is then projected back onto its own L2 ball.
//
// Iteration stops when ‖𝚙𝚛𝚘𝚓 g‖ falls below the epsilon tolerance or the
// budget runs out; the best iterate found so far is kept either way.
func (o *Optimizer) convexStep(w *Workspace) (status Status, iters int) {

	md, reg := o.model, &o.reg
	mmax := md.Mmax
	n := w.n

	status = OverIterLimit
	for it := 0; it < o.stop.MaxIterations; it++ {
		iters++

		w.m.Flatten(w.x)
		md.Residual(w.x, w.r)
		md.GradResidual(w.r, w.g)
		if reg.L2 > zero {
			floats.AddScaled(w.g, two*reg.L2, w.x)
		}
		if o.regActive {
			w.mProxy.Flatten(w.xProxy)
			for i, x := range w.x {
				w.g[i] += (x - w.xProxy[i]) / reg.Nu
			}
		}

		// Active-set reduction: drop the outward radial gradient component of
		// every site pinned on its bound.
		for i := 0; i < n; i++ {
			mi := w.m[i]
			gi := dipole.Vec3{w.g[3*i], w.g[3*i+1], w.g[3*i+2]}
			norm := mi.Norm()
			if norm >= mmax[i]*(one-boundTol) && gi.Dot(mi) < zero {
				hat := mi.Scale(one / norm)
				gi = gi.Sub(hat.Scale(gi.Dot(hat)))
				w.g[3*i], w.g[3*i+1], w.g[3*i+2] = gi[0], gi[1], gi[2]
			}
		}

		w.errs = append(w.errs, o.objective(w))
		w.checks.push(w.m)

		pg := floats.Norm(w.g, 2)
		if log := &o.logger; log.enable(LogTrace) {
			log.log("At iterate %5d    f= %12.5e    |proj g|= %12.5e\n", it, w.errs[len(w.errs)-1], pg)
		}
		if pg <= o.stop.Epsilon {
			status = ConvProjGrad
			break
		}

		// Exact line search along d = -proj g for the quadratic objective:
		// α⁎ = ‖proj g‖² / (‖Ad‖² + 2·regL2·‖d‖² + ‖d‖²/ν).
		copy(w.d, w.g)
		floats.Scale(-one, w.d)
		qv := mat.NewVecDense(w.f, w.qd)
		qv.MulVec(md.A, mat.NewVecDense(len(w.d), w.d))
		dd := floats.Dot(w.d, w.d)
		dQd := floats.Dot(w.qd, w.qd) + two*reg.L2*dd + dd/reg.Nu

		alpha := o.alphaMax
		if dQd > zero {
			alpha = min(pg*pg/dQd, o.alphaMax)
		}

		for i := 0; i < n; i++ {
			step := dipole.Vec3{w.d[3*i], w.d[3*i+1], w.d[3*i+2]}
			mi := w.m[i].Add(step.Scale(alpha))
			if norm := mi.Norm(); norm > mmax[i] {
				mi = mi.Scale(mmax[i] / norm)
			}
			w.m[i] = mi
		}
	}
	return
}

// objective evaluates the full penalized objective at the residual already
// stored in the workspace.
func (w *Workspace) objectiveTerms(reg *Regularization, regActive bool) (f float64) {
	f = 0.5 * floats.Dot(w.r, w.r)
	if reg.L2 > zero {
		f += reg.L2 * floats.Dot(w.x, w.x)
	}
	if regActive {
		d := zero
		for i, x := range w.x {
			t := x - w.xProxy[i]
			d += t * t
		}
		f += d / (two * reg.Nu)
	}
	return
}

func (o *Optimizer) objective(w *Workspace) float64 {
	return w.objectiveTerms(&o.reg, o.regActive)
}

// checkpointRing keeps the last k moment iterates in commit order.
type checkpointRing struct {
	buf  []dipole.Moments
	next int
	full bool
}

func newCheckpointRing(k int) *checkpointRing {
	return &checkpointRing{buf: make([]dipole.Moments, k)}
}

func (c *checkpointRing) push(m dipole.Moments) {
	if len(c.buf) == 0 {
		return
	}
	c.buf[c.next] = m.Clone()
	if c.next++; c.next == len(c.buf) {
		c.next, c.full = 0, true
	}
}

// drain returns the retained iterates from oldest to newest and resets the ring.
func (c *checkpointRing) drain() []dipole.Moments {
	if len(c.buf) == 0 {
		return nil
	}
	var out []dipole.Moments
	if c.full {
		out = append(out, c.buf[c.next:]...)
	}
	out = append(out, c.buf[:c.next]...)
	c.next, c.full = 0, false
	for i := range c.buf {
		c.buf[i] = nil
	}
	return out
}

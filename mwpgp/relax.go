// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mwpgp

import (
	"github.com/stelloptim/pmopt/dipole"
)

// RelaxAndSplit approximately solves the sparsity-regularized placement
// problem by alternating the convex bound-constrained solve with the proximal
// operator of the configured nonconvex term:
//
//	ConvexStep:  m      ← argmin ½‖Am−b‖² + 𝚛𝚎𝚐_𝚕𝟸‖m‖² + (1/2ν)‖m − m_proxy‖²  s.t. ‖mᵢ‖ ≤ mmaxᵢ
//	ProxStep:    m_proxy ← prox(m)
//
// until ‖m − m_proxy‖ < epsilon or the outer budget runs out. When no
// nonconvex term is configured the problem is fully convex: the loop
// degenerates to a single convex solve and m == m_proxy on return.
//
// A nil m0 starts from all zeros; a non-nil m0 must lie inside the feasible
// region (dipole.ErrInfeasibleGuess otherwise). Exhausted budgets are not
// errors: the best iterate and the full history are returned regardless.
func (o *Optimizer) RelaxAndSplit(m0 dipole.Moments, w *Workspace) (*Result, error) {

	if w.n != o.model.NumSites() || w.f != o.model.NumSamples() {
		panic("workspace dimension not match model")
	}

	m0, err := dipole.SetupInitialCondition(o.model, m0, guessTol)
	if err != nil {
		return nil, err
	}

	copy(w.m, m0)
	w.errs = w.errs[:0]

	// The split variable starts at prox(m0) when regularization is active.
	if o.regActive {
		w.mProxy = o.prox(m0, o.model.Mmax, o.regRS, o.reg.Nu)
	} else {
		copy(w.mProxy, m0)
	}

	res := &Result{Summary: Summary{Status: StatusUnknown}}

	if !o.regActive {
		status, iters := o.convexStep(w)
		res.M = w.m.Clone()
		res.MProxy = res.M
		res.Errors = append([]float64(nil), w.errs...)
		res.MHistory = w.checks.drain()
		res.Status = status
		res.NumIter = 1
		res.NumConvexIter = iters
		res.OK = status == ConvProjGrad
		return res, nil
	}

	log := &o.logger
	res.Status = MaxIterReached
	for i := 0; i < o.relax.MaxIterations; i++ {
		res.NumIter = i + 1

		_, iters := o.convexStep(w)
		res.NumConvexIter += iters
		res.Errors = append(res.Errors, w.errs[len(w.errs)-1])
		res.MHistory = append(res.MHistory, w.m.Clone())
		w.errs = w.errs[:0]
		w.checks.drain()

		w.mProxy = o.prox(w.m, o.model.Mmax, o.regRS, o.reg.Nu)
		res.MProxyHistory = append(res.MProxyHistory, w.mProxy.Clone())

		if w.m.Distance(w.mProxy) < o.relax.Epsilon {
			if log.enable(LogLast) {
				log.log("Relax-and-split finished early, at iteration %d\n", i)
			}
			res.Status = Converged
			break
		}
	}

	res.M = w.m.Clone()
	res.MProxy = w.mProxy.Clone()
	res.OK = res.Status == Converged
	return res, nil
}

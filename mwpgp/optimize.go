// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mwpgp

import (
	"fmt"
	"io"
	"os"

	"github.com/stelloptim/pmopt/dipole"
)

// LogLevel controls the frequency and type of logger output.
type LogLevel int

const (
	// LogNoop no output is generated.
	LogNoop LogLevel = -1
	// LogLast print only the final state of a run.
	LogLast LogLevel = 0
	// LogEval print objective and projected gradient every `level` iterations.
	LogEval LogLevel = 1
	// LogTrace print details of every iteration.
	LogTrace LogLevel = 99
)

// Logger handles logging output for the optimizer.
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

// Termination specifies the stopping criteria of the convex solver.
type Termination struct {
	// The iteration stop when the number of iterations exceeds limit.
	MaxIterations int
	// The iteration stop when the projected gradient norm satisfies
	//   ‖ 𝚙𝚛𝚘𝚓 g ‖₂ ≤ 𝚎𝚙𝚜𝚒𝚕𝚘𝚗
	Epsilon float64
}

// RelaxTermination specifies the stopping criteria of the relax-and-split loop.
type RelaxTermination struct {
	// The loop stop when the number of outer iterations exceeds limit.
	MaxIterations int
	// The loop stop early when the split distance satisfies ‖m − m_proxy‖ ≤ 𝚎𝚙𝚜𝚒𝚕𝚘𝚗.
	Epsilon float64
}

// Regularization configures the sparsity and smoothness terms.
// L0 and L1 are mutually exclusive nonconvex terms handled by the proximal
// step; L2 is convex and folded directly into the quadratic operator.
type Regularization struct {
	L0, L1 float64
	L2     float64
	// Nu is the relaxation weight coupling m to m_proxy; large Nu makes the
	// nonconvexity negligible. Defaults to 1e100 when zero.
	Nu float64
}

// active reports whether a nonconvex term is configured, and its strength.
func (r *Regularization) active() (float64, bool) {
	switch {
	case r.L0 > zero:
		return r.L0, true
	case r.L1 > zero:
		return r.L1, true
	}
	return zero, false
}

// Problem specifies a bound-constrained dipole optimization problem.
type Problem struct {
	// Model is the shared objective model; it is only read during a run.
	Model *dipole.Model
	// Stop bounds the convex solver.
	Stop Termination
	// Relax bounds the relax-and-split loop; required when L0 or L1 is set.
	Relax RelaxTermination
	// Reg selects the regularization terms.
	Reg Regularization
	// NHistory is the number of checkpointed iterates retained from the most
	// recent convex solve (the last NHistory iterates). Zero keeps none.
	NHistory int
}

// New validates the problem and creates an optimizer for it.
// All configuration errors are raised here, before any computation starts.
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

	reg := p.Reg
	if reg.Nu == zero {
		reg.Nu = defaultNu
	}

	regRS, regActive := reg.active()
	var err error
	switch {
	case reg.L0 < zero || reg.L1 < zero || reg.L2 < zero || reg.Nu < zero:
		err = fmt.Errorf("%w: regularization strengths must not be negative", ErrBadConfig)
	case reg.L0 > zero && reg.L1 > zero:
		err = ErrExclusiveReg
	case p.Stop.MaxIterations <= 0:
		err = fmt.Errorf("%w: convex max iteration must greater than 0", ErrBadConfig)
	case p.Stop.Epsilon < zero:
		err = fmt.Errorf("%w: convex epsilon must not be negative", ErrBadConfig)
	case regActive && p.Relax.MaxIterations <= 0:
		err = fmt.Errorf("%w: relax-and-split max iteration must greater than 0", ErrBadConfig)
	case p.Relax.Epsilon < zero:
		err = fmt.Errorf("%w: relax-and-split epsilon must not be negative", ErrBadConfig)
	case p.NHistory < 0:
		err = fmt.Errorf("%w: history size must not be negative", ErrBadConfig)
	}
	if err != nil {
		return nil, err
	}

	prox := dipole.ProxL1
	if reg.L0 > zero {
		prox = dipole.ProxL0
	}

	// The step cap uses the Lipschitz bound of the full quadratic operator
	// AᵀA + 2·regL2·I + (1/ν)I, with a numerical margin.
	scale := p.Model.OperatorScale() + two*reg.L2 + one/reg.Nu
	alphaMax := two / scale * (one - alphaMargin)

	return &Optimizer{
		model:     p.Model,
		stop:      p.Stop,
		relax:     p.Relax,
		reg:       reg,
		regRS:     regRS,
		regActive: regActive,
		prox:      prox,
		alphaMax:  alphaMax,
		nhistory:  p.NHistory,
		logger:    *logger,
	}, nil
}

// Optimizer is the MwPGP-style bound-constrained solver, optionally wrapped in
// relax-and-split. One optimizer may be shared by several workspaces.
type Optimizer struct {
	model     *dipole.Model
	stop      Termination
	relax     RelaxTermination
	reg       Regularization
	regRS     float64
	regActive bool
	prox      func(dipole.Moments, []float64, float64, float64) dipole.Moments
	alphaMax  float64
	nhistory  int
	logger    Logger
}

// Workspace contains the mutable state of one optimization run.
// To avoid race conditions, separate workspaces need to be created for each
// goroutine, but multiple workspaces could share one optimizer.
type Workspace struct {
	n, f int

	m, mProxy dipole.Moments

	x, xProxy []float64 // flat moment vectors, 3N
	g, d      []float64 // gradient and search direction, 3N
	r         []float64 // residual, F
	qd        []float64 // A·d scratch for the exact line search, F

	errs   []float64
	checks *checkpointRing
}

// Init allocates a workspace sized for the optimizer's model.
func (o *Optimizer) Init() *Workspace {
	n, f := o.model.NumSites(), o.model.NumSamples()
	return &Workspace{
		n: n, f: f,
		m:      dipole.NewMoments(n),
		mProxy: dipole.NewMoments(n),
		x:      make([]float64, 3*n),
		xProxy: make([]float64, 3*n),
		g:      make([]float64, 3*n),
		d:      make([]float64, 3*n),
		r:      make([]float64, f),
		qd:     make([]float64, f),
		checks: newCheckpointRing(o.nhistory),
	}
}

// Result contains the final result of an optimization run.
type Result struct {
	// OK reports whether the run converged (rather than hit a budget).
	OK bool
	// M is the final feasible moment assignment.
	M dipole.Moments
	// MProxy is the sparsified split variable; identical to M when no
	// nonconvex regularization is configured.
	MProxy dipole.Moments
	// Errors is the objective history: the full convex history for a pure
	// convex run, or the final convex objective of each outer iteration for
	// relax-and-split.
	Errors []float64
	// MHistory and MProxyHistory record per-iteration iterates: the last
	// NHistory convex iterates for a pure convex run, or both split variables
	// per outer iteration for relax-and-split.
	MHistory      []dipole.Moments
	MProxyHistory []dipole.Moments
	Summary
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status Status
	// NumIter counts relax-and-split iterations (1 for a pure convex run).
	NumIter int
	// NumConvexIter counts convex iterations across all convex solves.
	NumConvexIter int
}

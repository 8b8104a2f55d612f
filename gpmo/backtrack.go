// Copyright ©2025 stelloptim. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpmo

// commitLog is a fixed-capacity ring of recently committed sites, drained
// oldest-first by the reversal sweeps.
type commitLog struct {
	buf  []int
	next int
	full bool
}

func newCommitLog(capacity int) commitLog {
	return commitLog{buf: make([]int, capacity)}
}

func (l *commitLog) push(site int) {
	l.buf[l.next] = site
	l.next++
	if l.next == len(l.buf) {
		l.next = 0
		l.full = true
	}
}

// entries returns the logged sites from oldest to newest.
func (l *commitLog) entries() []int {
	if !l.full {
		return l.buf[:l.next]
	}
	out := make([]int, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	out = append(out, l.buf[:l.next]...)
	return out
}

func (l *commitLog) reset() {
	l.next = 0
	l.full = false
}

// sweep re-tests every logged commitment against the current residual and
// reverses the ones that no longer pay for themselves. Removing the column c
// of a committed site changes the penalized objective by
//
//	ΔO = −2·cᵀr + ‖c‖² − regL2·mmaxᵢ²·‖p‖²
//
// and the site is freed whenever ΔO ≤ Tolerance. The residual shifts as sites
// are removed, so each test sees the sweep's partial progress. The count of
// surviving magnets is appended to the NumNonzeros history.
func (e *engine) sweep() {
	before := e.numActive
	for _, site := range e.log.entries() {
		if !e.placed[site] {
			continue
		}
		p := e.unit[site]
		t := e.residualDots(site)
		delta := -two*p.Dot(t) + e.quad(site, p) - e.regSq[site]*p.Dot(p)
		if delta <= e.o.backtrack.Tolerance {
			e.uncommit(site)
		}
	}
	e.log.reset()
	e.nonzeros = append(e.nonzeros, e.numActive)
	if removed := before - e.numActive; removed > 0 && e.o.logger.enable(LogEval) {
		e.o.logger.log("backtracking removed %d of %d magnets\n", removed, before)
	}
}

package vm

// Retire hands a program that has been replaced to the pool. The pool keeps
// it until its last voice has finished. Retire returns false if the retire
// list is full; the caller should then leave the old program referenced and
// try again later.
func (p *Pool) Retire(prog *Program) bool {
	if prog == nil {
		return true
	}
	for i := 0; i < p.numRetired; i++ {
		if p.retired[i] == prog {
			return true
		}
	}
	if p.numRetired == len(p.retired) {
		return false
	}
	p.retired[p.numRetired] = prog
	p.numRetired++
	return true
}

// Collect calls fn for every retired program that no voice plays anymore and
// forgets it. Programs still playing stay in the list.
func (p *Pool) Collect(fn func(*Program)) {
	n := 0
	for i := 0; i < p.numRetired; i++ {
		prog := p.retired[i]
		if prog.Refs() > 0 {
			p.retired[n] = prog
			n++
			continue
		}
		fn(prog)
	}
	for i := n; i < p.numRetired; i++ {
		p.retired[i] = nil
	}
	p.numRetired = n
}

// Retired returns the number of programs waiting for their voices to finish.
func (p *Pool) Retired() int { return p.numRetired }

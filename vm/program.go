package vm

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/xentrack/xentrack"
)

type (
	// Program is an instrument compiled for rendering: the nodes of the
	// instrument graph in topological order, with every reference resolved to
	// an index and every parameter to a slot. Programs are immutable once
	// loaded and are shared by all the voices playing them; a Program counts
	// the voices that currently reference it so that a replaced program can be
	// reclaimed only after its last voice has finished.
	Program struct {
		Name      string
		Polyphony int
		PlayMode  xentrack.PlayMode
		Glide     float64

		gainL, gainR float32
		ops          []op
		links        []link
		output       int
		envelopes    []int // indices of the envelope ops, first one drives the voice state
		samplers     []int
		params       map[string]ParamRef

		refs atomic.Int32
	}

	// ParamRef identifies a parameter slot of one op of a Program.
	ParamRef struct {
		Op, Slot int
	}

	op struct {
		id        string
		kind      nodeKind
		wave      waveform
		mode      int
		disabled  bool
		inputs    [MAX_INPUTS]int8
		numInputs int
		base      [MAX_PARAMS]float32
		linkStart int
		linkEnd   int
		sample    *xentrack.Sample
	}

	link struct {
		src   int // op index if >= 0, else -1-source for voice sources
		slot  int
		depth float32
	}

	nodeKind int
	waveform int

	kindSpec struct {
		name      string
		params    []string
		defaults  []float32
		waveforms []string // nil if the kind has no waveform
		modes     []string // first one is the default, nil if no modes
		inputs    bool
	}
)

const (
	MAX_VOICES  = 64
	MAX_NODES   = 32
	MAX_INPUTS  = 8
	MAX_PARAMS  = 7
	MAX_BLOCK   = 128
	MAX_RETIRED = 64
)

const (
	kindOscillator nodeKind = iota
	kindSample
	kindEnvelope
	kindFilter
	kindMixer
	kindLFO
	numKinds
)

const (
	waveSine waveform = iota
	waveSaw
	waveSquare
	wavePulse
	waveTriangle
	waveNoise
	waveHold
)

var waveformNames = []string{"sine", "saw", "square", "pulse", "triangle", "noise", "hold"}

// parameter slots of each kind
const (
	oscLevel = iota
	oscRatio
	oscDetune
	oscPitch
	oscFM
	oscWidth
	oscPhase
)

const (
	smpLevel = iota
	smpRatio
	smpStart
)

const (
	envAttack = iota
	envDecay
	envSustain
	envRelease
	envCurve
	envScale
	envLevel
)

const (
	fltCutoff = iota
	fltResonance
	fltKeytrack
	fltLevel
)

const (
	mixGain = iota
	mixBias
)

const (
	lfoLevel = iota
	lfoRate
	lfoDelay
	lfoPhase
)

const (
	filterLowpass = iota
	filterHighpass
	filterBandpass
	filterNotch
	filterLadder
)

const (
	mixerSum = iota
	mixerRing
)

const (
	envelopeExp = iota
	envelopeSqrt
)

// voice sources, in the order of xentrack.VoiceSources
const (
	srcVelocity = iota
	srcGate
	srcPitch
	srcPressure
	srcModulation
	srcRandom
	srcBend
)

var kindSpecs = [numKinds]kindSpec{
	kindOscillator: {
		name:      "oscillator",
		params:    []string{"level", "ratio", "detune", "pitch", "fm", "width", "phase"},
		defaults:  []float32{1, 1, 0, 0, 0, 0.5, 0},
		waveforms: waveformNames,
	},
	kindSample: {
		name:     "sample",
		params:   []string{"level", "ratio", "start"},
		defaults: []float32{1, 1, 0},
	},
	kindEnvelope: {
		name:     "envelope",
		params:   []string{"attack", "decay", "sustain", "release", "curve", "scale", "level"},
		defaults: []float32{0.005, 0.2, 0.7, 0.3, 0, 1, 1},
		modes:    []string{"exp", "sqrt"},
	},
	kindFilter: {
		name:     "filter",
		params:   []string{"cutoff", "resonance", "keytrack", "level"},
		defaults: []float32{1, 0, 0, 1},
		modes:    []string{"lowpass", "highpass", "bandpass", "notch", "ladder"},
		inputs:   true,
	},
	kindMixer: {
		name:     "mixer",
		params:   []string{"gain", "bias"},
		defaults: []float32{1, 0},
		modes:    []string{"sum", "ring"},
		inputs:   true,
	},
	kindLFO: {
		name:      "lfo",
		params:    []string{"level", "rate", "delay", "phase"},
		defaults:  []float32{1, 1, 0, 0},
		waveforms: []string{"sine", "saw", "square", "triangle", "noise", "hold"},
	},
}

// NodeTypes returns the names of the node types an instrument can use.
func NodeTypes() []string {
	ret := make([]string, numKinds)
	for i, s := range kindSpecs {
		ret[i] = s.name
	}
	return ret
}

// NodeParams returns the parameter names and their defaults for a node type.
func NodeParams(nodeType string) (names []string, defaults []float32, ok bool) {
	for _, s := range kindSpecs {
		if s.name == nodeType {
			return slices.Clone(s.params), slices.Clone(s.defaults), true
		}
	}
	return nil, nil, false
}

// Load validates an instrument and compiles it into a Program. The nodes are
// sorted topologically over both the audio inputs and the modulation links,
// breaking ties in declaration order. Load fails with
// xentrack.ErrCyclicModulationGraph if the graph has a cycle and with
// xentrack.ErrInvalidInstrumentDefinition if it refers to anything that does
// not exist; it never returns a partially built program.
func Load(instr *xentrack.Instrument, samples xentrack.SampleSet) (*Program, error) {
	if err := instr.Validate(); err != nil {
		return nil, err
	}
	nodes := instr.Nodes
	if len(nodes) > MAX_NODES {
		return nil, fmt.Errorf("%w: instrument %q has %d nodes, at most %d are supported", xentrack.ErrInvalidInstrumentDefinition, instr.Name, len(nodes), MAX_NODES)
	}
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	ops := make([]op, len(nodes))
	succ := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	addEdge := func(from, to int) {
		succ[from] = append(succ[from], to)
		indeg[to]++
	}
	for i, n := range nodes {
		o, err := compileNode(instr.Name, &n, samples)
		if err != nil {
			return nil, err
		}
		for k, in := range n.Inputs {
			j, ok := index[in]
			if !ok {
				return nil, fmt.Errorf("%w: node %q of instrument %q has input %q, which does not exist", xentrack.ErrInvalidInstrumentDefinition, n.ID, instr.Name, in)
			}
			o.inputs[k] = int8(j)
			addEdge(j, i)
		}
		ops[i] = o
	}
	type declLink struct {
		from, to int // node indices; from < 0 for voice sources
		link
	}
	links := make([]declLink, 0, len(instr.Links))
	for _, l := range instr.Links {
		nodeID, param, ok := strings.Cut(l.To, ".")
		if !ok {
			return nil, fmt.Errorf("%w: link target %q of instrument %q is not of the form node.param", xentrack.ErrInvalidInstrumentDefinition, l.To, instr.Name)
		}
		to, ok := index[nodeID]
		if !ok {
			return nil, fmt.Errorf("%w: link target %q of instrument %q refers to a node that does not exist", xentrack.ErrInvalidInstrumentDefinition, l.To, instr.Name)
		}
		slot := slices.Index(kindSpecs[ops[to].kind].params, param)
		if slot < 0 {
			return nil, fmt.Errorf("%w: %s node %q has no parameter %q", xentrack.ErrInvalidInstrumentDefinition, kindSpecs[ops[to].kind].name, nodeID, param)
		}
		dl := declLink{to: to, link: link{slot: slot, depth: float32(l.Depth)}}
		if from, ok := index[l.From]; ok {
			dl.from = from
			addEdge(from, to)
		} else if s := slices.Index(xentrack.VoiceSources, l.From); s >= 0 {
			dl.from = -1 - s
		} else {
			return nil, fmt.Errorf("%w: link source %q of instrument %q is neither a node nor a voice source", xentrack.ErrInvalidInstrumentDefinition, l.From, instr.Name)
		}
		links = append(links, dl)
	}
	// Kahn's algorithm, always taking the earliest declared ready node
	order := make([]int, 0, len(nodes))
	placed := make([]bool, len(nodes))
	for len(order) < len(nodes) {
		next := -1
		for i := range nodes {
			if !placed[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cyclic []string
			for i, n := range nodes {
				if !placed[i] {
					cyclic = append(cyclic, n.ID)
				}
			}
			return nil, fmt.Errorf("%w: instrument %q, nodes %s", xentrack.ErrCyclicModulationGraph, instr.Name, strings.Join(cyclic, ", "))
		}
		placed[next] = true
		order = append(order, next)
		for _, s := range succ[next] {
			indeg[s]--
		}
	}
	pos := make([]int, len(nodes))
	for p, i := range order {
		pos[i] = p
	}
	gain := instr.Gain
	if gain == 0 {
		gain = 1
	}
	pan := math.Max(-1, math.Min(1, instr.Pan))
	angle := (pan + 1) * math.Pi / 4
	prog := &Program{
		Name:      instr.Name,
		Polyphony: instr.Polyphony,
		PlayMode:  instr.PlayMode,
		Glide:     math.Max(0, instr.Glide),
		gainL:     float32(gain * math.Cos(angle) * math.Sqrt2),
		gainR:     float32(gain * math.Sin(angle) * math.Sqrt2),
		ops:       make([]op, len(nodes)),
		output:    pos[index[instr.Output]],
		params:    make(map[string]ParamRef),
	}
	for p, i := range order {
		o := ops[i]
		for k := 0; k < o.numInputs; k++ {
			o.inputs[k] = int8(pos[o.inputs[k]])
		}
		prog.ops[p] = o
		switch o.kind {
		case kindEnvelope:
			prog.envelopes = append(prog.envelopes, p)
		case kindSample:
			prog.samplers = append(prog.samplers, p)
		}
		for slot, name := range kindSpecs[o.kind].params {
			prog.params[o.id+"."+name] = ParamRef{Op: p, Slot: slot}
		}
	}
	// group the links by destination op, keeping declaration order within
	slices.SortStableFunc(links, func(a, b declLink) int { return pos[a.to] - pos[b.to] })
	prog.links = make([]link, len(links))
	for k, dl := range links {
		l := dl.link
		if dl.from >= 0 {
			l.src = pos[dl.from]
		} else {
			l.src = dl.from
		}
		prog.links[k] = l
	}
	for k := 0; k < len(links); {
		p := pos[links[k].to]
		start := k
		for k < len(links) && pos[links[k].to] == p {
			k++
		}
		prog.ops[p].linkStart, prog.ops[p].linkEnd = start, k
	}
	return prog, nil
}

func compileNode(instrName string, n *xentrack.Node, samples xentrack.SampleSet) (op, error) {
	kind := nodeKind(-1)
	for k, s := range kindSpecs {
		if s.name == n.Type {
			kind = nodeKind(k)
		}
	}
	if kind < 0 {
		return op{}, fmt.Errorf("%w: node %q of instrument %q has unknown type %q", xentrack.ErrInvalidInstrumentDefinition, n.ID, instrName, n.Type)
	}
	spec := &kindSpecs[kind]
	o := op{id: n.ID, kind: kind, disabled: n.Disabled}
	switch {
	case spec.waveforms != nil:
		w := n.Waveform
		if w == "" {
			w = spec.waveforms[0]
		}
		if !slices.Contains(spec.waveforms, w) {
			return op{}, fmt.Errorf("%w: %s %q of instrument %q has unknown waveform %q", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName, n.Waveform)
		}
		o.wave = waveform(slices.Index(waveformNames, w))
	case n.Waveform != "":
		return op{}, fmt.Errorf("%w: %s %q of instrument %q cannot have a waveform", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName)
	}
	switch {
	case spec.modes != nil:
		if n.Mode != "" {
			o.mode = slices.Index(spec.modes, n.Mode)
			if o.mode < 0 {
				return op{}, fmt.Errorf("%w: %s %q of instrument %q has unknown mode %q", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName, n.Mode)
			}
		}
	case n.Mode != "":
		return op{}, fmt.Errorf("%w: %s %q of instrument %q cannot have a mode", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName)
	}
	if len(n.Inputs) > 0 && !spec.inputs {
		return op{}, fmt.Errorf("%w: %s %q of instrument %q cannot have inputs", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName)
	}
	if len(n.Inputs) > MAX_INPUTS {
		return op{}, fmt.Errorf("%w: %s %q of instrument %q has more than %d inputs", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName, MAX_INPUTS)
	}
	if kind == kindFilter && len(n.Inputs) == 0 {
		return op{}, fmt.Errorf("%w: filter %q of instrument %q has no input", xentrack.ErrInvalidInstrumentDefinition, n.ID, instrName)
	}
	copy(o.base[:], spec.defaults)
	for name, v := range n.Params {
		slot := slices.Index(spec.params, name)
		if slot < 0 {
			return op{}, fmt.Errorf("%w: %s %q of instrument %q has no parameter %q", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return op{}, fmt.Errorf("%w: parameter %s.%s of instrument %q is not finite", xentrack.ErrInvalidInstrumentDefinition, n.ID, name, instrName)
		}
		o.base[slot] = float32(v)
	}
	if kind == kindSample {
		s, ok := samples[n.Sample]
		if !ok || s == nil {
			return op{}, fmt.Errorf("%w: sample node %q of instrument %q plays sample %q, which is not loaded", xentrack.ErrInvalidInstrumentDefinition, n.ID, instrName, n.Sample)
		}
		if err := s.Validate(); err != nil {
			return op{}, fmt.Errorf("%w: sample %q: %v", xentrack.ErrInvalidInstrumentDefinition, n.Sample, err)
		}
		o.sample = s
	} else if n.Sample != "" {
		return op{}, fmt.Errorf("%w: %s %q of instrument %q cannot play a sample", xentrack.ErrInvalidInstrumentDefinition, spec.name, n.ID, instrName)
	}
	// Load fills in the inputs, first as declaration indices and then as ops
	o.numInputs = len(n.Inputs)
	return o, nil
}

// Param resolves a "node.param" name to a parameter slot.
func (p *Program) Param(name string) (ParamRef, bool) {
	r, ok := p.params[name]
	return r, ok
}

// Order returns the node IDs in evaluation order.
func (p *Program) Order() []string {
	ret := make([]string, len(p.ops))
	for i, o := range p.ops {
		ret[i] = o.id
	}
	return ret
}

// Refs returns the number of voices currently playing the program.
func (p *Program) Refs() int { return int(p.refs.Load()) }

func (p *Program) acquire() { p.refs.Add(1) }
func (p *Program) release() { p.refs.Add(-1) }

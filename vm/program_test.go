package vm_test

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/xentrack/xentrack"
	"github.com/xentrack/xentrack/vm"
)

// subtractive returns a saw through a lowpass filter, gated by an envelope,
// declared with every node before its inputs.
func subtractive() *xentrack.Instrument {
	return &xentrack.Instrument{
		Name: "sub",
		Nodes: []xentrack.Node{
			{ID: "vca", Type: "mixer", Mode: "ring", Inputs: []string{"flt", "env"}},
			{ID: "flt", Type: "filter", Inputs: []string{"osc"}, Params: map[string]float64{"cutoff": 0.6, "resonance": 0.3}},
			{ID: "osc", Type: "oscillator", Waveform: "saw"},
			{ID: "env", Type: "envelope", Params: map[string]float64{"attack": 0.01, "release": 0.05}},
		},
		Links:  []xentrack.Link{{From: "env", To: "flt.cutoff", Depth: 0.2}, {From: "velocity", To: "vca.gain", Depth: 0.5}},
		Output: "vca",
	}
}

func TestLoadOrdersNodes(t *testing.T) {
	prog, err := vm.Load(subtractive(), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// the link from env to flt.cutoff makes env an input of flt, so env
	// moves ahead of flt although it is declared after it
	want := []string{"osc", "env", "flt", "vca"}
	if got := prog.Order(); !slices.Equal(got, want) {
		t.Fatalf("wrong evaluation order: got %v, want %v", got, want)
	}
}

func TestLoadOrdersNodesByLinks(t *testing.T) {
	instr := &xentrack.Instrument{
		Nodes: []xentrack.Node{
			{ID: "osc", Type: "oscillator"},
			{ID: "vib", Type: "lfo", Params: map[string]float64{"rate": 5}},
		},
		Links:  []xentrack.Link{{From: "vib", To: "osc.pitch", Depth: 0.01}},
		Output: "osc",
	}
	prog, err := vm.Load(instr, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, want := prog.Order(), []string{"vib", "osc"}; !slices.Equal(got, want) {
		t.Fatalf("wrong evaluation order: got %v, want %v", got, want)
	}
}

func TestLoadDeepAcyclicGraph(t *testing.T) {
	instr := &xentrack.Instrument{Output: "n0"}
	for i := 0; i < vm.MAX_NODES-1; i++ {
		instr.Nodes = append(instr.Nodes, xentrack.Node{ID: fmt.Sprintf("n%d", i), Type: "mixer", Inputs: []string{fmt.Sprintf("n%d", i+1)}})
	}
	instr.Nodes = append(instr.Nodes, xentrack.Node{ID: fmt.Sprintf("n%d", vm.MAX_NODES-1), Type: "oscillator"})
	prog, err := vm.Load(instr, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	order := prog.Order()
	for i := 0; i < vm.MAX_NODES-1; i++ {
		if slices.Index(order, fmt.Sprintf("n%d", i)) < slices.Index(order, fmt.Sprintf("n%d", i+1)) {
			t.Fatalf("n%d evaluated before its input n%d: %v", i, i+1, order)
		}
	}
}

func TestLoadRejectsCycles(t *testing.T) {
	cases := map[string]*xentrack.Instrument{
		"inputs": {
			Nodes: []xentrack.Node{
				{ID: "a", Type: "mixer", Inputs: []string{"b"}},
				{ID: "b", Type: "mixer", Inputs: []string{"a"}},
			},
			Output: "a",
		},
		"links": {
			Nodes: []xentrack.Node{
				{ID: "osc", Type: "oscillator"},
				{ID: "lfo", Type: "lfo"},
			},
			Links:  []xentrack.Link{{From: "osc", To: "lfo.rate", Depth: 1}, {From: "lfo", To: "osc.fm", Depth: 1}},
			Output: "osc",
		},
		"self": {
			Nodes:  []xentrack.Node{{ID: "osc", Type: "oscillator"}},
			Links:  []xentrack.Link{{From: "osc", To: "osc.fm", Depth: 0.5}},
			Output: "osc",
		},
		"mixed": {
			Nodes: []xentrack.Node{
				{ID: "osc", Type: "oscillator"},
				{ID: "flt", Type: "filter", Inputs: []string{"osc"}},
			},
			Links:  []xentrack.Link{{From: "flt", To: "osc.level", Depth: 1}},
			Output: "flt",
		},
	}
	for name, instr := range cases {
		t.Run(name, func(t *testing.T) {
			prog, err := vm.Load(instr, nil)
			if !errors.Is(err, xentrack.ErrCyclicModulationGraph) {
				t.Fatalf("expected a cyclic graph error, got %v", err)
			}
			if prog != nil {
				t.Fatalf("a program was returned for a cyclic graph")
			}
		})
	}
}

func TestLoadRejectsInvalidInstruments(t *testing.T) {
	osc := xentrack.Node{ID: "osc", Type: "oscillator"}
	tooMany := &xentrack.Instrument{Output: "n0"}
	for i := 0; i <= vm.MAX_NODES; i++ {
		tooMany.Nodes = append(tooMany.Nodes, xentrack.Node{ID: fmt.Sprintf("n%d", i), Type: "oscillator"})
	}
	cases := map[string]*xentrack.Instrument{
		"unknown type":      {Nodes: []xentrack.Node{{ID: "x", Type: "theremin"}}, Output: "x"},
		"unknown param":     {Nodes: []xentrack.Node{{ID: "osc", Type: "oscillator", Params: map[string]float64{"color": 1}}}, Output: "osc"},
		"unknown waveform":  {Nodes: []xentrack.Node{{ID: "osc", Type: "oscillator", Waveform: "wobble"}}, Output: "osc"},
		"unknown mode":      {Nodes: []xentrack.Node{osc, {ID: "f", Type: "filter", Mode: "comb", Inputs: []string{"osc"}}}, Output: "f"},
		"missing input":     {Nodes: []xentrack.Node{{ID: "f", Type: "filter", Inputs: []string{"osc"}}}, Output: "f"},
		"filter no input":   {Nodes: []xentrack.Node{{ID: "f", Type: "filter"}}, Output: "f"},
		"oscillator input":  {Nodes: []xentrack.Node{osc, {ID: "o2", Type: "oscillator", Inputs: []string{"osc"}}}, Output: "o2"},
		"missing output":    {Nodes: []xentrack.Node{osc}, Output: "out"},
		"no output":         {Nodes: []xentrack.Node{osc}},
		"duplicate id":      {Nodes: []xentrack.Node{osc, osc}, Output: "osc"},
		"reserved id":       {Nodes: []xentrack.Node{{ID: "gate", Type: "oscillator"}}, Output: "gate"},
		"link target":       {Nodes: []xentrack.Node{osc}, Links: []xentrack.Link{{From: "gate", To: "osc"}}, Output: "osc"},
		"link to nothing":   {Nodes: []xentrack.Node{osc}, Links: []xentrack.Link{{From: "gate", To: "env.level"}}, Output: "osc"},
		"link param":        {Nodes: []xentrack.Node{osc}, Links: []xentrack.Link{{From: "gate", To: "osc.cutoff"}}, Output: "osc"},
		"link from nothing": {Nodes: []xentrack.Node{osc}, Links: []xentrack.Link{{From: "lfo", To: "osc.level"}}, Output: "osc"},
		"missing sample":    {Nodes: []xentrack.Node{{ID: "s", Type: "sample", Sample: "kick"}}, Output: "s"},
		"too many nodes":    tooMany,
	}
	for name, instr := range cases {
		t.Run(name, func(t *testing.T) {
			prog, err := vm.Load(instr, nil)
			if !errors.Is(err, xentrack.ErrInvalidInstrumentDefinition) {
				t.Fatalf("expected an invalid instrument error, got %v", err)
			}
			if prog != nil {
				t.Fatalf("a program was returned for an invalid instrument")
			}
		})
	}
}

func TestProgramParams(t *testing.T) {
	prog, err := vm.Load(subtractive(), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := prog.Param("flt.cutoff"); !ok {
		t.Errorf("flt.cutoff did not resolve")
	}
	if _, ok := prog.Param("flt.ratio"); ok {
		t.Errorf("flt.ratio resolved although filters have no ratio")
	}
	names, defaults, ok := vm.NodeParams("envelope")
	if !ok || len(names) != len(defaults) || names[0] != "attack" {
		t.Errorf("unexpected envelope parameters %v %v", names, defaults)
	}
}

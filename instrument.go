package xentrack

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type (
	// Instrument is the persisted definition of a voice: a graph of nodes with
	// audio inputs and modulation links. Output names the node whose signal is
	// the voice output.
	Instrument struct {
		Name      string   `yaml:",omitempty"`
		Comment   string   `yaml:",omitempty"`
		Version   int      `yaml:",omitempty"`
		Polyphony int      `yaml:",omitempty"` // maximum simultaneous voices, 0 = limited by the pool only
		PlayMode  PlayMode `yaml:",omitempty"`
		Glide     float64  `yaml:",omitempty"` // seconds, for mono and single trigger modes
		Gain      float64  `yaml:",omitempty"`
		Pan       float64  `yaml:",omitempty"` // -1 = left, 1 = right
		Nodes     []Node
		Links     []Link `yaml:",omitempty"`
		Output    string

		// Volume is the 0..100 gain of instruments saved before Version 1.
		Volume float64 `yaml:",omitempty"`
	}

	// Node is one unit of an instrument graph. Type is one of "oscillator",
	// "sample", "envelope", "filter", "mixer" and "lfo". Inputs lists the
	// nodes whose audio is fed to filters and mixers.
	Node struct {
		ID       string
		Type     string
		Waveform string             `yaml:",omitempty"`
		Mode     string             `yaml:",omitempty"`
		Inputs   []string           `yaml:",flow,omitempty"`
		Params   map[string]float64 `yaml:",flow,omitempty"`
		Sample   string             `yaml:",omitempty"`
		Disabled bool               `yaml:",omitempty"`
		Comment  string             `yaml:",omitempty"`
	}

	// Link adds Depth times the signal of From to the parameter To, written as
	// "node.param". From is a node ID or one of the voice sources.
	Link struct {
		From  string
		To    string
		Depth float64
	}

	// PlayMode controls what a new note does to a voice that is already
	// sounding on the same channel.
	PlayMode int
)

const (
	// Poly allocates a new voice for every note.
	Poly PlayMode = iota
	// Mono retriggers the channel's voice and glides to the new pitch.
	Mono
	// SingleTrigger glides the held voice to the new pitch without
	// retriggering its envelopes.
	SingleTrigger
)

// InstrumentVersion is the current version of the instrument record.
const InstrumentVersion = 1

// DefaultPolyphony is used for legacy instruments that did not store one.
const DefaultPolyphony = 8

// VoiceSources are the names a Link can use as From besides node IDs.
var VoiceSources = []string{"velocity", "gate", "pitch", "pressure", "modulation", "random", "bend"}

var playModeNames = []string{"poly", "mono", "single"}

func (m PlayMode) String() string {
	if int(m) < len(playModeNames) && m >= 0 {
		return playModeNames[m]
	}
	return fmt.Sprintf("PlayMode(%d)", int(m))
}

func (m PlayMode) MarshalYAML() (any, error) { return m.String(), nil }

func (m *PlayMode) UnmarshalYAML(value *yaml.Node) error {
	i := slices.Index(playModeNames, strings.ToLower(value.Value))
	if i < 0 {
		return fmt.Errorf("line %d: unknown play mode %q", value.Line, value.Value)
	}
	*m = PlayMode(i)
	return nil
}

// Copy makes a deep copy of an Instrument.
func (instr *Instrument) Copy() Instrument {
	ret := *instr
	ret.Nodes = make([]Node, len(instr.Nodes))
	for i, n := range instr.Nodes {
		ret.Nodes[i] = n.Copy()
	}
	ret.Links = slices.Clone(instr.Links)
	return ret
}

// Copy makes a deep copy of a Node.
func (n *Node) Copy() Node {
	ret := *n
	ret.Inputs = slices.Clone(n.Inputs)
	ret.Params = maps.Clone(n.Params)
	return ret
}

// Node returns the node with the given ID.
func (instr *Instrument) Node(id string) (Node, bool) {
	for _, n := range instr.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Validate checks the structure of an instrument that does not depend on the
// set of node kinds: node IDs are unique and present and the output exists.
// Node types, parameters and acyclicity are checked when the instrument is
// loaded for rendering.
func (instr *Instrument) Validate() error {
	seen := make(map[string]bool, len(instr.Nodes))
	for i, n := range instr.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d of instrument %q has no id", ErrInvalidInstrumentDefinition, i, instr.Name)
		}
		if strings.Contains(n.ID, ".") {
			return fmt.Errorf("%w: node id %q must not contain a dot", ErrInvalidInstrumentDefinition, n.ID)
		}
		if slices.Contains(VoiceSources, n.ID) {
			return fmt.Errorf("%w: node id %q is reserved for a voice source", ErrInvalidInstrumentDefinition, n.ID)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q in instrument %q", ErrInvalidInstrumentDefinition, n.ID, instr.Name)
		}
		seen[n.ID] = true
	}
	if instr.Output == "" {
		return fmt.Errorf("%w: instrument %q has no output node", ErrInvalidInstrumentDefinition, instr.Name)
	}
	if !seen[instr.Output] {
		return fmt.Errorf("%w: output %q of instrument %q is not a node", ErrInvalidInstrumentDefinition, instr.Output, instr.Name)
	}
	if instr.Polyphony < 0 {
		return fmt.Errorf("%w: instrument %q has negative polyphony", ErrInvalidInstrumentDefinition, instr.Name)
	}
	return nil
}

// migrate upgrades an instrument saved by an older version of the format.
func (instr *Instrument) migrate() {
	if instr.Version >= InstrumentVersion {
		return
	}
	if instr.Volume != 0 && instr.Gain == 0 {
		instr.Gain = instr.Volume / 100
	}
	instr.Volume = 0
	if instr.Polyphony == 0 {
		instr.Polyphony = DefaultPolyphony
	}
	instr.Version = InstrumentVersion
}

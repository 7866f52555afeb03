//go:build cgo

package gomidi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Input is a MIDI input device of the system, listened to by a Context.
type Input struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

var ErrNoInput = errors.New("no MIDI input found")

// InputNames lists the MIDI input devices of the system.
func InputNames() ([]string, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("cannot open MIDI driver: %w", err)
	}
	defer driver.Close()
	ins, err := driver.Ins()
	if err != nil {
		return nil, fmt.Errorf("cannot list MIDI inputs: %w", err)
	}
	ret := make([]string, len(ins))
	for i, in := range ins {
		ret[i] = in.String()
	}
	return ret, nil
}

// OpenInput opens the first input device whose name starts with namePrefix
// and feeds its messages to c. An empty prefix takes the first device.
func OpenInput(c *Context, namePrefix string) (*Input, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("cannot open MIDI driver: %w", err)
	}
	ins, err := driver.Ins()
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("cannot list MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		if err := in.Open(); err != nil {
			driver.Close()
			return nil, fmt.Errorf("opening MIDI input %q failed: %w", in.String(), err)
		}
		stop, err := midi.ListenTo(in, c.HandleMessage)
		if err != nil {
			in.Close()
			driver.Close()
			return nil, fmt.Errorf("listening to MIDI input %q failed: %w", in.String(), err)
		}
		return &Input{driver: driver, in: in, stop: stop}, nil
	}
	driver.Close()
	return nil, fmt.Errorf("%w with prefix %q", ErrNoInput, namePrefix)
}

func (i *Input) String() string {
	return i.in.String()
}

func (i *Input) Close() error {
	i.stop()
	if i.in.IsOpen() {
		i.in.Close()
	}
	return i.driver.Close()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package digital

import (
	"fmt"

	"github.com/Thermoquad/testbench/pkg/lts"
)

// Outputs selects digital output levels. Nil fields leave the output alone.
type Outputs struct {
	OD1  *bool
	OD2  *bool
	SQR1 *bool
	SQR2 *bool
}

func bit(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// stateByte packs o: the high nibble enables an output, the low nibble
// carries its level.
func (o Outputs) stateByte() byte {
	var b byte
	if o.OD1 != nil {
		b |= 0x40 | bit(*o.OD1)<<2
	}
	if o.OD2 != nil {
		b |= 0x80 | bit(*o.OD2)<<3
	}
	if o.SQR1 != nil {
		b |= 0x10 | bit(*o.SQR1)
	}
	if o.SQR2 != nil {
		b |= 0x20 | bit(*o.SQR2)<<1
	}
	return b
}

// SetState drives the selected outputs.
func (c *Controller) SetState(o Outputs) error {
	if err := c.conn.Send(lts.GroupDOut, lts.DOutSetState, o.stateByte()); err != nil {
		return err
	}
	_, err := c.conn.Ack()
	return err
}

// Inputs are the levels on ID1-ID4.
type Inputs [4]bool

// Get returns the level of an input by name.
func (in Inputs) Get(name string) (bool, error) {
	n, err := ChannelIndex(name)
	if err != nil {
		return false, err
	}
	if n >= len(in) {
		return false, fmt.Errorf("%s has no logic level readback", name)
	}
	return in[n], nil
}

// States reads ID1-ID4.
func (c *Controller) States() (Inputs, error) {
	var in Inputs
	if err := c.conn.Command(lts.GroupDIn, lts.DInGetStates); err != nil {
		return in, err
	}
	s, err := c.conn.ReadByte()
	if err != nil {
		return in, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return in, err
	}
	for i := range in {
		in[i] = s&(1<<i) != 0
	}
	return in, nil
}

// State reads a single input.
func (c *Controller) State(name string) (bool, error) {
	in, err := c.States()
	if err != nil {
		return false, err
	}
	return in.Get(name)
}

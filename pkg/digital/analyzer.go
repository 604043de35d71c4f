// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package digital

import (
	"fmt"

	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// segment is the number of timestamps each channel's buffer slice holds.
const segment = lts.MaxSamples / 4

// Controller is the digital timing subsystem: logic analyzer, edge timing
// measurements and digital I/O.
//
// Logic analyzer start functions return once the device has accepted the
// configuration. Callers must wait for the acquisition before fetching.
type Controller struct {
	conn   *lts.Conn
	logger *zap.Logger

	channels [4]*Channel
	active   int
}

// NewController returns a controller on conn.
func NewController(conn *lts.Conn) *Controller {
	c := &Controller{conn: conn, logger: conn.Logger().Named("digital")}
	for i := range c.channels {
		c.channels[i] = newChannel(i)
	}
	return c
}

// Channel returns logic analyzer trace n (1-4).
func (c *Controller) Channel(n int) *Channel {
	if n < 1 || n > len(c.channels) {
		return nil
	}
	return c.channels[n-1]
}

// Active returns the number of channels in the last acquisition.
func (c *Controller) Active() int { return c.active }

// ClearBuffer zeroes count words of the shared sample buffer from start.
func (c *Controller) ClearBuffer(start, count int) error {
	payload := lts.Payload{}.U16(uint16(start)).U16(uint16(count))
	if err := c.conn.Send(lts.GroupCommon, lts.CommonClearBuffer, payload...); err != nil {
		return err
	}
	_, err := c.conn.Ack()
	return err
}

// RetrieveBuffer reads count raw words of the shared sample buffer from start.
func (c *Controller) RetrieveBuffer(start, count int) ([]uint16, error) {
	payload := lts.Payload{}.U16(uint16(start)).U16(uint16(count))
	if err := c.conn.Send(lts.GroupCommon, lts.CommonRetrieveBuffer, payload...); err != nil {
		return nil, err
	}
	data, err := c.conn.ReadBytes(2 * count)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return nil, err
	}
	return lts.DecodeU16Slice(data), nil
}

func (c *Controller) configure(active, bits, prescaler int, modes [4]Edge) {
	c.active = active
	for i, ch := range c.channels {
		ch.Bits = bits
		ch.Prescaler = prescaler
		ch.Mode = modes[i]
		ch.Ticks = nil
	}
}

func allEdges() [4]Edge { return [4]Edge{EveryEdge, EveryEdge, EveryEdge, EveryEdge} }

// ============================================================================
// Start
// ============================================================================

// OneChannelConfig configures StartOneChannel.
type OneChannelConfig struct {
	// Channel is the input to record, ID1-ID4. Default "ID1".
	Channel string
	// Trigger delays recording until the trigger edge. Default true.
	Trigger *bool
	// TriggerChannels is any subset of ID1-ID3. Default the recorded channel.
	TriggerChannels []string
	// Rising triggers on a rising edge instead of a falling one.
	Rising bool
}

// triggerBits maps ID1-ID3 to their bits, shifted by shift.
func triggerBits(names []string, shift int) (byte, error) {
	var bits byte
	for _, name := range names {
		n, err := ChannelIndex(name)
		if err != nil {
			return 0, err
		}
		if n > 2 {
			return 0, fmt.Errorf("%s cannot trigger the logic analyzer", name)
		}
		bits |= 1 << (n + shift)
	}
	return bits, nil
}

// StartOneChannel timestamps every edge on one input with a 32-bit counter.
func (c *Controller) StartOneChannel(cfg OneChannelConfig) error {
	name := cfg.Channel
	if name == "" {
		name = "ID1"
	}
	ch, err := ChannelIndex(name)
	if err != nil {
		return err
	}
	if ch > 3 {
		return fmt.Errorf("%s cannot be recorded in one channel mode", name)
	}
	trigger := cfg.Trigger == nil || *cfg.Trigger

	// b0 trigger, b1 rising, b2-3 channel, b4-6 trigger inputs
	var opts byte
	if trigger && len(cfg.TriggerChannels) > 0 {
		bits, err := triggerBits(cfg.TriggerChannels, 4)
		if err != nil {
			return err
		}
		opts |= bits | 1
	} else {
		opts |= 1 << (ch + 4)
		if trigger {
			opts |= 1
		}
	}
	if cfg.Rising {
		opts |= 2
	}
	opts |= byte(ch) << 2

	if err := c.ClearBuffer(0, lts.MaxSamples/2); err != nil {
		return err
	}
	payload := lts.Payload{}.U16(segment).U8(opts)
	if err := c.conn.Send(lts.GroupTiming, lts.TimingStartOneChanLA, payload...); err != nil {
		return err
	}
	if _, err := c.conn.Ack(); err != nil {
		return err
	}

	c.configure(1, 32, 0, allEdges())
	c.channels[0].Name = name
	c.logger.Debug("logic analyzer started", zap.Int("channels", 1), zap.String("input", name), zap.Bool("trigger", trigger))
	return nil
}

// AltOneChannelConfig configures StartAltOneChannel.
type AltOneChannelConfig struct {
	Channel        string // default "ID1"
	Mode           *Edge  // default EveryEdge
	TriggerChannel string // default "ID1"
	TriggerMode    *Edge  // default EveryRisingEdge
}

// StartAltOneChannel records one input with an explicit edge mode and a
// trigger taken from any input.
func (c *Controller) StartAltOneChannel(cfg AltOneChannelConfig) error {
	name, trigName := cfg.Channel, cfg.TriggerChannel
	if name == "" {
		name = "ID1"
	}
	if trigName == "" {
		trigName = "ID1"
	}
	mode, trigMode := EveryEdge, EveryRisingEdge
	if cfg.Mode != nil {
		mode = *cfg.Mode
	}
	if cfg.TriggerMode != nil {
		trigMode = *cfg.TriggerMode
	}
	ch, err := ChannelIndex(name)
	if err != nil {
		return err
	}
	trig, err := ChannelIndex(trigName)
	if err != nil {
		return err
	}

	if err := c.ClearBuffer(0, lts.MaxSamples/2); err != nil {
		return err
	}
	payload := lts.Payload{}.U16(segment).U8(byte(ch)<<4 | byte(mode)).U8(byte(trig)<<4 | byte(trigMode))
	if err := c.conn.Send(lts.GroupTiming, lts.TimingStartAltOneChanLA, payload...); err != nil {
		return err
	}
	if _, err := c.conn.Ack(); err != nil {
		return err
	}

	modes := allEdges()
	modes[0] = mode
	c.configure(1, 32, 0, modes)
	c.channels[0].Name = name
	return nil
}

// StartTwoChannel records every edge on ID1 and ID2 with 32-bit counters,
// optionally triggered by ID1.
func (c *Controller) StartTwoChannel(trigger bool) error {
	if err := c.ClearBuffer(0, lts.MaxSamples); err != nil {
		return err
	}
	var opts byte
	if trigger {
		opts = 1
	}
	if err := c.conn.Send(lts.GroupTiming, lts.TimingStartTwoChanLA, lts.Payload{}.U16(segment).U8(opts)...); err != nil {
		return err
	}
	if _, err := c.conn.Ack(); err != nil {
		return err
	}
	c.configure(2, 32, 0, allEdges())
	return nil
}

// FourChannelConfig configures StartFourChannel.
type FourChannelConfig struct {
	// Modes per channel ID1-ID4. Default every edge on all four.
	Modes *[4]Edge
	// Prescaler 0-3 divides the 64 MHz timer by 1, 8, 64 or 256.
	Prescaler int
	// Trigger delays recording until the trigger edge. Default true.
	Trigger *bool
	// TriggerChannels is any subset of ID1-ID3. Default ID1.
	TriggerChannels []string
	Rising          bool
}

// StartFourChannel records ID1-ID4 with 16-bit counters sharing one
// prescaler.
func (c *Controller) StartFourChannel(cfg FourChannelConfig) error {
	modes := allEdges()
	if cfg.Modes != nil {
		modes = *cfg.Modes
	}
	if cfg.Prescaler < 0 || cfg.Prescaler > 3 {
		return &lts.OutOfRangeError{What: "prescaler", Value: float64(cfg.Prescaler)}
	}

	var opts byte
	if cfg.Trigger == nil || *cfg.Trigger {
		opts = 1
	}
	bits, err := triggerBits(cfg.TriggerChannels, 2)
	if err != nil {
		return err
	}
	if bits == 0 {
		bits = 4
	}
	opts |= bits
	if cfg.Rising {
		opts |= 2
	}

	var packed uint16
	for i, m := range modes {
		packed |= uint16(m&0x0F) << (4 * i)
	}

	if err := c.ClearBuffer(0, lts.MaxSamples); err != nil {
		return err
	}
	payload := lts.Payload{}.U16(segment).U16(packed).U8(byte(cfg.Prescaler)).U8(opts)
	if err := c.conn.Send(lts.GroupTiming, lts.TimingStartFourChanLA, payload...); err != nil {
		return err
	}
	if _, err := c.conn.Ack(); err != nil {
		return err
	}
	c.configure(4, 16, cfg.Prescaler, modes)
	return nil
}

// ============================================================================
// Fetch
// ============================================================================

// InitialStates returns the number of timestamps each channel recorded and
// the input levels when the acquisition began.
func (c *Controller) InitialStates() ([4]int, [4]bool, error) {
	var counts [4]int
	var levels [4]bool

	if err := c.conn.Command(lts.GroupTiming, lts.TimingGetInitialStates); err != nil {
		return counts, levels, err
	}
	initial, err := c.conn.ReadU16LE()
	if err != nil {
		return counts, levels, err
	}
	for i := range counts {
		v, err := c.conn.ReadU16LE()
		if err != nil {
			return counts, levels, err
		}
		// Floor the halved difference: a pointer one word behind the start
		// means an empty channel, not a full one
		d := int(v) - int(initial)
		half := d / 2
		if d < 0 && d%2 != 0 {
			half--
		}
		n := half - i*segment
		switch {
		case n == 0:
			n = segment
		case n < 0:
			n = 0
		}
		counts[i] = n
	}
	s, err := c.conn.ReadByte()
	if err != nil {
		return counts, levels, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return counts, levels, err
	}
	for i := range levels {
		levels[i] = s&(1<<i) != 0
	}
	return counts, levels, nil
}

// FetchRaw reads count counter words for channel (1-4) at the given width.
func (c *Controller) FetchRaw(count, channel, bits int) ([]uint32, error) {
	op, size := byte(lts.TimingFetchLongDMAData), 4
	if bits == 16 {
		op, size = lts.TimingFetchIntDMAData, 2
	}
	payload := lts.Payload{}.U16(uint16(count)).U8(byte(channel - 1))
	if err := c.conn.Send(lts.GroupTiming, op, payload...); err != nil {
		return nil, err
	}
	data, err := c.conn.ReadBytes(size * count)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Ack(); err != nil {
		return nil, err
	}
	if size == 4 {
		return lts.DecodeU32Slice(data), nil
	}
	out := make([]uint32, count)
	for i, v := range lts.DecodeU16Slice(data) {
		out[i] = uint32(v)
	}
	return out, nil
}

// FetchTimestamps reads count timestamps for channel (1-4) using the
// channel's configured counter width, trimming the unused tail and
// correcting counter rollover.
func (c *Controller) FetchTimestamps(count, channel int) ([]int64, error) {
	ch := c.Channel(channel)
	if ch == nil {
		return nil, &lts.ChannelUnavailableError{Channel: channel, Available: c.active}
	}
	raw, err := c.FetchRaw(count, channel, ch.Bits)
	if err != nil {
		return nil, err
	}
	return CorrectRollover(TrimTrailingZeros(raw), ch.Bits), nil
}

// FetchChannels reads every channel of the last acquisition into the
// channel buffers and aligns them to trigger (1-4).
func (c *Controller) FetchChannels(trigger int) ([]*Channel, error) {
	if c.active == 0 {
		return nil, &lts.ChannelUnavailableError{Channel: trigger, Available: 0}
	}
	counts, levels, err := c.InitialStates()
	if err != nil {
		return nil, err
	}

	out := make([]*Channel, 0, c.active)
	for i := 0; i < c.active; i++ {
		ch := c.channels[i]
		// 32-bit timestamps occupy two progress slots each
		n := counts[i]
		if ch.Bits == 32 {
			n = counts[(i*2)%len(counts)]
		}
		ticks, err := c.FetchTimestamps(n, i+1)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ch.Name, err)
		}
		ch.InitialState = levels[i]
		ch.Ticks = ticks
		out = append(out, ch)
	}

	if err := c.AlignChannels(trigger); err != nil {
		return nil, err
	}
	return out, nil
}

// AlignChannels shifts one-channel acquisitions so the trigger channel's
// first timestamp is t=0. Multi-channel acquisitions share a time base
// already and are left unchanged.
func (c *Controller) AlignChannels(trigger int) error {
	tc := c.Channel(trigger)
	if tc == nil || trigger > c.active {
		return &lts.ChannelUnavailableError{Channel: trigger, Available: c.active}
	}
	if c.active != 1 || len(tc.Ticks) < 2 {
		return nil
	}
	offset := tc.Ticks[0]
	for i := 0; i < c.active; i++ {
		for j := range c.channels[i].Ticks {
			c.channels[i].Ticks[j] -= offset
		}
	}
	return nil
}

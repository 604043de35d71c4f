// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package analog

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Thermoquad/testbench/pkg/calib"
	"github.com/Thermoquad/testbench/pkg/lts"
	"go.uber.org/zap"
)

// State is the capture controller's view of the device.
type State int

const (
	Idle State = iota
	Armed
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	triggerFlag = 0x80
	fetchChunk  = 20 // samples per GET_CAPTURE_CHANNEL read
)

// Channel select groups. Bipolar inputs map to their position, the
// unipolar inputs share the sensor multiplexer behind selector 4, and the
// rest follow from selector 5. Index 1 of the last group is a chip select
// line, not an input.
var (
	bipolarInputs  = []string{"CH2", "CH3", "CH4", "CH1"}
	sensorInputs   = []string{"CH5", "CH6", "CH7", "CH8", "CH9", "5V", "PCS", "9V"}
	directInputs   = []string{"IN1", "", "SEN", "TEMP"}
	sensorSelector = byte(4)
)

// pgaChipSelect maps a channel to its amplifier's chip select.
var pgaChipSelect = map[string]byte{
	"CH1": 1, "CH2": 2, "CH3": 3, "CH4": 4,
	"CH5": 5, "CH6": 5, "CH7": 5, "CH8": 5, "CH9": 5, "5V": 5, "PCS": 5, "9V": 5,
}

func indexOf(list []string, name string) int {
	for i, n := range list {
		if n != "" && n == name {
			return i
		}
	}
	return -1
}

// timing limits per channel count
type captureMode struct {
	op         byte
	minTimegap float64
	maxSamples int
}

func modeFor(channels int) (captureMode, int, error) {
	switch channels {
	case 1:
		return captureMode{lts.ADCCaptureOne, 1.0, lts.MaxSamples}, 1, nil
	case 2:
		return captureMode{lts.ADCCaptureTwo, 1.25, lts.MaxSamples / 2}, 2, nil
	case 3, 4:
		return captureMode{lts.ADCCaptureFour, 1.75, lts.MaxSamples / 4}, 4, nil
	default:
		return captureMode{}, 0, &lts.OutOfRangeError{What: "channel count", Value: float64(channels)}
	}
}

// CaptureConfig configures StartCapture.
type CaptureConfig struct {
	// Channels is 1, 2 or 4. 3 acquires 4.
	Channels int
	// Samples per channel, clamped to MaxSamples / Channels.
	Samples int
	// TimegapMicros between samples, raised to 1, 1.25 or 1.75 µs.
	TimegapMicros float64
	// Primary is the input routed to trace 1. Default "CH1".
	Primary string
	// Trigger waits for the level set by ConfigureTrigger. Default true.
	Trigger *bool
	// Secondary selects alternate inputs for traces 2-4 in four-channel mode.
	// Default 0.
	Secondary int
}

// Capture describes the session the device is running.
type Capture struct {
	Channels      int
	Samples       int
	TimegapMicros float64
	Primary       string
}

// Duration is the nominal acquisition time.
func (c Capture) Duration() time.Duration {
	return time.Duration(float64(c.Samples) * c.TimegapMicros * float64(time.Microsecond))
}

// Progress is a capture status poll.
type Progress struct {
	Complete bool
	Samples  int
	// Disconnected is set when the poll itself failed.
	Disconnected bool
}

// Scope is the oscilloscope capture controller.
//
// Start functions return as soon as the device accepts the configuration.
// Callers must poll until Complete before fetching or issuing another
// capture buffer read.
type Scope struct {
	conn   *lts.Conn
	table  *calib.Table
	logger *zap.Logger

	traces [4]*Channel

	analogGains map[string]int
	sensorGain  int
	sensorMux   int

	state     State
	session   Capture
	streaming bool
}

// NewScope builds a controller on conn using table for conversion.
func NewScope(conn *lts.Conn, table *calib.Table) *Scope {
	s := &Scope{
		conn:        conn,
		table:       table,
		logger:      conn.Logger().Named("scope"),
		analogGains: map[string]int{"CH1": 0, "CH2": 0, "CH3": 0, "CH4": 0},
	}
	for i, name := range []string{"CH1", "CH2", "CH3", "CH4"} {
		s.traces[i] = NewChannel(name, table)
	}
	return s
}

// State returns the controller state.
func (s *Scope) State() State { return s.state }

// Session returns the last started capture.
func (s *Scope) Session() Capture { return s.session }

// Trace returns trace buffer n (1-4).
func (s *Scope) Trace(n int) *Channel {
	if n < 1 || n > len(s.traces) {
		return nil
	}
	return s.traces[n-1]
}

// SetTable swaps the calibration table on every trace.
func (s *Scope) SetTable(table *calib.Table) {
	s.table = table
	for _, tr := range s.traces {
		tr.SetTable(table)
	}
}

// gainFor returns the amplifier gain currently applied to name.
func (s *Scope) gainFor(name string) int {
	if g, ok := s.analogGains[name]; ok {
		return g
	}
	if indexOf(sensorInputs, name) >= 0 {
		return s.sensorGain
	}
	return 0
}

// SetGain programs the amplifier in front of channel and returns the
// resulting multiplier. The unipolar inputs share one amplifier.
func (s *Scope) SetGain(channel string, gain int) (float64, error) {
	cs, ok := pgaChipSelect[channel]
	if !ok {
		return 0, fmt.Errorf("no amplifier on channel %q", channel)
	}
	if gain < 0 || gain >= calib.NumGains {
		return 0, &lts.OutOfRangeError{What: "gain index", Value: float64(gain)}
	}

	if err := s.conn.Command(lts.GroupADC, lts.ADCSetPGAGain); err != nil {
		return 0, err
	}
	if err := s.conn.WriteByte(cs); err != nil {
		return 0, err
	}
	if err := s.conn.WriteByte(byte(gain)); err != nil {
		return 0, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return 0, err
	}

	if _, ok := s.analogGains[channel]; ok {
		s.analogGains[channel] = gain
	} else {
		s.sensorGain = gain
	}
	return calib.Gains[gain], nil
}

// selectSensor points the shared sensor multiplexer at input n.
func (s *Scope) selectSensor(n int) error {
	if err := s.conn.Command(lts.GroupADC, lts.ADCSelectPGAChannel); err != nil {
		return err
	}
	if err := s.conn.WriteByte(byte(n)); err != nil {
		return err
	}
	if _, err := s.conn.Ack(); err != nil {
		return err
	}
	s.sensorMux = n
	return nil
}

// channelSelect resolves the device channel selector for name, switching the
// sensor multiplexer only when it points elsewhere.
func (s *Scope) channelSelect(name string) (byte, error) {
	if i := indexOf(bipolarInputs, name); i >= 0 {
		return byte(i), nil
	}
	if i := indexOf(sensorInputs, name); i >= 0 {
		if s.sensorMux != i {
			if err := s.selectSensor(i); err != nil {
				return 0, err
			}
		}
		return sensorSelector, nil
	}
	if i := indexOf(directInputs, name); i >= 0 {
		return byte(i + 5), nil
	}
	return 0, fmt.Errorf("unknown analog channel %q", name)
}

// StartCapture clamps cfg to the hardware limits, configures the trace
// buffers and starts an acquisition. It returns the effective session.
func (s *Scope) StartCapture(cfg CaptureConfig) (Capture, error) {
	mode, channels, err := modeFor(cfg.Channels)
	if err != nil {
		return Capture{}, err
	}
	primary := cfg.Primary
	if primary == "" {
		primary = "CH1"
	}
	trigger := cfg.Trigger == nil || *cfg.Trigger

	timegap := math.Max(cfg.TimegapMicros, mode.minTimegap)
	samples := cfg.Samples
	if samples > mode.maxSamples {
		samples = mode.maxSamples
	}
	if samples < 0 {
		samples = 0
	}

	// A fresh request supersedes whatever the device was doing
	s.state = Idle

	chosa, err := s.channelSelect(primary)
	if err != nil {
		return Capture{}, err
	}
	selector := chosa
	if channels == 4 {
		selector |= byte(cfg.Secondary&0x07) << 4
	}
	if trigger {
		selector |= triggerFlag
	}

	names := []string{primary, "CH2", "CH3", "CH4"}
	for i := 0; i < channels; i++ {
		name, gain := names[i], s.gainFor(names[i])
		if err := s.traces[i].SetParams(Params{
			Channel:  &name,
			Gain:     &gain,
			Length:   &samples,
			Timebase: &timegap,
		}); err != nil {
			return Capture{}, err
		}
	}

	if err := s.conn.Command(lts.GroupADC, mode.op); err != nil {
		return Capture{}, err
	}
	if err := s.conn.WriteByte(selector); err != nil {
		return Capture{}, err
	}
	if err := s.conn.WriteU16LE(uint16(samples)); err != nil {
		return Capture{}, err
	}
	if err := s.conn.WriteU16LE(uint16(timegap * lts.CaptureClockHz / 1e6)); err != nil {
		return Capture{}, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return Capture{}, err
	}

	s.session = Capture{Channels: channels, Samples: samples, TimegapMicros: timegap, Primary: primary}
	s.state = Armed
	s.logger.Debug("capture started",
		zap.Int("channels", channels),
		zap.Int("samples", samples),
		zap.Float64("timegap_us", timegap),
		zap.String("primary", primary),
		zap.Bool("trigger", trigger))
	return s.session, nil
}

// PollProgress asks the device how far the capture has got. Transport
// failures are reported through Progress.Disconnected so polling loops can
// retry or reconnect.
func (s *Scope) PollProgress() Progress {
	done, samples, err := s.readProgress()
	if err != nil {
		s.logger.Warn("capture poll failed", zap.Error(err))
		return Progress{Disconnected: true}
	}
	if done && s.state == Armed {
		s.state = Complete
	}
	return Progress{Complete: done, Samples: int(samples)}
}

func (s *Scope) readProgress() (bool, uint16, error) {
	if err := s.conn.Command(lts.GroupADC, lts.ADCCaptureStatus); err != nil {
		return false, 0, err
	}
	done, err := s.conn.ReadByte()
	if err != nil {
		return false, 0, err
	}
	samples, err := s.conn.ReadU16LE()
	if err != nil {
		return false, 0, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return false, 0, err
	}
	return done != 0, samples, nil
}

// FetchChannel reads trace n (1-based) of the completed capture and returns
// its time axis (µs) and voltages.
func (s *Scope) FetchChannel(n int) ([]float64, []float64, error) {
	if n < 1 || n > s.session.Channels {
		return nil, nil, &lts.ChannelUnavailableError{Channel: n, Available: s.session.Channels}
	}
	tr := s.traces[n-1]
	samples := tr.Length()

	raw := make([]uint16, 0, samples)
	for i := 0; i < samples/fetchChunk; i++ {
		chunk, err := s.fetchChunk(n, fetchChunk, i*fetchChunk)
		if err != nil {
			return nil, nil, err
		}
		raw = append(raw, chunk...)
	}
	rem := samples % fetchChunk
	chunk, err := s.fetchChunk(n, rem, samples-rem)
	if err != nil {
		return nil, nil, err
	}
	raw = append(raw, chunk...)

	if err := tr.setSamples(raw); err != nil {
		return nil, nil, err
	}
	return tr.XAxis(), tr.YAxis(), nil
}

func (s *Scope) fetchChunk(n, count, offset int) ([]uint16, error) {
	if err := s.conn.Command(lts.GroupADC, lts.ADCCaptureChannel); err != nil {
		return nil, err
	}
	if err := s.conn.WriteByte(byte(n - 1)); err != nil {
		return nil, err
	}
	if err := s.conn.WriteU16LE(uint16(count)); err != nil {
		return nil, err
	}
	if err := s.conn.WriteU16LE(uint16(offset)); err != nil {
		return nil, err
	}
	data, err := s.conn.ReadBytes(2 * count)
	if err != nil {
		return nil, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return nil, err
	}
	return lts.DecodeU16Slice(data), nil
}

// TriggerCode converts a trigger level in volts to the device's raw
// threshold for an amplifier multiplier.
func TriggerCode(levelVolts, gainMultiplier float64) uint16 {
	level := 511 - 31*levelVolts*gainMultiplier
	if level > 1023 {
		level = 1023
	} else if level < 0 {
		level = 0
	}
	return uint16(level)
}

// ConfigureTrigger sets the level a triggered capture waits for on trace
// chan (0-3). The device gives up after about 8 ms and captures anyway.
func (s *Scope) ConfigureTrigger(channel int, levelVolts float64) (uint16, error) {
	if channel < 0 || channel > 3 {
		return 0, &lts.OutOfRangeError{What: "trigger channel", Value: float64(channel)}
	}
	code := TriggerCode(levelVolts, s.traces[channel].Multiplier())

	if err := s.conn.Command(lts.GroupADC, lts.ADCConfigureTrigger); err != nil {
		return 0, err
	}
	if err := s.conn.WriteByte(1 << channel); err != nil {
		return 0, err
	}
	if err := s.conn.WriteU16LE(code); err != nil {
		return 0, err
	}
	if _, err := s.conn.Ack(); err != nil {
		return 0, err
	}
	return code, nil
}

// ============================================================================
// Blocking capture
// ============================================================================

// Traces holds fetched capture data.
type Traces struct {
	Time     []float64   // µs
	Voltages [][]float64 // one slice per trace
}

// Capture starts a capture, polls until complete or ctx ends, and fetches
// every trace. Disconnected polls reconnect the Conn and keep waiting.
func (s *Scope) Capture(ctx context.Context, cfg CaptureConfig) (*Traces, error) {
	session, err := s.StartCapture(cfg)
	if err != nil {
		return nil, err
	}

	interval := session.Duration() / 10
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p := s.PollProgress()
		if p.Complete {
			break
		}
		if p.Disconnected {
			if err := s.conn.Reconnect(); err != nil {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return s.FetchTraces()
}

// FetchTraces reads every trace of the last completed capture. The
// returned slices are copies.
func (s *Scope) FetchTraces() (*Traces, error) {
	out := &Traces{}
	for n := 1; n <= s.session.Channels; n++ {
		x, y, err := s.FetchChannel(n)
		if err != nil {
			return nil, fmt.Errorf("fetch trace %d: %w", n, err)
		}
		if out.Time == nil {
			out.Time = append([]float64(nil), x...)
		}
		out.Voltages = append(out.Voltages, append([]float64(nil), y...))
	}
	return out, nil
}

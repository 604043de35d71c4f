// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import "encoding/binary"

// Sensor addresses
const (
	MPU6050Address  = 0x68
	HMC5883LAddress = 0x1E
)

const (
	mpu6050PowerMgmt = 0x6B
	mpu6050AccelX    = 0x3B

	hmc5883lGain = 0x01
	hmc5883lMode = 0x02
	hmc5883lData = 0x03
)

// bigEndianInt16s decodes big-endian signed 16-bit register pairs.
func bigEndianInt16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(b[i*2:]))
	}
	return out
}

// MotionSample is one raw MPU6050 register dump.
type MotionSample struct {
	Accel [3]int16
	Temp  int16
	Gyro  [3]int16
}

// MPU6050 reads the accelerometer/gyroscope.
type MPU6050 struct {
	bus  *I2C
	addr byte
}

// NewMPU6050 returns the sensor at its default address.
func NewMPU6050(b *I2C) *MPU6050 {
	return &MPU6050{bus: b, addr: MPU6050Address}
}

// Init sets a 40 kHz bus clock and wakes the sensor.
func (m *MPU6050) Init() error {
	if err := m.bus.Config(40000); err != nil {
		return err
	}
	return m.bus.WriteRegister(m.addr, mpu6050PowerMgmt, 0)
}

// ReadRaw reads accelerometer, temperature and gyroscope registers.
func (m *MPU6050) ReadRaw() (MotionSample, error) {
	b, err := m.bus.ReadBulk(m.addr, mpu6050AccelX, 14)
	if err != nil {
		return MotionSample{}, err
	}
	v := bigEndianInt16s(b)
	return MotionSample{
		Accel: [3]int16{v[0], v[1], v[2]},
		Temp:  v[3],
		Gyro:  [3]int16{v[4], v[5], v[6]},
	}, nil
}

// HMC5883L reads the three-axis magnetometer.
type HMC5883L struct {
	bus  *I2C
	addr byte
}

// NewHMC5883L returns the sensor at its default address.
func NewHMC5883L(b *I2C) *HMC5883L {
	return &HMC5883L{bus: b, addr: HMC5883LAddress}
}

// Init selects the smallest range and continuous measurement.
func (h *HMC5883L) Init() error {
	if err := h.bus.WriteRegister(h.addr, hmc5883lGain, 0); err != nil {
		return err
	}
	return h.bus.WriteRegister(h.addr, hmc5883lMode, 0)
}

// ReadRaw returns the X, Y and Z field registers in the order the sensor
// stores them.
func (h *HMC5883L) ReadRaw() ([3]int16, error) {
	b, err := h.bus.ReadBulk(h.addr, hmc5883lData, 6)
	if err != nil {
		return [3]int16{}, err
	}
	v := bigEndianInt16s(b)
	return [3]int16{v[0], v[1], v[2]}, nil
}

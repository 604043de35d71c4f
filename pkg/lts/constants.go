// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lts implements the host side of the instrument's binary command
// protocol.
//
// Every command is framed as [subsystem][operation][payload...]. Multi-byte
// payload values are little-endian. Outside burst mode each command is
// answered by exactly one ack byte.
package lts

// Ack byte low-nibble status codes
const (
	StatusSuccess  = 1
	StatusArgError = 2
	StatusFailed   = 3
)

// Acknowledge is the firmware's generic acknowledge byte.
const Acknowledge = 254

// StopStreaming is sent on its own (no subsystem) to end ADC streaming.
const StopStreaming = 253

// VersionPrefix is the product prefix of a valid version reply.
const VersionPrefix = "LTS"

// Subsystem codes
const (
	GroupFlash        = 1
	GroupADC          = 2
	GroupSPI          = 3
	GroupI2C          = 4
	GroupUART2        = 5
	GroupDAC          = 6
	GroupWavegen      = 7
	GroupDOut         = 8
	GroupDIn          = 9
	GroupTiming       = 10
	GroupCommon       = 11
	GroupSetBaud      = 12
	GroupNRF          = 13
	GroupNonStandard  = 14
	GroupPassthroughs = 15
)

// Flash operations
const (
	FlashRead      = 1
	FlashWrite     = 2
	FlashWriteBulk = 3
	FlashReadBulk  = 4
)

// ADC operations
const (
	ADCCaptureOne       = 1
	ADCCaptureTwo       = 2
	ADCCaptureFour      = 4
	ADCConfigureTrigger = 5
	ADCCaptureStatus    = 6
	ADCCaptureChannel   = 7
	ADCSetPGAGain       = 8
	ADCVoltage          = 9
	ADCVoltageSummed    = 10
	ADCStartStreaming   = 11
	ADCSelectPGAChannel = 12
	ADCCapture12Bit     = 13
)

// SPI operations
const (
	SPIStart         = 1
	SPISend8         = 2
	SPISend16        = 3
	SPIStop          = 4
	SPISetParameters = 5
	SPISend8Burst    = 6
	SPISend16Burst   = 7
)

// I2C operations
const (
	I2CStart     = 1
	I2CSend      = 2
	I2CStop      = 3
	I2CRestart   = 4
	I2CReadEnd   = 5
	I2CReadMore  = 6
	I2CWait      = 7
	I2CSendBurst = 8
	I2CConfig    = 9
	I2CStatus    = 10
)

// UART2 operations
const (
	UARTSendChar    = 1
	UARTSendInt     = 2
	UARTSendAddress = 3
	UARTSetBaud     = 4
	UARTSetMode     = 5
)

// DAC operations
const (
	DACSet     = 1
	DACSetPVS2 = 2
	DACSetPVS3 = 3
	DACSetPCS  = 4
)

// Waveform generator operations. WG1 and WG2 opcodes are swapped on the
// device side.
const (
	WavegenSetWG2          = 1
	WavegenSetWG1          = 2
	WavegenSetSqr1         = 3
	WavegenSetSqr2         = 4
	WavegenSetSqrs         = 5
	WavegenTuneSine        = 6
	WavegenSqr4            = 7
	WavegenMapReference    = 8
	WavegenSetBothWG       = 9
	WavegenSetWaveformType = 10
	WavegenSelectFreqReg   = 11
	WavegenDelayGenerator  = 12
)

// Digital output / input operations
const (
	DOutSetState = 1
	DInGetState  = 1
	DInGetStates = 2
)

// Timing and logic analyzer operations
const (
	TimingGetTiming            = 1
	TimingGetPulseTime         = 2
	TimingGetDutyCycle         = 3
	TimingStartOneChanLA       = 4
	TimingStartTwoChanLA       = 5
	TimingStartFourChanLA      = 6
	TimingFetchDMAData         = 7
	TimingFetchIntDMAData      = 8
	TimingFetchLongDMAData     = 9
	TimingGetLAProgress        = 10
	TimingGetInitialStates     = 11
	TimingMeasurements         = 12
	TimingIntervalMeasurements = 13
	TimingConfigureComparator  = 14
	TimingStartAltOneChanLA    = 15
	TimingStartThreeChanLA     = 16
)

// Common operations
const (
	CommonCTMUVoltage        = 1
	CommonCapacitance        = 2
	CommonFrequency          = 3
	CommonInductance         = 4
	CommonVersion            = 5
	CommonRetrieveBuffer     = 8
	CommonHighFrequency      = 9
	CommonClearBuffer        = 10
	CommonSetRGB             = 11
	CommonReadProgramAddress = 12
	CommonWriteProgramAddr   = 13
	CommonReadDataAddress    = 14
	CommonWriteDataAddress   = 15
	CommonCapRange           = 16
	CommonSetOnboardRGB      = 17
)

// Baud selectors
const (
	Baud9600    = 1
	Baud14400   = 2
	Baud19200   = 3
	Baud28800   = 4
	Baud38400   = 5
	Baud57600   = 6
	Baud115200  = 7
	Baud230400  = 8
	Baud1000000 = 9
)

// NRF24L01 operations
const (
	NRFSetup        = 1
	NRFRxMode       = 2
	NRFTxMode       = 3
	NRFPowerDown    = 4
	NRFRxChar       = 5
	NRFTxChar       = 6
	NRFHasData      = 7
	NRFFlush        = 8
	NRFWriteReg     = 9
	NRFReadReg      = 10
	NRFGetStatus    = 11
	NRFWriteCommand = 12
	NRFWritePayload = 13
	NRFReadPayload  = 14
	NRFWriteAddress = 15
	NRFTransaction  = 16
)

// Non-standard IO operations
const (
	NonStandardHX711   = 1
	NonStandardHCSR04  = 2
	NonStandardAM2302  = 3
	NonStandardTCD1304 = 4
)

// PassUART bridges the host stream to UART2.
const PassUART = 1

// Clock rates
const (
	// CaptureClockHz drives the ADC sample timer (timegap ticks per µs = 8).
	CaptureClockHz = 8e6
	// TimerClockHz drives every digital timestamp counter.
	TimerClockHz = 64e6
)

// MaxSamples is the analog capture buffer size in samples.
const MaxSamples = 3200

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lts

import "fmt"

var opNames = map[byte]map[byte]string{
	GroupFlash: {
		FlashRead: "READ_FLASH", FlashWrite: "WRITE_FLASH",
		FlashWriteBulk: "WRITE_BULK_FLASH", FlashReadBulk: "READ_BULK_FLASH",
	},
	GroupADC: {
		ADCCaptureOne: "CAPTURE_ONE", ADCCaptureTwo: "CAPTURE_TWO", ADCCaptureFour: "CAPTURE_FOUR",
		ADCConfigureTrigger: "CONFIGURE_TRIGGER", ADCCaptureStatus: "GET_CAPTURE_STATUS",
		ADCCaptureChannel: "GET_CAPTURE_CHANNEL", ADCSetPGAGain: "SET_PGA_GAIN",
		ADCVoltage: "GET_VOLTAGE", ADCVoltageSummed: "GET_VOLTAGE_SUMMED",
		ADCStartStreaming: "START_ADC_STREAMING", ADCSelectPGAChannel: "SELECT_PGA_CHANNEL",
		ADCCapture12Bit: "CAPTURE_12BIT",
	},
	GroupSPI: {
		SPIStart: "START_SPI", SPISend8: "SEND_SPI8", SPISend16: "SEND_SPI16", SPIStop: "STOP_SPI",
		SPISetParameters: "SET_SPI_PARAMETERS", SPISend8Burst: "SEND_SPI8_BURST",
		SPISend16Burst: "SEND_SPI16_BURST",
	},
	GroupI2C: {
		I2CStart: "START", I2CSend: "SEND", I2CStop: "STOP", I2CRestart: "RESTART",
		I2CReadEnd: "READ_END", I2CReadMore: "READ_MORE", I2CWait: "WAIT",
		I2CSendBurst: "SEND_BURST", I2CConfig: "CONFIG", I2CStatus: "STATUS",
	},
	GroupUART2: {
		UARTSendChar: "SEND_CHAR", UARTSendInt: "SEND_INT", UARTSendAddress: "SEND_ADDRESS",
		UARTSetBaud: "SET_BAUD", UARTSetMode: "SET_MODE",
	},
	GroupDAC: {
		DACSet: "SET_DAC", DACSetPVS2: "SET_PVS2", DACSetPVS3: "SET_PVS3", DACSetPCS: "SET_PCS",
	},
	GroupWavegen: {
		WavegenSetWG2: "SET_WG2", WavegenSetWG1: "SET_WG1", WavegenSetSqr1: "SET_SQR1",
		WavegenSetSqr2: "SET_SQR2", WavegenSetSqrs: "SET_SQRS", WavegenTuneSine: "TUNE_SINE_OSCILLATOR",
		WavegenSqr4: "SQR4", WavegenMapReference: "MAP_REFERENCE", WavegenSetBothWG: "SET_BOTH_WG",
		WavegenSetWaveformType: "SET_WAVEFORM_TYPE", WavegenSelectFreqReg: "SELECT_FREQ_REGISTER",
		WavegenDelayGenerator: "DELAY_GENERATOR",
	},
	GroupDOut: {DOutSetState: "SET_STATE"},
	GroupDIn:  {DInGetState: "GET_STATE", DInGetStates: "GET_STATES"},
	GroupTiming: {
		TimingGetTiming: "GET_TIMING", TimingGetPulseTime: "GET_PULSE_TIME",
		TimingGetDutyCycle: "GET_DUTY_CYCLE", TimingStartOneChanLA: "START_ONE_CHAN_LA",
		TimingStartTwoChanLA: "START_TWO_CHAN_LA", TimingStartFourChanLA: "START_FOUR_CHAN_LA",
		TimingFetchDMAData: "FETCH_DMA_DATA", TimingFetchIntDMAData: "FETCH_INT_DMA_DATA",
		TimingFetchLongDMAData: "FETCH_LONG_DMA_DATA", TimingGetLAProgress: "GET_LA_PROGRESS",
		TimingGetInitialStates: "GET_INITIAL_DIGITAL_STATES", TimingMeasurements: "TIMING_MEASUREMENTS",
		TimingIntervalMeasurements: "INTERVAL_MEASUREMENTS", TimingConfigureComparator: "CONFIGURE_COMPARATOR",
		TimingStartAltOneChanLA: "START_ALTERNATE_ONE_CHAN_LA", TimingStartThreeChanLA: "START_THREE_CHAN_LA",
	},
	GroupCommon: {
		CommonCTMUVoltage: "GET_CTMU_VOLTAGE", CommonCapacitance: "GET_CAPACITANCE",
		CommonFrequency: "GET_FREQUENCY", CommonInductance: "GET_INDUCTANCE", CommonVersion: "GET_VERSION",
		CommonRetrieveBuffer: "RETRIEVE_BUFFER", CommonHighFrequency: "GET_HIGH_FREQUENCY",
		CommonClearBuffer: "CLEAR_BUFFER", CommonSetRGB: "SET_RGB",
		CommonReadProgramAddress: "READ_PROGRAM_ADDRESS", CommonWriteProgramAddr: "WRITE_PROGRAM_ADDRESS",
		CommonReadDataAddress: "READ_DATA_ADDRESS", CommonWriteDataAddress: "WRITE_DATA_ADDRESS",
		CommonCapRange: "GET_CAP_RANGE", CommonSetOnboardRGB: "SET_ONBOARD_RGB",
	},
	GroupSetBaud: {
		Baud9600: "BAUD9600", Baud14400: "BAUD14400", Baud19200: "BAUD19200", Baud28800: "BAUD28800",
		Baud38400: "BAUD38400", Baud57600: "BAUD57600", Baud115200: "BAUD115200",
		Baud230400: "BAUD230400", Baud1000000: "BAUD1000000",
	},
	GroupNRF: {
		NRFSetup: "SETUP", NRFRxMode: "RXMODE", NRFTxMode: "TXMODE", NRFPowerDown: "POWER_DOWN",
		NRFRxChar: "RXCHAR", NRFTxChar: "TXCHAR", NRFHasData: "HASDATA", NRFFlush: "FLUSH",
		NRFWriteReg: "WRITEREG", NRFReadReg: "READREG", NRFGetStatus: "GETSTATUS",
		NRFWriteCommand: "WRITECOMMAND", NRFWritePayload: "WRITEPAYLOAD", NRFReadPayload: "READPAYLOAD",
		NRFWriteAddress: "WRITEADDRESS", NRFTransaction: "TRANSACTION",
	},
	GroupNonStandard: {
		NonStandardHX711: "HX711", NonStandardHCSR04: "HCSR04", NonStandardAM2302: "AM2302",
		NonStandardTCD1304: "TCD1304",
	},
	GroupPassthroughs: {PassUART: "PASS_UART"},
}

// FormatGroup returns the human-readable name for a subsystem code
func FormatGroup(group byte) string {
	switch group {
	case GroupFlash:
		return "FLASH"
	case GroupADC:
		return "ADC"
	case GroupSPI:
		return "SPI"
	case GroupI2C:
		return "I2C"
	case GroupUART2:
		return "UART2"
	case GroupDAC:
		return "DAC"
	case GroupWavegen:
		return "WAVEGEN"
	case GroupDOut:
		return "DOUT"
	case GroupDIn:
		return "DIN"
	case GroupTiming:
		return "TIMING"
	case GroupCommon:
		return "COMMON"
	case GroupSetBaud:
		return "SETBAUD"
	case GroupNRF:
		return "NRFL01"
	case GroupNonStandard:
		return "NONSTANDARD_IO"
	case GroupPassthroughs:
		return "PASSTHROUGHS"
	case StopStreaming:
		return "STOP_STREAMING"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", group)
	}
}

// FormatCommand returns "GROUP.OPERATION" for a command header
func FormatCommand(group, op byte) string {
	if name, ok := opNames[group][op]; ok {
		return FormatGroup(group) + "." + name
	}
	return fmt.Sprintf("%s.0x%02X", FormatGroup(group), op)
}

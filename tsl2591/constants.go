package tsl2591

import (
	"fmt"
	"strings"
	"time"
)

const (
	TSL2591_VISIBLE      byte = 2 ///< channel 0 - channel 1
	TSL2591_INFRARED     byte = 1 ///< channel 1
	TSL2591_FULLSPECTRUM byte = 0 ///< channel 0

	TSL2591_ADDR        uint16 = 0x29 ///< Default I2C address
	TSL2591_COMMAND_BIT byte   = 0xA0 ///< 1010 0000: bits 7 and 5 for 'command normal'
	TSL2591_DEVICE_ID   byte   = 0x50 ///< Value of the device id register

	TSL2591_ENABLE_POWEROFF byte = 0x00 ///< Flag for ENABLE register to disable
	TSL2591_ENABLE_POWERON  byte = 0x01 ///< Flag for ENABLE register to enable
	TSL2591_ENABLE_AEN      byte = 0x02 ///< ALS Enable. Writing a one activates the ALS. Writing a zero disables the ALS.

	TSL2591_LUX_DF    float64 = 408.0 ///< Lux cooefficient
	TSL2591_LUX_COEFB float64 = 1.64  ///< CH0 coefficient
	TSL2591_LUX_COEFC float64 = 0.59  ///< CH1 coefficient A
	TSL2591_LUX_COEFD float64 = 0.86  ///< CH2 coefficient B

	// Raw channel value reported when the ADC saturates
	TSL2591_CHANNEL_MAX uint16 = 0xFFFF
)

// TSL2591 Register map
const (
	TSL2591_REGISTER_ENABLE     byte = 0x00 // Enable register
	TSL2591_REGISTER_CONTROL    byte = 0x01 // Control register
	TSL2591_REGISTER_DEVICE_ID  byte = 0x12 // Device Identification
	TSL2591_REGISTER_CHAN0_LOW  byte = 0x14 // Channel 0 data, low byte
	TSL2591_REGISTER_CHAN0_HIGH byte = 0x15 // Channel 0 data, high byte
	TSL2591_REGISTER_CHAN1_LOW  byte = 0x16 // Channel 1 data, low byte
	TSL2591_REGISTER_CHAN1_HIGH byte = 0x17 // Channel 1 data, high byte
)

// Gain is the AGAIN field of the control register.
type Gain byte

const (
	GainLow    Gain = 0x00 // low gain (1x)
	GainMedium Gain = 0x10 // medium gain (25x)
	GainHigh   Gain = 0x20 // high gain (428x)
	GainMax    Gain = 0x30 // max gain (9876x)
)

var gains = []struct {
	gain       Gain
	multiplier float64
	name       string
	label      string
}{
	{GainLow, 1.0, "low", "Low gain (1x)"},
	{GainMedium, 25.0, "medium", "Medium gain (25x)"},
	{GainHigh, 428.0, "high", "High gain (428x)"},
	{GainMax, 9876.0, "max", "Max gain (9876x)"},
}

// Multiplier returns the amplification factor of the gain. Unknown values
// are treated as 1x.
func (g Gain) Multiplier() float64 {
	for _, e := range gains {
		if e.gain == g {
			return e.multiplier
		}
	}
	return 1.0
}

// Valid reports whether g is one of the four defined gains.
func (g Gain) Valid() bool {
	for _, e := range gains {
		if e.gain == g {
			return true
		}
	}
	return false
}

func (g Gain) String() string {
	for _, e := range gains {
		if e.gain == g {
			return e.label
		}
	}
	return "Unknown"
}

// ParseGain accepts the gain name ("low", "medium", "high", "max") or its
// multiplier ("1x", "25x", "428x", "9876x").
func ParseGain(s string) (Gain, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, e := range gains {
		if s == e.name || s == fmt.Sprintf("%gx", e.multiplier) {
			return e.gain, nil
		}
	}
	if s == "med" {
		return GainMedium, nil
	}
	return 0, fmt.Errorf("bad gain value [%s]: %w", s, ErrInvalidArgument)
}

// IntegrationTime is the ATIME field of the control register.
type IntegrationTime byte

const (
	IntegrationTime100MS IntegrationTime = 0x00 // 100 millis
	IntegrationTime200MS IntegrationTime = 0x01 // 200 millis
	IntegrationTime300MS IntegrationTime = 0x02 // 300 millis
	IntegrationTime400MS IntegrationTime = 0x03 // 400 millis
	IntegrationTime500MS IntegrationTime = 0x04 // 500 millis
	IntegrationTime600MS IntegrationTime = 0x05 // 600 millis
)

// Extra time to wait after the nominal integration period
const integrationGuard = time.Millisecond

var integrationTimes = []struct {
	time   IntegrationTime
	millis float64
}{
	{IntegrationTime100MS, 100},
	{IntegrationTime200MS, 200},
	{IntegrationTime300MS, 300},
	{IntegrationTime400MS, 400},
	{IntegrationTime500MS, 500},
	{IntegrationTime600MS, 600},
}

// Millis returns the nominal integration period in milliseconds. Unknown
// values are treated as 100ms.
func (t IntegrationTime) Millis() float64 {
	for _, e := range integrationTimes {
		if e.time == t {
			return e.millis
		}
	}
	return 100.0
}

// Wait returns how long to block after writing t to the control register.
// Unknown values wait as long as the 600ms setting.
func (t IntegrationTime) Wait() time.Duration {
	for _, e := range integrationTimes {
		if e.time == t {
			return time.Duration(e.millis)*time.Millisecond + integrationGuard
		}
	}
	return 600*time.Millisecond + integrationGuard
}

// Valid reports whether t is one of the six defined integration times.
func (t IntegrationTime) Valid() bool {
	for _, e := range integrationTimes {
		if e.time == t {
			return true
		}
	}
	return false
}

func (t IntegrationTime) String() string {
	for _, e := range integrationTimes {
		if e.time == t {
			return fmt.Sprintf("%gms", e.millis)
		}
	}
	return "Unknown"
}

// ParseIntegrationTime accepts "100ms".."600ms" or the bare millisecond count.
func ParseIntegrationTime(s string) (IntegrationTime, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, e := range integrationTimes {
		if s == fmt.Sprintf("%gms", e.millis) || s == fmt.Sprintf("%g", e.millis) {
			return e.time, nil
		}
	}
	return 0, fmt.Errorf("bad integration time value [%s]: %w", s, ErrInvalidArgument)
}

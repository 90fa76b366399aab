package tsl2591

/*
 * tsl2591 - Package for interacting with TSL2591 lux sensors.
 *
 * Ref:
 * https://github.com/adafruit/Adafruit_TSL2591_Library
 * https://github.com/mstahl/tsl2591
 *
 */

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/benbjohnson/clock"
)

// TSL2591 is a single open sensor. It is not safe for concurrent use; the
// owner issues one operation at a time.
type TSL2591 struct {
	conn    Conn
	gain    Gain
	timing  IntegrationTime
	enabled bool
	clock   clock.Clock
}

// Option configures a TSL2591 before it is connected.
type Option func(*TSL2591)

// WithClock sets the clock used to wait for the sensor to settle.
func WithClock(c clock.Clock) Option {
	return func(tsl *TSL2591) {
		tsl.clock = c
	}
}

// Open a TSL2591 at addr on bus, identify it, power it on and write the
// default gain and integration time. The connection is closed again if any
// of that fails.
func Open(o Opener, bus string, addr uint16, opts ...Option) (*TSL2591, error) {
	conn, err := o.Open(bus, addr)
	if err != nil {
		return nil, err
	}
	return NewTSL2591(conn, opts...)
}

// NewTSL2591 connects to a TSL2591 over an already open connection. The
// connection is owned by the returned sensor, and is closed on failure.
func NewTSL2591(conn Conn, opts ...Option) (*TSL2591, error) {
	tsl := &TSL2591{
		conn:   conn,
		gain:   GainLow,
		timing: IntegrationTime600MS,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(tsl)
	}

	if err := tsl.connect(); err != nil {
		// Report the connect error, not the close error.
		_ = tsl.Close()
		return nil, err
	}
	return tsl, nil
}

func (tsl *TSL2591) connect() error {
	// Read the device ID from the TSL2591
	buf := make([]byte, 1)
	if err := tsl.readRegister(TSL2591_REGISTER_DEVICE_ID, buf); err != nil {
		return err
	}
	if buf[0] != TSL2591_DEVICE_ID {
		return fmt.Errorf("device id %#02x: %w", buf[0], ErrDeviceNotFound)
	}

	if err := tsl.Enable(); err != nil {
		return err
	}
	return tsl.writeControl(tsl.gain, tsl.timing)
}

// Close releases the connection. Closing a closed sensor does nothing. The
// connection is dropped even when the underlying close fails.
func (tsl *TSL2591) Close() error {
	if tsl.conn == nil {
		return nil
	}
	defer func() {
		tsl.conn = nil
		tsl.enabled = false
	}()
	return tsl.conn.Close()
}

// Connected reports whether the sensor holds an open connection.
func (tsl *TSL2591) Connected() bool {
	return tsl.conn != nil
}

// Gain returns the gain last written to the sensor.
func (tsl *TSL2591) Gain() Gain {
	return tsl.gain
}

// Integration returns the integration time last written to the sensor.
func (tsl *TSL2591) Integration() IntegrationTime {
	return tsl.timing
}

// Enabled reports whether the ALS is powered on.
func (tsl *TSL2591) Enabled() bool {
	return tsl.enabled
}

// Enable powers on the sensor and its ALS
func (tsl *TSL2591) Enable() error {
	if tsl.enabled {
		return nil
	}
	if err := tsl.writeRegister(TSL2591_REGISTER_ENABLE, TSL2591_ENABLE_POWERON|TSL2591_ENABLE_AEN); err != nil {
		return err
	}
	tsl.enabled = true
	return nil
}

// Disable powers off the sensor
func (tsl *TSL2591) Disable() error {
	if !tsl.enabled {
		return nil
	}
	if err := tsl.writeRegister(TSL2591_REGISTER_ENABLE, TSL2591_ENABLE_POWEROFF); err != nil {
		return err
	}
	tsl.enabled = false
	return nil
}

// ResetGain sets the gain back to GainLow.
func (tsl *TSL2591) ResetGain() error {
	return tsl.SetGain(GainLow)
}

// SetGain changes the gain, keeping the current integration time.
func (tsl *TSL2591) SetGain(gain Gain) error {
	return tsl.SetGainAndIntegration(gain, tsl.timing)
}

// ResetIntegration sets the integration time back to 600ms.
func (tsl *TSL2591) ResetIntegration() error {
	return tsl.SetIntegration(IntegrationTime600MS)
}

// SetIntegration changes the integration time, keeping the current gain.
func (tsl *TSL2591) SetIntegration(timing IntegrationTime) error {
	return tsl.SetGainAndIntegration(tsl.gain, timing)
}

// SetGainAndIntegration writes gain and timing to the control register and
// blocks until the sensor has integrated once with the new settings. Only
// GainLow and GainHigh are accepted. Nothing is written when the settings
// are unchanged.
func (tsl *TSL2591) SetGainAndIntegration(gain Gain, timing IntegrationTime) error {
	if err := CheckSettings(gain, timing); err != nil {
		return err
	}

	if gain == tsl.gain && timing == tsl.timing {
		return nil
	}
	return tsl.writeControl(gain, timing)
}

// CheckSettings reports whether gain and timing can be written by
// SetGainAndIntegration. Only GainLow and GainHigh are accepted.
func CheckSettings(gain Gain, timing IntegrationTime) error {
	if gain != GainLow && gain != GainHigh {
		return fmt.Errorf("bad gain value [%#02x]: %w", byte(gain), ErrInvalidArgument)
	}
	if !timing.Valid() {
		return fmt.Errorf("bad integration time value [%#02x]: %w", byte(timing), ErrInvalidArgument)
	}
	return nil
}

func (tsl *TSL2591) writeControl(gain Gain, timing IntegrationTime) error {
	if err := tsl.writeRegister(TSL2591_REGISTER_CONTROL, byte(gain)|byte(timing)); err != nil {
		return err
	}
	tsl.gain = gain
	tsl.timing = timing

	tsl.clock.Sleep(timing.Wait())
	return nil
}

// FullLuminosity reads channel 0 (full spectrum) and channel 1 (infrared).
func (tsl *TSL2591) FullLuminosity() (uint16, uint16, error) {
	// Reading from TSL2591_REGISTER_CHAN0_LOW, and TSL2591_REGISTER_CHAN1_LOW
	// They are 2 bytes each, so we read 4 bytes in total
	bytes := make([]byte, 4)
	if err := tsl.readRegister(TSL2591_REGISTER_CHAN0_LOW, bytes); err != nil {
		return 0, 0, err
	}
	channel0 := binary.LittleEndian.Uint16(bytes[0:])
	channel1 := binary.LittleEndian.Uint16(bytes[2:])
	return channel0, channel1, nil
}

// Lux reads both channels and converts them with the current settings.
// A saturated channel is reported as ErrOverflow.
func (tsl *TSL2591) Lux() (float64, error) {
	ch0, ch1, err := tsl.FullLuminosity()
	if err != nil {
		return 0, err
	}
	if Saturated(ch0, ch1) {
		return 0, fmt.Errorf("channel 0: %d, channel 1: %d: %w", ch0, ch1, ErrOverflow)
	}
	return tsl.CalculateLux(ch0, ch1), nil
}

// Saturated reports whether either channel reads its maximum count, in
// which case the lux value is meaningless.
func Saturated(ch0, ch1 uint16) bool {
	return ch0 == TSL2591_CHANNEL_MAX || ch1 == TSL2591_CHANNEL_MAX
}

// CalculateLux converts raw channel counts to lux using the current gain and
// integration time. Saturation is not checked here.
func (tsl *TSL2591) CalculateLux(ch0, ch1 uint16) float64 {
	return CalculateLux(tsl.gain, tsl.timing, ch0, ch1)
}

// CalculateLux converts raw channel counts taken at the given settings to lux.
func CalculateLux(gain Gain, timing IntegrationTime, ch0, ch1 uint16) float64 {
	// cpl = (ATIME * AGAIN) / DF
	cpl := (timing.Millis() * gain.Multiplier()) / TSL2591_LUX_DF

	lux1 := (float64(ch0) - TSL2591_LUX_COEFB*float64(ch1)) / cpl
	lux2 := (TSL2591_LUX_COEFC*float64(ch0) - TSL2591_LUX_COEFD*float64(ch1)) / cpl

	// The highest value is the approximate lux equivalent
	return math.Max(lux1, lux2)
}

// Returns the normalized output for a given spectrum type
func GetNormalizedOutput(spectrumType byte, ch0, ch1 uint16) float64 {
	switch spectrumType {
	case TSL2591_VISIBLE:
		visible := float64(ch0) - float64(ch1)
		if visible < 0 {
			visible = 0
		}
		return visible / 0xFFFF
	case TSL2591_INFRARED:
		return float64(ch1) / 0xFFFF
	case TSL2591_FULLSPECTRUM:
		return float64(ch0) / 0xFFFF
	default:
		return 0
	}
}

func (tsl *TSL2591) writeRegister(reg byte, value byte) error {
	if tsl.conn == nil {
		return ErrNotConnected
	}
	return tsl.conn.WriteReg(TSL2591_COMMAND_BIT|reg, []byte{value})
}

func (tsl *TSL2591) readRegister(reg byte, buf []byte) error {
	if tsl.conn == nil {
		return ErrNotConnected
	}
	return tsl.conn.ReadReg(TSL2591_COMMAND_BIT|reg, buf)
}

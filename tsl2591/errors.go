package tsl2591

import "errors"

var (
	// ErrInvalidArgument is returned for a gain or integration time the
	// driver does not accept. No I/O happens before it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConnected is returned for register access on a closed device.
	ErrNotConnected = errors.New("I2C device not open")

	// ErrOverflow is returned when a channel reads back saturated.
	ErrOverflow = errors.New("channel overflow")

	// ErrDeviceNotFound is returned when the device id register does not
	// identify a TSL2591.
	ErrDeviceNotFound = errors.New("can't find a TSL2591 on I2C bus")
)

package tsl2591

import (
	"fmt"

	"golang.org/x/exp/io/i2c"
	periphi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Conn is an open I2C device addressed by register.
// *i2c.Device from golang.org/x/exp/io/i2c satisfies it.
type Conn interface {
	WriteReg(reg byte, buf []byte) error
	ReadReg(reg byte, buf []byte) error
	Close() error
}

// Opener opens a device at addr on the named bus.
type Opener interface {
	Open(bus string, addr uint16) (Conn, error)
}

// Devfs opens devices through /dev/i2c-N.
type Devfs struct{}

func (Devfs) Open(bus string, addr uint16) (Conn, error) {
	if bus == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		bus = "/dev/i2c-1"
	}
	device, err := i2c.Open(&i2c.Devfs{Dev: bus}, int(addr))
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Periph opens devices through the periph.io host drivers. An empty bus
// name selects the first bus available.
type Periph struct{}

func (Periph) Open(bus string, addr uint16) (Conn, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, err
	}
	return &periphConn{
		dev: &periphi2c.Dev{Addr: addr, Bus: b},
		bus: b,
	}, nil
}

type periphConn struct {
	dev *periphi2c.Dev
	bus periphi2c.BusCloser
}

func (c *periphConn) WriteReg(reg byte, buf []byte) error {
	w := make([]byte, 0, len(buf)+1)
	w = append(w, reg)
	w = append(w, buf...)
	return c.dev.Tx(w, nil)
}

func (c *periphConn) ReadReg(reg byte, buf []byte) error {
	return c.dev.Tx([]byte{reg}, buf)
}

func (c *periphConn) Close() error {
	return c.bus.Close()
}

package tsl2591

import (
	"sync"
)

// Write is one register write seen by a FakeConn.
type Write struct {
	Reg  byte
	Data []byte
}

// FakeConn is an in-memory TSL2591 register file. It records every write
// and answers reads from its registers, so the driver can run without
// hardware.
type FakeConn struct {
	mu     sync.Mutex
	regs   [32]byte
	writes []Write
	closed int

	// ReadErr, WriteErr and CloseErr, if set, are returned by the
	// matching call.
	ReadErr  error
	WriteErr error
	CloseErr error
}

// NewFakeConn returns a FakeConn that identifies as a TSL2591.
func NewFakeConn() *FakeConn {
	f := &FakeConn{}
	f.regs[TSL2591_REGISTER_DEVICE_ID] = TSL2591_DEVICE_ID
	return f
}

// SetChannels sets the raw channel 0 and channel 1 counts.
func (f *FakeConn) SetChannels(ch0, ch1 uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[TSL2591_REGISTER_CHAN0_LOW] = byte(ch0)
	f.regs[TSL2591_REGISTER_CHAN0_HIGH] = byte(ch0 >> 8)
	f.regs[TSL2591_REGISTER_CHAN1_LOW] = byte(ch1)
	f.regs[TSL2591_REGISTER_CHAN1_HIGH] = byte(ch1 >> 8)
}

// SetRegister sets a single register, addressed without the command bit.
func (f *FakeConn) SetRegister(reg, value byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[reg&0x1F] = value
}

// Register returns the value of a register, addressed without the command bit.
func (f *FakeConn) Register(reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[reg&0x1F]
}

// Writes returns a copy of the writes seen so far.
func (f *FakeConn) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// ResetWrites forgets the writes seen so far.
func (f *FakeConn) ResetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// CloseCount returns how many times Close was called.
func (f *FakeConn) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeConn) WriteReg(reg byte, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	data := make([]byte, len(buf))
	copy(data, buf)
	f.writes = append(f.writes, Write{Reg: reg, Data: data})
	for i, b := range buf {
		f.regs[(int(reg&0x1F)+i)%len(f.regs)] = b
	}
	return nil
}

func (f *FakeConn) ReadReg(reg byte, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return f.ReadErr
	}
	for i := range buf {
		buf[i] = f.regs[(int(reg&0x1F)+i)%len(f.regs)]
	}
	return nil
}

func (f *FakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.CloseErr
}

// FakeOpener hands out Conn, or fails with Err.
type FakeOpener struct {
	Conn *FakeConn
	Err  error

	Bus  string
	Addr uint16
}

func (o *FakeOpener) Open(bus string, addr uint16) (Conn, error) {
	o.Bus, o.Addr = bus, addr
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Conn == nil {
		o.Conn = NewFakeConn()
	}
	return o.Conn, nil
}

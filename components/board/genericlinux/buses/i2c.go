package buses

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// I2cBus is an I2C bus opened through periph.io. Handles to different addresses
// may be open at the same time and are serialized per transaction by the bus.
type I2cBus struct {
	mu        sync.Mutex
	name      string
	bus       i2c.BusCloser
	openAddrs map[byte]bool
	closed    bool
}

// NewI2cBus opens the bus registered under name, such as "1" or "/dev/i2c-1".
func NewI2cBus(name string) (*I2cBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host drivers")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", name)
	}
	return NewI2cBusFromConn(name, bus), nil
}

// NewI2cBusFromConn wraps an already opened bus.
func NewI2cBusFromConn(name string, bus i2c.BusCloser) *I2cBus {
	return &I2cBus{name: name, bus: bus, openAddrs: map[byte]bool{}}
}

// OpenHandle reserves addr until the handle is closed.
func (b *I2cBus) OpenHandle(addr byte) (I2CHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.Errorf("i2c bus %s is closed", b.name)
	}
	if b.openAddrs[addr] {
		return nil, errors.Errorf("i2c address %d on bus %s already has an open handle", addr, b.name)
	}
	b.openAddrs[addr] = true
	return &i2cHandle{bus: b, dev: &i2c.Dev{Bus: b.bus, Addr: uint16(addr)}, addr: addr}, nil
}

// Close releases the underlying bus.
func (b *I2cBus) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.bus.Close()
}

func (b *I2cBus) release(addr byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.openAddrs, addr)
}

type i2cHandle struct {
	mu       sync.Mutex
	bus      *I2cBus
	dev      *i2c.Dev
	addr     byte
	isClosed bool
}

func (h *i2cHandle) tx(w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isClosed {
		return errors.New("can't use an already closed I2CHandle")
	}
	if err := h.dev.Tx(w, r); err != nil {
		return errors.Wrapf(err, "i2c transaction with address %d on bus %s", h.addr, h.bus.name)
	}
	return nil
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	return h.tx(tx, nil)
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	buffer := make([]byte, count)
	if err := h.tx(nil, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (h *i2cHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isClosed {
		return nil
	}
	h.isClosed = true
	h.bus.release(h.addr)
	return nil
}

func (h *i2cHandle) String() string {
	return fmt.Sprintf("i2c address %d on bus %s", h.addr, h.bus.name)
}

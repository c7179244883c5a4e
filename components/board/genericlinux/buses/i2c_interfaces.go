// Package buses offers I2C buses for generic Linux systems.
package buses

import (
	"context"
)

// I2C is a bus that several devices share.
type I2C interface {
	// OpenHandle reserves addr. Only one handle per address may be open at a time.
	OpenHandle(addr byte) (I2CHandle, error)
	Close(ctx context.Context) error
}

// I2CHandle exchanges raw bytes with the device at one address. Each call is a
// single bus transaction.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)

	// Close releases the address on the bus.
	Close() error
}

package small

import "errors"

var (
	// ErrGranularity indicates a granularity that is not a power of two
	// or is below the pointer size.
	ErrGranularity = errors.New("small: granularity must be a power of two >= 8")

	// ErrFactor indicates a growth factor outside (1, 2].
	ErrFactor = errors.New("small: factor must be in (1, 2]")

	// ErrMinAlloc indicates a minimum allocation below the granularity.
	ErrMinAlloc = errors.New("small: min alloc must be >= granularity")
)

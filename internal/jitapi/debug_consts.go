package jitapi

// These consts are read by the allocator packages. Keeping them in one place makes it quick to
// switch debugging output on without hunting for it.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	CFGLoggingEnabled      = false
	RegAllocLoggingEnabled = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PrintIntervals         = false
	PrintRegisterAllocated = false
	PrintRewritten         = false
)

// ----- Validations -----
// RegAllocValidationEnabled checks every allocation as if Options.Validate was set.

const (
	RegAllocValidationEnabled = false
)

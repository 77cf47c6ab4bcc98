package ir

// Version constants for persisted and hashed formats.
const (
	// CursorVersion is written into every persisted cursor document.
	// Readers accept any version and ignore fields they do not know.
	CursorVersion = 1

	// FingerprintVersion is the suffix of every fingerprint domain.
	// Bumping it changes every fingerprint and therefore invalidates
	// existing dedup tables.
	FingerprintVersion = "v1"
)

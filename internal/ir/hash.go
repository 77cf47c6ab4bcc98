package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain returns the hash domain for an event kind, e.g. "runwatch/job_started/v1".
// The version suffix allows the fingerprint algorithm to migrate.
func Domain(kind EventKind) string {
	return "runwatch/" + string(kind) + "/" + FingerprintVersion
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the dedup key of an event from its kind and identity
// fields only. Payload and OccurredAt do not participate, so a job that is
// re-reported with a different name or a corrected timestamp is still the
// same event.
func Fingerprint(e Event) string {
	canonical, err := MarshalCanonical(e.identity())
	if err != nil {
		// Identity maps hold only integers.
		panic(fmt.Sprintf("Fingerprint: %v", err))
	}
	return hashWithDomain(Domain(e.Kind()), canonical)
}

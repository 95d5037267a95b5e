package hostkey

import "fmt"

// Descriptor identifies an SSH algorithm.
//
// ID is the name registered for the algorithm in the SSH protocol and is what
// goes on the wire. Name is a short label that is safe to use as a single
// path segment, so it can be used to build file names.
type Descriptor interface {
	ID() string
	Name() string
}

// Algorithm is a host key signature algorithm supported by the server.
type Algorithm uint8

// Supported host key algorithms.
const (
	// ECDSAP256 is ECDSA over NIST P-256 with SHA-256 and ASN.1 signatures.
	ECDSAP256 Algorithm = iota + 1
	// Ed25519 is the Edwards-curve signature scheme over Curve25519.
	Ed25519
)

var algorithms = []Algorithm{ECDSAP256, Ed25519}

// Algorithms returns every supported host key algorithm in load order.
func Algorithms() []Algorithm {
	out := make([]Algorithm, len(algorithms))
	copy(out, algorithms)
	return out
}

// ID returns the SSH wire identifier, e.g. "ssh-ed25519".
func (a Algorithm) ID() string {
	switch a {
	case ECDSAP256:
		return "ecdsa-sha2-nistp256"
	case Ed25519:
		return "ssh-ed25519"
	}
	return ""
}

// Name returns the canonical name used for on-disk file names, e.g. "ed25519".
func (a Algorithm) Name() string {
	switch a {
	case ECDSAP256:
		return "ecdsa_nistp256"
	case Ed25519:
		return "ed25519"
	}
	return ""
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a.ID() != ""
}

func (a Algorithm) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
	return a.ID()
}

// ParseAlgorithm looks up a supported algorithm by wire identifier or by
// canonical name.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range algorithms {
		if s == a.ID() || s == a.Name() {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unsupported host key algorithm: %q", s)
}

// KexAlgorithm is a key exchange method the server will advertise. Only the
// names are defined here.
type KexAlgorithm uint8

// Known key exchange methods.
const (
	Curve25519 KexAlgorithm = iota + 1
	ECDHP256
)

// KexAlgorithms returns the known key exchange methods in preference order.
func KexAlgorithms() []KexAlgorithm {
	return []KexAlgorithm{Curve25519, ECDHP256}
}

// ID returns the SSH wire identifier, e.g. "curve25519-sha256".
func (k KexAlgorithm) ID() string {
	switch k {
	case Curve25519:
		return "curve25519-sha256"
	case ECDHP256:
		return "ecdh-sha2-nistp256"
	}
	return ""
}

// Name returns the short name, e.g. "curve25519".
func (k KexAlgorithm) Name() string {
	switch k {
	case Curve25519:
		return "curve25519"
	case ECDHP256:
		return "ecdh_p256"
	}
	return ""
}

// String returns the wire identifier, or "KexAlgorithm(n)" for an unknown
// value.
func (k KexAlgorithm) String() string {
	if k.ID() == "" {
		return fmt.Sprintf("KexAlgorithm(%d)", uint8(k))
	}
	return k.ID()
}

var (
	_ Descriptor = Algorithm(0)
	_ Descriptor = KexAlgorithm(0)
)

package hostkey

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

var systemRandom = sync.OnceValue(func() io.Reader {
	return rand.Reader
})

// SystemRandom returns the process-wide secure random source. It is
// initialized on first use and is safe for concurrent use by any number of
// signing and generation calls.
func SystemRandom() io.Reader {
	return systemRandom()
}

// orSystemRandom substitutes SystemRandom for a nil reader.
func orSystemRandom(r io.Reader) io.Reader {
	if r == nil {
		return SystemRandom()
	}
	return r
}

// HostKey is a private host key for one of the supported algorithms.
// The set of implementations is closed; use Decode to obtain one.
type HostKey interface {
	// Algorithm returns the algorithm the key belongs to.
	Algorithm() Algorithm
	// Sign signs msg. ECDSA signatures are randomized and read from rand,
	// or from SystemRandom when rand is nil. Ed25519 signatures are
	// deterministic and rand is not used.
	Sign(rand io.Reader, msg []byte) ([]byte, error)
	// PublicKey returns the public half in SSH form.
	PublicKey() ssh.PublicKey
	// Signer adapts the key to an ssh.Signer producing SSH wire signatures.
	Signer() (ssh.Signer, error)

	fmt.Stringer
	sealed()
}

type ecdsaKey struct {
	priv *ecdsa.PrivateKey
	pub  ssh.PublicKey
}

func (k *ecdsaKey) Algorithm() Algorithm { return ECDSAP256 }

func (k *ecdsaKey) Sign(rand io.Reader, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(orSystemRandom(rand), k.priv, digest[:])
	if err != nil {
		return nil, newError(ErrUnspecified, "sign", ECDSAP256, "", err)
	}
	return sig, nil
}

func (k *ecdsaKey) PublicKey() ssh.PublicKey { return k.pub }

func (k *ecdsaKey) Signer() (ssh.Signer, error) {
	return ssh.NewSignerFromSigner(k.priv)
}

func (k *ecdsaKey) String() string { return describe(k) }

func (*ecdsaKey) sealed() {}

type ed25519Key struct {
	priv ed25519.PrivateKey
	pub  ssh.PublicKey
}

func (k *ed25519Key) Algorithm() Algorithm { return Ed25519 }

func (k *ed25519Key) Sign(_ io.Reader, msg []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, msg), nil
}

func (k *ed25519Key) PublicKey() ssh.PublicKey { return k.pub }

func (k *ed25519Key) Signer() (ssh.Signer, error) {
	return ssh.NewSignerFromSigner(k.priv)
}

func (k *ed25519Key) String() string { return describe(k) }

func (*ed25519Key) sealed() {}

func describe(k HostKey) string {
	return fmt.Sprintf("HostKey (%s)", k.Algorithm().ID())
}

// Fingerprint returns the OpenSSH SHA256 fingerprint of k's public key.
func Fingerprint(k HostKey) string {
	return ssh.FingerprintSHA256(k.PublicKey())
}

// Generate creates a new private key for alg and returns it encoded as
// PKCS#8 DER. Both encodings carry the public key next to the private one
// so that Decode can detect a damaged file: ECDSA keys use the publicKey
// field of the wrapped ECPrivateKey, Ed25519 keys use PKCS#8 v2
// (OneAsymmetricKey, RFC 5958).
//
// Parameters:
//   - alg: One of the supported algorithms.
//   - rand: Entropy source; nil means SystemRandom.
//
// Returns:
//   - []byte: The PKCS#8 DER document, ready to wrap in a PEM block.
//   - error: An *Error of kind ErrUnspecified if alg is unsupported or
//     generation fails.
func Generate(alg Algorithm, rand io.Reader) ([]byte, error) {
	rand = orSystemRandom(rand)

	var (
		der []byte
		err error
	)
	switch alg {
	case ECDSAP256:
		var k *ecdsa.PrivateKey
		if k, err = ecdsa.GenerateKey(elliptic.P256(), rand); err == nil {
			der, err = x509.MarshalPKCS8PrivateKey(k)
		}
	case Ed25519:
		var k ed25519.PrivateKey
		if _, k, err = ed25519.GenerateKey(rand); err == nil {
			der, err = marshalEd25519(k)
		}
	default:
		return nil, errorf(ErrUnspecified, "generate", alg, "unsupported algorithm %v", alg)
	}
	if err != nil {
		return nil, newError(ErrUnspecified, "generate", alg, "", err)
	}
	return der, nil
}

// Decode parses a PKCS#8 DER private key produced by Generate.
//
// The document must belong to alg and must embed the public key. The stored
// public key is compared with the one derived from the private scalar or
// seed, so a single damaged byte anywhere in the key material is rejected
// instead of yielding a different key.
//
// Parameters:
//   - alg: The algorithm the key is expected to belong to.
//   - der: The PKCS#8 DER document.
//
// Returns:
//   - HostKey: The decoded key, ready for signing.
//   - error: An *Error of kind ErrKeyRejected if der is malformed, belongs
//     to another algorithm or curve, lacks the public key, or its public key
//     does not match.
//
// Example:
//
//	block, _ := pem.Decode(data)
//	key, err := hostkey.Decode(hostkey.Ed25519, block.Bytes)
//	if err != nil { ... }
func Decode(alg Algorithm, der []byte) (HostKey, error) {
	switch alg {
	case ECDSAP256:
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, newError(ErrKeyRejected, "decode", alg, "", err)
		}
		priv, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errorf(ErrKeyRejected, "decode", alg, "got %T, want ECDSA key", parsed)
		}
		if priv.Curve != elliptic.P256() {
			return nil, errorf(ErrKeyRejected, "decode", alg, "curve %s, want P-256", priv.Curve.Params().Name)
		}
		if err := checkECDSAPublicKey(priv, der); err != nil {
			return nil, newError(ErrKeyRejected, "decode", alg, "", err)
		}
		pub, err := ssh.NewPublicKey(&priv.PublicKey)
		if err != nil {
			return nil, newError(ErrKeyRejected, "decode", alg, "", err)
		}
		return &ecdsaKey{priv: priv, pub: pub}, nil
	case Ed25519:
		priv, err := parseEd25519(der)
		if err != nil {
			return nil, newError(ErrKeyRejected, "decode", alg, "", err)
		}
		pub, err := ssh.NewPublicKey(priv.Public())
		if err != nil {
			return nil, newError(ErrKeyRejected, "decode", alg, "", err)
		}
		return &ed25519Key{priv: priv, pub: pub}, nil
	}
	return nil, errorf(ErrKeyRejected, "decode", alg, "unsupported algorithm %v", alg)
}

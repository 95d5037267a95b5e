package hostkey

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/asn1"
	"errors"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var oidEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}

var (
	tagAttributes   = cbasn1.Tag(0).ContextSpecific().Constructed()
	tagOAKPublicKey = cbasn1.Tag(1).ContextSpecific()
	tagECPublicKey  = cbasn1.Tag(1).ContextSpecific().Constructed()
	tagECParameters = cbasn1.Tag(0).ContextSpecific().Constructed()
)

// marshalEd25519 encodes priv as a PKCS#8 v2 OneAsymmetricKey (RFC 5958)
// carrying the public key in the [1] field.
func marshalEd25519(priv ed25519.PrivateKey) ([]byte, error) {
	pub := priv.Public().(ed25519.PublicKey)

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidEd25519)
		})
		b.AddASN1(cbasn1.OCTET_STRING, func(b *cryptobyte.Builder) {
			b.AddASN1OctetString(priv.Seed())
		})
		b.AddASN1(tagOAKPublicKey, func(b *cryptobyte.Builder) {
			b.AddUint8(0) // no unused bits
			b.AddBytes(pub)
		})
	})
	return b.Bytes()
}

// parseEd25519 decodes a PKCS#8 v2 Ed25519 key. The embedded public key is
// required and must match the one derived from the seed.
func parseEd25519(der []byte) (ed25519.PrivateKey, error) {
	var (
		input   = cryptobyte.String(der)
		s       cryptobyte.String
		algID   cryptobyte.String
		inner   cryptobyte.String
		seed    cryptobyte.String
		pubBits cryptobyte.String
		oid     asn1.ObjectIdentifier
		version int
		present bool
	)
	if !input.ReadASN1(&s, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, errors.New("malformed PKCS#8 structure")
	}
	if !s.ReadASN1Integer(&version) {
		return nil, errors.New("malformed PKCS#8 version")
	}
	if version != 1 {
		return nil, errors.New("PKCS#8 v2 with public key required")
	}
	if !s.ReadASN1(&algID, cbasn1.SEQUENCE) || !algID.ReadASN1ObjectIdentifier(&oid) {
		return nil, errors.New("malformed algorithm identifier")
	}
	if !oid.Equal(oidEd25519) || !algID.Empty() {
		return nil, errors.New("algorithm identifier is not Ed25519")
	}
	if !s.ReadASN1(&inner, cbasn1.OCTET_STRING) || !inner.ReadASN1(&seed, cbasn1.OCTET_STRING) || !inner.Empty() {
		return nil, errors.New("malformed private key")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("invalid Ed25519 seed length")
	}
	if !s.SkipOptionalASN1(tagAttributes) {
		return nil, errors.New("malformed attributes")
	}
	if !s.ReadOptionalASN1(&pubBits, &present, tagOAKPublicKey) || !s.Empty() {
		return nil, errors.New("malformed public key")
	}
	if !present {
		return nil, errors.New("public key missing")
	}
	var unused uint8
	if !pubBits.ReadUint8(&unused) || unused != 0 || len(pubBits) != ed25519.PublicKeySize {
		return nil, errors.New("malformed public key")
	}

	priv := ed25519.NewKeyFromSeed(seed)
	derived := priv.Public().(ed25519.PublicKey)
	if subtle.ConstantTimeCompare(derived, pubBits) != 1 {
		return nil, errors.New("public key does not match private key")
	}
	return priv, nil
}

// ecdsaEmbeddedPublicKey extracts the publicKey field of the ECPrivateKey
// (RFC 5915) wrapped in a PKCS#8 document.
func ecdsaEmbeddedPublicKey(der []byte) ([]byte, error) {
	var (
		input   = cryptobyte.String(der)
		s       cryptobyte.String
		inner   cryptobyte.String
		ecKey   cryptobyte.String
		pubWrap cryptobyte.String
		pub     []byte
		present bool
	)
	if !input.ReadASN1(&s, cbasn1.SEQUENCE) ||
		!s.SkipASN1(cbasn1.INTEGER) ||
		!s.SkipASN1(cbasn1.SEQUENCE) ||
		!s.ReadASN1(&inner, cbasn1.OCTET_STRING) {
		return nil, errors.New("malformed PKCS#8 structure")
	}
	if !inner.ReadASN1(&ecKey, cbasn1.SEQUENCE) ||
		!ecKey.SkipASN1(cbasn1.INTEGER) ||
		!ecKey.SkipASN1(cbasn1.OCTET_STRING) ||
		!ecKey.SkipOptionalASN1(tagECParameters) ||
		!ecKey.ReadOptionalASN1(&pubWrap, &present, tagECPublicKey) {
		return nil, errors.New("malformed EC private key")
	}
	if !present {
		return nil, errors.New("public key missing")
	}
	if !pubWrap.ReadASN1BitStringAsBytes(&pub) || !pubWrap.Empty() {
		return nil, errors.New("malformed public key")
	}
	return pub, nil
}

// checkECDSAPublicKey compares the public key stored in der with the one
// derived from priv's scalar.
func checkECDSAPublicKey(priv *ecdsa.PrivateKey, der []byte) error {
	stored, err := ecdsaEmbeddedPublicKey(der)
	if err != nil {
		return err
	}
	ecdhPub, err := priv.PublicKey.ECDH()
	if err != nil {
		return err
	}
	if !bytes.Equal(ecdhPub.Bytes(), stored) {
		return errors.New("public key does not match private key")
	}
	return nil
}

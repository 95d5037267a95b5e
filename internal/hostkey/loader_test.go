package hostkey

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "keys")

	store, err := Load(dir, SystemRandom())
	require.NoError(t, err)
	assert.Equal(t, len(Algorithms()), store.Len())
	assert.Equal(t, Algorithms(), store.Algorithms())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, len(Algorithms()))

	for _, alg := range Algorithms() {
		data, err := os.ReadFile(Path(dir, alg))
		require.NoError(t, err)

		block, rest := pem.Decode(data)
		require.NotNil(t, block, alg.Name())
		assert.Equal(t, PEMType(alg), block.Type)
		assert.Empty(t, bytes.TrimSpace(rest))

		k, ok := store.Get(alg)
		require.True(t, ok)
		assert.Equal(t, alg, k.Algorithm())

		info, err := os.Stat(Path(dir, alg))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "ssh_ecdsa_nistp256_key.pem", FileName(ECDSAP256))
	assert.Equal(t, "ssh_ed25519_key.pem", FileName(Ed25519))
	assert.Equal(t, "ECDSA_NISTP256 PRIVATE KEY", PEMType(ECDSAP256))
	assert.Equal(t, "ED25519 PRIVATE KEY", PEMType(Ed25519))
}

func TestLoadTwiceDecodesExistingKeys(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir, SystemRandom())
	require.NoError(t, err)
	before := readKeyFiles(t, dir)

	second, err := Load(dir, SystemRandom())
	require.NoError(t, err)
	assert.Equal(t, before, readKeyFiles(t, dir))

	for _, alg := range Algorithms() {
		a, _ := first.Get(alg)
		b, _ := second.Get(alg)
		assert.Equal(t, privateDER(t, a), privateDER(t, b), alg.Name())
		assert.Equal(t, Fingerprint(a), Fingerprint(b))
	}
}

func TestLoadGeneratesOnlyMissingKeys(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, SystemRandom())
	require.NoError(t, err)

	kept, err := os.ReadFile(Path(dir, ECDSAP256))
	require.NoError(t, err)
	require.NoError(t, os.Remove(Path(dir, Ed25519)))

	_, err = Load(dir, SystemRandom())
	require.NoError(t, err)

	after, err := os.ReadFile(Path(dir, ECDSAP256))
	require.NoError(t, err)
	assert.Equal(t, kept, after)
	assert.FileExists(t, Path(dir, Ed25519))
}

func TestLoadCorruptKeyFails(t *testing.T) {
	cases := []struct {
		name    string
		corrupt func(t *testing.T, alg Algorithm, data []byte) []byte
		kind    error
	}{
		{
			name: "der",
			corrupt: func(t *testing.T, _ Algorithm, data []byte) []byte {
				return flipDER(t, data, func([]byte) int { return 0 })
			},
			kind: ErrKeyRejected,
		},
		{
			name: "private key byte",
			corrupt: func(t *testing.T, alg Algorithm, data []byte) []byte {
				return flipDER(t, data, func(der []byte) int {
					secret := privateBytes(t, alg, der)
					i := bytes.Index(der, secret)
					require.Positive(t, i)
					return i + len(secret)/2
				})
			},
			kind: ErrKeyRejected,
		},
		{
			name: "public key byte",
			corrupt: func(t *testing.T, _ Algorithm, data []byte) []byte {
				return flipDER(t, data, func(der []byte) int { return len(der) - 1 })
			},
			kind: ErrKeyRejected,
		},
		{
			name: "base64",
			corrupt: func(t *testing.T, _ Algorithm, data []byte) []byte {
				out := bytes.Clone(data)
				i := bytes.IndexByte(out, '\n')
				require.Positive(t, i)
				out[i+5] = '!'
				return out
			},
			kind: ErrPEMDecode,
		},
		{
			name: "pem type",
			corrupt: func(t *testing.T, _ Algorithm, data []byte) []byte {
				block, _ := pem.Decode(data)
				require.NotNil(t, block)
				block.Type = "PRIVATE KEY"
				return pem.EncodeToMemory(block)
			},
			kind: ErrPEMDecode,
		},
		{
			name: "trailing data",
			corrupt: func(t *testing.T, _ Algorithm, data []byte) []byte {
				return append(bytes.Clone(data), "junk"...)
			},
			kind: ErrPEMDecode,
		},
	}

	for _, alg := range Algorithms() {
		for _, c := range cases {
			t.Run(alg.Name()+"/"+c.name, func(t *testing.T) {
				dir := t.TempDir()
				_, err := Load(dir, SystemRandom())
				require.NoError(t, err)

				path := Path(dir, alg)
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				corrupted := c.corrupt(t, alg, data)
				require.NoError(t, os.WriteFile(path, corrupted, 0o600))

				store, err := Load(dir, SystemRandom())
				assert.Nil(t, store)
				require.ErrorIs(t, err, c.kind)

				var herr *Error
				require.ErrorAs(t, err, &herr)
				assert.Equal(t, alg, herr.Algorithm)
				assert.Equal(t, path, herr.Path)

				after, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, corrupted, after, "corrupt key file must not be regenerated")
			})
		}
	}
}

// flipDER inverts one bit of the DER byte chosen by at and re-encodes the
// PEM file.
func flipDER(t *testing.T, data []byte, at func(der []byte) int) []byte {
	t.Helper()
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	block.Bytes[at(block.Bytes)] ^= 1
	return pem.EncodeToMemory(block)
}

// privateBytes returns the raw private scalar or seed held in der.
func privateBytes(t *testing.T, alg Algorithm, der []byte) []byte {
	t.Helper()
	k, err := Decode(alg, der)
	require.NoError(t, err)
	switch key := k.(type) {
	case *ecdsaKey:
		return key.priv.D.FillBytes(make([]byte, 32))
	case *ed25519Key:
		return key.priv.Seed()
	}
	t.Fatalf("unexpected key type %T", k)
	return nil
}

func TestLoadNilRandom(t *testing.T) {
	dir := t.TempDir()
	store, err := Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, len(Algorithms()), store.Len())
}

func TestLoadDirectoryIsFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o600))

	_, err := Load(dir, SystemRandom())
	require.ErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrKeyRejected)
}

func TestLoadKeyPathIsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(Path(dir, ECDSAP256), 0o700))

	_, err := Load(dir, SystemRandom())
	require.ErrorIs(t, err, ErrIO)
}

func TestNewStoreRequiresEveryAlgorithm(t *testing.T) {
	ed := mustKey(t, Ed25519)
	ec := mustKey(t, ECDSAP256)

	_, err := NewStore(ed)
	assert.Error(t, err)

	_, err = NewStore(ed, ed, ec)
	assert.Error(t, err)

	store, err := NewStore(ed, ec)
	require.NoError(t, err)
	signers, err := store.Signers()
	require.NoError(t, err)
	require.Len(t, signers, 2)
	assert.Equal(t, "ecdsa-sha2-nistp256", signers[0].PublicKey().Type())
	assert.Equal(t, "ssh-ed25519", signers[1].PublicKey().Type())
}

func TestErrorMessage(t *testing.T) {
	err := newError(ErrPEMDecode, "load", Ed25519, "/k/ssh_ed25519_key.pem", nil)
	assert.Equal(t, "load ed25519 /k/ssh_ed25519_key.pem: failed to decode pem key", err.Error())
}

func readKeyFiles(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, alg := range Algorithms() {
		data, err := os.ReadFile(Path(dir, alg))
		require.NoError(t, err)
		out[alg.Name()] = data
	}
	return out
}

func privateDER(t *testing.T, k HostKey) []byte {
	t.Helper()
	var priv any
	switch key := k.(type) {
	case *ecdsaKey:
		priv = key.priv
	case *ed25519Key:
		priv = key.priv
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return der
}

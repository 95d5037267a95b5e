package hostkey

import (
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Store holds one host key per supported algorithm. A Store is built once by
// Load and never modified afterwards, so it may be shared by any number of
// connection handlers without locking.
type Store struct {
	keys map[Algorithm]HostKey
}

// NewStore builds a Store from keys. It fails unless keys holds exactly one
// key for every supported algorithm.
func NewStore(keys ...HostKey) (*Store, error) {
	m := make(map[Algorithm]HostKey, len(algorithms))
	for _, k := range keys {
		alg := k.Algorithm()
		if _, dup := m[alg]; dup {
			return nil, fmt.Errorf("duplicate host key for %s", alg.ID())
		}
		m[alg] = k
	}
	for _, alg := range algorithms {
		if _, ok := m[alg]; !ok {
			return nil, fmt.Errorf("missing host key for %s", alg.ID())
		}
	}
	return &Store{keys: m}, nil
}

// Get returns the key for alg.
func (s *Store) Get(alg Algorithm) (HostKey, bool) {
	k, ok := s.keys[alg]
	return k, ok
}

// Len returns the number of keys in the store.
func (s *Store) Len() int {
	return len(s.keys)
}

// Algorithms returns the algorithms present in the store in load order.
func (s *Store) Algorithms() []Algorithm {
	out := make([]Algorithm, 0, len(s.keys))
	for _, alg := range algorithms {
		if _, ok := s.keys[alg]; ok {
			out = append(out, alg)
		}
	}
	return out
}

// Signers returns an ssh.Signer for every key, in load order.
func (s *Store) Signers() ([]ssh.Signer, error) {
	out := make([]ssh.Signer, 0, len(s.keys))
	for _, alg := range s.Algorithms() {
		signer, err := s.keys[alg].Signer()
		if err != nil {
			return nil, newError(ErrUnspecified, "signer", alg, "", err)
		}
		out = append(out, signer)
	}
	return out, nil
}

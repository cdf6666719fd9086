package password

import (
	"errors"
	"strings"
)

var (
	// ErrTooShort is returned by Hash for secrets under the minimum length.
	ErrTooShort = errors.New("password must be at least 10 bytes")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("invalid password hash format")
	// ErrUnsupportedHash is returned when no configured scheme recognises a stored hash.
	ErrUnsupportedHash = errors.New("unsupported password hash algorithm")
)

// Verifier checks a secret against a stored hash. Implementations must compare in
// constant time.
type Verifier interface {
	Verify(secret, encodedHash string) (bool, error)
}

// Hasher is a Verifier that can also produce hashes and flag stale ones.
type Hasher interface {
	Verifier
	Hash(secret string) (string, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Chain verifies hashes from several schemes and hashes new secrets with the first.
// It lets a deployment migrate from bcrypt to argon2id without a flag day: any
// hash not produced by the primary scheme reports NeedsUpgrade.
type Chain struct {
	primary Hasher
	schemes []scheme
}

type scheme struct {
	prefixes []string
	hasher   Hasher
}

var _ Hasher = (*Chain)(nil)

// NewChain builds a chain whose primary scheme is argon2. bcrypt may be nil.
func NewChain(argon *Argon2, bcrypt *Bcrypt) (*Chain, error) {
	if argon == nil {
		return nil, errors.New("password chain requires argon2")
	}
	c := &Chain{primary: argon}
	c.schemes = append(c.schemes, scheme{prefixes: []string{"$" + algorithmID + "$"}, hasher: argon})
	if bcrypt != nil {
		c.schemes = append(c.schemes, scheme{prefixes: bcryptPrefixes, hasher: bcrypt})
	}
	return c, nil
}

func (c *Chain) Hash(secret string) (string, error) {
	return c.primary.Hash(secret)
}

func (c *Chain) Verify(secret, encodedHash string) (bool, error) {
	h, err := c.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(secret, encodedHash)
}

func (c *Chain) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := c.pick(encodedHash)
	if err != nil {
		return false, err
	}
	if h != c.primary {
		return true, nil
	}
	return h.NeedsUpgrade(encodedHash)
}

func (c *Chain) pick(encodedHash string) (Hasher, error) {
	for _, s := range c.schemes {
		for _, p := range s.prefixes {
			if strings.HasPrefix(encodedHash, p) {
				return s.hasher, nil
			}
		}
	}
	return nil, ErrUnsupportedHash
}

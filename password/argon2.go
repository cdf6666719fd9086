package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	// DefaultMaxPasswordBytes caps secret length when Argon2Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024

	minPassBytes = 10
)

// Floors enforced on both configuration and stored hashes.
var floor = Argon2Config{
	Memory:      8 * 1024,
	Time:        1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   16,
}

// ErrTooLong is returned for secrets above the configured maximum. Verify checks it
// before hashing so oversized inputs cannot be used to burn CPU.
var ErrTooLong = errors.New("password exceeds maximum length")

// Argon2Config holds Argon2id cost parameters. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordBytes bounds accepted secrets. Zero means DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < floor.Memory:
		return fmt.Errorf("password memory must be >= %d KiB", floor.Memory)
	case c.Time < floor.Time:
		return fmt.Errorf("password time must be >= %d", floor.Time)
	case c.Parallelism < floor.Parallelism:
		return fmt.Errorf("password parallelism must be >= %d", floor.Parallelism)
	case c.SaltLength < floor.SaltLength:
		return fmt.Errorf("password salt length must be >= %d", floor.SaltLength)
	case c.KeyLength < floor.KeyLength:
		return fmt.Errorf("password key length must be >= %d", floor.KeyLength)
	case c.MaxPasswordBytes < 0, c.MaxPasswordBytes > 0 && c.MaxPasswordBytes < minPassBytes:
		return fmt.Errorf("password max length must be 0 or >= %d", minPassBytes)
	}
	return nil
}

// Argon2 hashes and verifies secrets as PHC-encoded Argon2id strings.
type Argon2 struct {
	config Argon2Config
}

var _ Hasher = (*Argon2)(nil)

// NewArgon2 rejects parameters below the package floor.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a new salted hash. Secrets are used byte for byte, without Unicode normalization.
func (a *Argon2) Hash(secret string) (string, error) {
	switch {
	case len(secret) < minPassBytes:
		return "", ErrTooShort
	case len(secret) > a.config.MaxPasswordBytes:
		return "", ErrTooLong
	}

	h := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        make([]byte, a.config.SaltLength),
	}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	h.key = h.derive(secret, a.config.KeyLength)
	return h.String(), nil
}

// Verify compares secret against encodedHash in constant time. A malformed hash is an error.
func (a *Argon2) Verify(secret string, encodedHash string) (bool, error) {
	if len(secret) > a.config.MaxPasswordBytes {
		return false, ErrTooLong
	}
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	got := h.derive(secret, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker parameters than a.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	stale := h.memory < a.config.Memory ||
		h.time < a.config.Time ||
		h.parallelism < a.config.Parallelism ||
		uint32(len(h.key)) != a.config.KeyLength
	return stale, nil
}

// phc is one decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h phc) derive(secret string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(secret), h.salt, h.time, h.memory, h.parallelism, keyLen)
}

func (h phc) String() string {
	var b strings.Builder
	b.WriteString("$" + algorithmID)
	b.WriteString("$v=" + strconv.Itoa(argon2.Version))
	fmt.Fprintf(&b, "$m=%d,t=%d,p=%d", h.memory, h.time, h.parallelism)
	b.WriteString("$" + base64.StdEncoding.EncodeToString(h.salt))
	b.WriteString("$" + base64.StdEncoding.EncodeToString(h.key))
	return b.String()
}

func parsePHC(encoded string) (phc, error) {
	rest, ok := strings.CutPrefix(encoded, "$")
	if !ok {
		return phc{}, ErrMalformedHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 5 {
		return phc{}, ErrMalformedHash
	}
	if fields[0] != algorithmID {
		return phc{}, ErrUnsupportedHash
	}

	version, ok := strings.CutPrefix(fields[1], "v=")
	if !ok {
		return phc{}, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return phc{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	var h phc
	if err := h.parseParams(fields[2]); err != nil {
		return phc{}, err
	}

	var err error
	if h.salt, err = decodeB64(fields[3]); err != nil || uint32(len(h.salt)) < floor.SaltLength {
		return phc{}, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if h.key, err = decodeB64(fields[4]); err != nil || len(h.key) == 0 {
		return phc{}, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return h, nil
}

// parseParams reads the m, t and p entries; each must appear exactly once.
func (h *phc) parseParams(field string) error {
	seen := map[string]bool{}
	for _, entry := range strings.Split(field, ",") {
		name, raw, ok := strings.Cut(entry, "=")
		if !ok || seen[name] {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, entry)
		}
		seen[name] = true

		var (
			v   uint64
			err error
		)
		switch name {
		case "m":
			v, err = strconv.ParseUint(raw, 10, 32)
			h.memory = uint32(v)
			if err == nil && h.memory < floor.Memory {
				err = errors.New("below floor")
			}
		case "t":
			v, err = strconv.ParseUint(raw, 10, 32)
			h.time = uint32(v)
			if err == nil && h.time < floor.Time {
				err = errors.New("below floor")
			}
		case "p":
			v, err = strconv.ParseUint(raw, 10, 8)
			h.parallelism = uint8(v)
			if err == nil && h.parallelism < floor.Parallelism {
				err = errors.New("below floor")
			}
		default:
			err = errors.New("unknown")
		}
		if err != nil {
			return fmt.Errorf("%w: parameter %s: %v", ErrMalformedHash, name, err)
		}
	}
	if len(seen) != 3 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

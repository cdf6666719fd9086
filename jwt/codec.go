package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used to sign and verify tokens.
type SigningMethod string

const (
	// MethodHS256 signs with a shared symmetric key (default).
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an ed25519 private key and verifies with its public key.
	MethodEd25519 SigningMethod = "ed25519"
)

// Kind distinguishes access tokens from refresh tokens. It is carried in the typ claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const minSymmetricKeyBytes = 32

var (
	// ErrInvalidToken covers every structural, signature, and claim failure except expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when exp is in the past.
	ErrTokenExpired = errors.New("token expired")
)

// Config defines how the codec signs tokens and which claims it enforces.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	// AllowShortKey permits HS256 keys under 32 bytes. Tests only.
	AllowShortKey bool
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Claims is the decoded content of a token.
type Claims struct {
	UID  int64 `json:"uid"`
	Kind Kind  `json:"typ"`
	// IssuedAtMs repeats iat with millisecond precision.
	IssuedAtMs int64 `json:"iat_ms,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the numeric principal id carried in the uid claim.
func (c *Claims) PrincipalID() int64 { return c.UID }

// TokenID returns the jti claim.
func (c *Claims) TokenID() string { return c.ID }

// IssuedInstant returns the issue time at the best precision the token carries:
// iat_ms when present, otherwise the second-precision iat.
func (c *Claims) IssuedInstant() time.Time {
	if c == nil || c.IssuedAt == nil {
		return time.Time{}
	}
	if c.IssuedAtMs > 0 {
		return time.UnixMilli(c.IssuedAtMs)
	}
	return c.IssuedAt.Time
}

// Remaining reports how long the token stays valid after now. It never returns a negative value.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c == nil || c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Codec mints and decodes signed access and refresh tokens.
// It performs no I/O and is safe for concurrent use.
type Codec struct {
	config Config
	method jwt.SigningMethod
	sign   interface{}
	verify interface{}
}

// NewCodec validates cfg and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.SigningMethod == "" {
		cfg.SigningMethod = MethodHS256
	}

	c := &Codec{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		if len(cfg.PrivateKey) < minSymmetricKeyBytes && !cfg.AllowShortKey {
			return nil, fmt.Errorf("hs256 key must be at least %d bytes", minSymmetricKeyBytes)
		}
		c.method = jwt.SigningMethodHS256
		c.sign = cfg.PrivateKey
		c.verify = cfg.PrivateKey
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			c.sign = priv
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		c.method = jwt.SigningMethodEdDSA
		c.verify = pub
	default:
		return nil, errors.New("unsupported signing method")
	}

	return c, nil
}

// TTL returns the configured lifetime for kind.
func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.config.RefreshTTL
	}
	return c.config.AccessTTL
}

// Now returns the codec clock.
func (c *Codec) Now() time.Time { return c.config.Now() }

// Mint signs a new token of the given kind for principalID. Every call draws a fresh jti.
func (c *Codec) Mint(principalID int64, subject string, kind Kind) (string, *Claims, error) {
	if kind != KindAccess && kind != KindRefresh {
		return "", nil, fmt.Errorf("unknown token kind %q", kind)
	}
	if c.sign == nil {
		return "", nil, errors.New("codec has no signing key")
	}

	now := c.config.Now()
	claims := &Claims{
		UID:        principalID,
		Kind:       kind,
		IssuedAtMs: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(kind))),
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.sign)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Decode verifies token and returns its claims.
//
// An expired token reports ErrTokenExpired even when its signature is also invalid.
// Every other failure reports ErrInvalidToken.
func (c *Codec) Decode(token string) (*Claims, error) {
	if c.expiredUnverified(token) {
		return nil, ErrTokenExpired
	}
	return c.decode(token, false)
}

// DecodeAllowExpired verifies the signature and claim shape but tolerates a past exp.
func (c *Codec) DecodeAllowExpired(token string) (*Claims, error) {
	return c.decode(token, true)
}

// IsKind reports whether token decodes successfully and carries the given kind.
func (c *Codec) IsKind(token string, kind Kind) bool {
	claims, err := c.Decode(token)
	if err != nil {
		return false
	}
	return claims.Kind == kind
}

func (c *Codec) expiredUnverified(token string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !c.config.Now().Before(claims.ExpiresAt.Time.Add(c.config.Leeway))
}

func (c *Codec) decode(token string, allowExpired bool) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.config.Now),
		jwt.WithIssuedAt(),
	}
	if allowExpired {
		options = append(options, jwt.WithoutClaimsValidation())
	} else {
		options = append(options, jwt.WithExpirationRequired())
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.verify, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := c.checkShape(claims, allowExpired); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Codec) checkShape(claims *Claims, allowExpired bool) error {
	if claims.ID == "" {
		return fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return fmt.Errorf("%w: unknown typ", ErrInvalidToken)
	}
	if claims.UID <= 0 {
		return fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return fmt.Errorf("%w: missing iat or exp", ErrInvalidToken)
	}
	if allowExpired {
		// Claims validation is skipped on this path; keep the issuer and audience checks.
		if c.config.Issuer != "" && claims.Issuer != c.config.Issuer {
			return fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
		}
		if c.config.Audience != "" && !containsAudience(claims.Audience, c.config.Audience) {
			return fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	}
	if claims.IssuedAtMs < 0 || (claims.IssuedAtMs > 0 && claims.IssuedAtMs/1000 != claims.IssuedAt.Unix()) {
		return fmt.Errorf("%w: iat_ms disagrees with iat", ErrInvalidToken)
	}
	maxAllowed := c.config.Now().Add(c.config.MaxFutureIAT)
	if claims.IssuedAt.Time.After(maxAllowed) {
		return fmt.Errorf("%w: iat too far in the future", ErrInvalidToken)
	}
	return nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

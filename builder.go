package credgate

import (
	"errors"
	"time"

	"github.com/MrEthical07/credgate/internal/audit"
	"github.com/MrEthical07/credgate/internal/limiters"
	"github.com/MrEthical07/credgate/internal/metrics"
	"github.com/MrEthical07/credgate/internal/retry"
	"github.com/MrEthical07/credgate/jwt"
	"github.com/MrEthical07/credgate/loginlog"
	"github.com/MrEthical07/credgate/password"
	"github.com/MrEthical07/credgate/permission"
	"github.com/MrEthical07/credgate/revocation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/credgate"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users       UserStore
	roles       permission.Source
	mutator     permission.Mutator
	verifier    password.Verifier
	revocations revocation.Store
	loginLog    loginlog.Writer

	logger     *zap.Logger
	registerer prometheus.Registerer
	tracing    trace.TracerProvider
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client shared by the attempt tracker, the permission cache
// and, unless WithRevocationStore is used, the revocation store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithRoleSource sets where principal roles and permissions are read from.
func (b *Builder) WithRoleSource(source permission.Source) *Builder {
	b.roles = source
	return b
}

// WithRoleMutator enables the mutation methods on Engine.Permissions().
func (b *Builder) WithRoleMutator(m permission.Mutator) *Builder {
	b.mutator = m
	return b
}

// WithPasswordVerifier replaces the argon2id/bcrypt chain built from Config.Password.
// Hash upgrades on login only happen when v also implements password.Hasher.
func (b *Builder) WithPasswordVerifier(v password.Verifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithRevocationStore(s revocation.Store) *Builder {
	b.revocations = s
	return b
}

// WithLoginLog sets where login log entries go. With Audit.Enabled they are
// delivered asynchronously, otherwise inline.
func (b *Builder) WithLoginLog(w loginlog.Writer) *Builder {
	b.loginLog = w
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithRegisterer registers engine metrics on reg. Without it metrics are collected
// but not exported.
func (b *Builder) WithRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracing = tp
	return b
}

// WithClock overrides time.Now for token timestamps and revocation cutoffs.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := b.config
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.roles == nil {
		return nil, errors.New("role source required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}

	// -------- CODEC --------
	private, public, err := cfg.signingKeys()
	if err != nil {
		return nil, err
	}
	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    private,
		PublicKey:     public,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	// -------- REVOCATION --------
	revocations := b.revocations
	if revocations == nil {
		if cfg.Store.Revocation == "sql" {
			return nil, errors.New("sql revocation requires WithRevocationStore")
		}
		revocations = revocation.NewRedisStore(b.redis, revocation.RedisConfig{Prefix: cfg.Store.RedisPrefix})
	}

	// -------- LOCKOUT --------
	attempts, err := limiters.NewAttemptTracker(b.redis, limiters.AttemptConfig{
		Prefix:    cfg.Store.RedisPrefix,
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
		Sliding:   cfg.Lockout.Sliding,
	})
	if err != nil {
		return nil, err
	}

	// -------- PERMISSIONS --------
	opts := []permission.Option{
		permission.WithLogger(log.Named("permission")),
		permission.WithFanoutLimit(cfg.Permission.FanoutLimit),
		permission.WithFillTimeout(cfg.Store.OperationTimeout),
	}
	if cfg.Permission.CacheEnabled {
		cache, err := permission.NewRedisCache(b.redis, permission.RedisCacheConfig{
			Prefix:   cfg.Store.RedisPrefix,
			EntryTTL: cfg.Permission.CacheTTL,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, permission.WithCache(cache))
	}
	if b.mutator != nil {
		opts = append(opts, permission.WithMutator(b.mutator))
	}
	resolver, err := permission.NewResolver(b.roles, opts...)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORD --------
	verifier := b.verifier
	if verifier == nil {
		chain, err := newPasswordChain(cfg.Password)
		if err != nil {
			return nil, err
		}
		verifier = chain
	}
	hasher, _ := verifier.(password.Hasher)

	// -------- OBSERVABILITY --------
	m, err := metrics.New(b.registerer)
	if err != nil {
		return nil, err
	}
	tp := b.tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	e := &Engine{
		config:      cfg,
		codec:       codec,
		revocations: revocations,
		attempts:    attempts,
		resolver:    resolver,
		users:       b.users,
		verifier:    verifier,
		hasher:      hasher,
		loginLog:    b.loginLog,
		metrics:     m,
		log:         log,
		tracer:      tp.Tracer(tracerName),
		now:         now,
		retry: retry.Policy{
			MaxRetries: cfg.Store.WriteRetries,
			MaxElapsed: cfg.Store.WriteRetryMaxElapsed,
		},
	}

	if cfg.Audit.Enabled {
		e.audit = audit.NewDispatcher(audit.Config{
			Enabled:      true,
			BufferSize:   cfg.Audit.BufferSize,
			DropIfFull:   cfg.Audit.DropIfFull,
			WriteTimeout: cfg.Store.OperationTimeout * 4,
		}, b.loginLog, func(err error) {
			log.Warn("login log write failed", zap.Error(err))
		})
		if err := m.WatchAuditDrops(e.audit.Dropped); err != nil {
			e.audit.Close()
			return nil, err
		}
	}

	if hasher != nil {
		// Burned on unknown identities so they cost the same as a wrong secret.
		if dummy, err := hasher.Hash("credgate-timing-equalizer"); err == nil {
			e.dummyHash = dummy
		}
	}

	e.flow = e.wireFlows()
	b.built = true
	return e, nil
}

func newPasswordChain(cfg PasswordConfig) (*password.Chain, error) {
	argon, err := password.NewArgon2(password.Argon2Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	var legacy *password.Bcrypt
	if cfg.BcryptCost > 0 {
		legacy, err = password.NewBcrypt(cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
	}
	return password.NewChain(argon, legacy)
}

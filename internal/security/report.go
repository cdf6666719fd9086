package security

import "time"

type PasswordReport struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	LegacyBcrypt   bool
	UpgradeOnLogin bool
}

type Report struct {
	ProductionMode        bool
	SigningAlgorithm      string
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	Argon2                PasswordReport
	LockoutThreshold      int
	LockoutWindow         time.Duration
	AddressLockoutActive  bool
	LockoutReasonHidden   bool
	RevocationBackend     string
	PermissionCacheActive bool
	ActiveCheckOnRefresh  bool
	AsyncLoginLog         bool
	Warnings              []string
}

type ReportInput struct {
	ProductionMode         bool
	SigningAlgorithm       string
	SigningKeyBytes        int
	AccessTTL              time.Duration
	RefreshTTL             time.Duration
	Password               PasswordReport
	LockoutThreshold       int
	LockoutWindow          time.Duration
	TrackAddr              bool
	HideLockoutReason      bool
	RevocationBackend      string
	PermissionCache        bool
	RequireActiveOnRefresh bool
	AuditEnabled           bool
	AuditDropIfFull        bool
}

// Argon2 parameters below these are flagged in the report.
const (
	recommendedArgonMemory = 19 * 1024
	recommendedArgonTime   = 2
	maxRecommendedAccess   = time.Hour
	recommendedLockout     = 10
)

func BuildReport(input ReportInput) Report {
	r := Report{
		ProductionMode:        input.ProductionMode,
		SigningAlgorithm:      input.SigningAlgorithm,
		AccessTTL:             input.AccessTTL,
		RefreshTTL:            input.RefreshTTL,
		Argon2:                input.Password,
		LockoutThreshold:      input.LockoutThreshold,
		LockoutWindow:         input.LockoutWindow,
		AddressLockoutActive:  input.TrackAddr,
		LockoutReasonHidden:   input.HideLockoutReason,
		RevocationBackend:     input.RevocationBackend,
		PermissionCacheActive: input.PermissionCache,
		ActiveCheckOnRefresh:  input.RequireActiveOnRefresh,
		AsyncLoginLog:         input.AuditEnabled,
	}

	warn := func(msg string) { r.Warnings = append(r.Warnings, msg) }
	if !input.ProductionMode {
		warn("production mode disabled")
	}
	if input.SigningAlgorithm == "hs256" && input.SigningKeyBytes < 32 {
		warn("hs256 signing key shorter than 32 bytes")
	}
	if input.Password.Memory < recommendedArgonMemory || input.Password.Time < recommendedArgonTime {
		warn("argon2id parameters below recommended minimum (19 MiB, t=2)")
	}
	if input.Password.LegacyBcrypt && !input.Password.UpgradeOnLogin {
		warn("legacy bcrypt hashes accepted without upgrade on login")
	}
	if input.AccessTTL > maxRecommendedAccess {
		warn("access token lifetime exceeds one hour")
	}
	if input.LockoutThreshold > recommendedLockout {
		warn("lockout threshold above 10 attempts")
	}
	if !input.TrackAddr {
		warn("source address lockout disabled")
	}
	if input.AuditEnabled && input.AuditDropIfFull {
		warn("login log entries are dropped when the audit buffer is full")
	}
	return r
}

// Secure reports whether the configuration produced no warnings.
func (r Report) Secure() bool { return len(r.Warnings) == 0 }

// Package auth authenticates WhatsApp senders by phone number with one-time
// passcodes delivered over SMS and tracks their sessions.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

var (
	// ErrRateLimited means the phone is locked out of new passcodes.
	ErrRateLimited = errors.New("auth: rate limited")
	// ErrDeliveryFailed means the passcode could not be sent. The challenge
	// has been discarded.
	ErrDeliveryFailed = errors.New("auth: passcode delivery failed")
)

// UserKind is the role a phone number resolves to.
type UserKind string

const (
	KindPatient UserKind = "patient"
	KindStaff   UserKind = "staff"
	KindUnknown UserKind = "unknown"
)

// Session is the authenticated state for one phone number.
type Session struct {
	PhoneNumber     string    `json:"phone_number"`
	UserKind        UserKind  `json:"user_kind"`
	IsAuthenticated bool      `json:"is_authenticated"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Challenge is a live passcode awaiting verification.
type Challenge struct {
	Code         string    `json:"code"`
	AttemptsUsed int       `json:"attempts_used"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	// LockedUntil is set once the attempts are exhausted. A locked
	// challenge never verifies and blocks reissue until it passes.
	LockedUntil time.Time `json:"locked_until,omitempty"`
}

func (c Challenge) lockedAt(now time.Time) bool {
	return !c.LockedUntil.IsZero() && now.Before(c.LockedUntil)
}

type rateLimit struct {
	Until time.Time `json:"until"`
}

// UserContext describes an authenticated sender to the handlers.
type UserContext struct {
	Kind        UserKind
	PhoneNumber string
	Name        string

	// Patient fields
	PatientID      string
	OrganizationID string

	// Staff fields
	StaffID  string
	Username string
	Role     string
}

// SMSSender delivers the passcode text.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Policy holds the passcode and session limits.
type Policy struct {
	CodeLength      int
	OTPTTL          time.Duration
	MaxAttempts     int
	RateLimitWindow time.Duration
	SessionTTL      time.Duration
}

// DefaultPolicy is six digits, ten minutes, three attempts, a five minute
// lockout and a 24 hour session.
func DefaultPolicy() Policy {
	return Policy{
		CodeLength:      6,
		OTPTTL:          10 * time.Minute,
		MaxAttempts:     3,
		RateLimitWindow: 5 * time.Minute,
		SessionTTL:      24 * time.Hour,
	}
}

const keyPrefix = "whatsapp_bot:"

func otpKey(phone string) string       { return keyPrefix + "otp:" + phone }
func rateLimitKey(phone string) string { return keyPrefix + "rate_limit:" + phone }
func sessionKey(phone string) string   { return keyPrefix + "session:" + phone }

// Authenticator owns the passcode and session state machine:
// unauthenticated, passcode pending, authenticated, rate limited.
type Authenticator struct {
	store       Store
	patients    emr.PatientDirectory
	staff       emr.StaffDirectory
	sms         SMSSender
	logger      *logging.Logger
	policy      Policy
	countryCode string
	now         func() time.Time
	newCode     func(int) (string, error)
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(a *Authenticator) { a.policy = p }
}

// WithCountryCode sets the prefix applied to national numbers.
func WithCountryCode(code string) Option {
	return func(a *Authenticator) {
		if code != "" {
			a.countryCode = code
		}
	}
}

// WithCodeGenerator replaces GenerateCode.
func WithCodeGenerator(fn func(int) (string, error)) Option {
	return func(a *Authenticator) {
		if fn != nil {
			a.newCode = fn
		}
	}
}

// NewAuthenticator wires an Authenticator.
func NewAuthenticator(store Store, patients emr.PatientDirectory, staff emr.StaffDirectory, sms SMSSender, logger *logging.Logger, opts ...Option) *Authenticator {
	if store == nil {
		panic("auth: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Authenticator{
		store:       store,
		patients:    patients,
		staff:       staff,
		sms:         sms,
		logger:      logger,
		policy:      DefaultPolicy(),
		countryCode: DefaultCountryCode,
		now:         time.Now,
		newCode:     GenerateCode,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NormalizePhone applies the configured country code.
func (a *Authenticator) NormalizePhone(raw string) string {
	return NormalizePhone(raw, a.countryCode)
}

// IdentifyUserKind looks the phone up in the patient directory, then the
// staff directory. Lookup errors are logged and count as no match.
func (a *Authenticator) IdentifyUserKind(ctx context.Context, phone string) (UserKind, *emr.Patient, *emr.Staff) {
	normalized := a.NormalizePhone(phone)

	if a.patients != nil {
		p, err := a.patients.FindPatientByPhone(ctx, normalized)
		if err != nil {
			a.logger.Warn("patient lookup failed", "phone", logging.MaskPhone(normalized), "error", err)
		} else if p != nil {
			return KindPatient, p, nil
		}
	}

	if a.staff != nil {
		st, err := a.staff.FindStaffByPhone(ctx, normalized)
		if err != nil {
			a.logger.Warn("staff lookup failed", "phone", logging.MaskPhone(normalized), "error", err)
		} else if st != nil {
			return KindStaff, nil, st
		}
	}

	return KindUnknown, nil, nil
}

// RateLimited reports whether the phone is locked out of new passcodes.
func (a *Authenticator) RateLimited(ctx context.Context, phone string) (bool, error) {
	var rl rateLimit
	found, err := a.store.Get(ctx, rateLimitKey(a.NormalizePhone(phone)), &rl)
	if err != nil {
		return false, err
	}
	return found && a.now().Before(rl.Until), nil
}

// GenerateOTP issues a fresh passcode, replacing any live one, and sends it
// by SMS. It returns ErrRateLimited without side effects while the phone is
// locked out, and ErrDeliveryFailed when the SMS could not be sent.
func (a *Authenticator) GenerateOTP(ctx context.Context, phone string) (string, error) {
	normalized := a.NormalizePhone(phone)

	limited, err := a.RateLimited(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("auth: check rate limit: %w", err)
	}
	if limited {
		a.logger.Warn("otp requested while rate limited", "phone", logging.MaskPhone(normalized))
		return "", ErrRateLimited
	}

	code, err := a.newCode(a.policy.CodeLength)
	if err != nil {
		return "", err
	}
	now := a.now()
	challenge := Challenge{
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.policy.OTPTTL),
	}
	next, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("auth: encode challenge: %w", err)
	}
	err = a.store.Update(ctx, otpKey(normalized), func(cur []byte, found bool) (Mutation, error) {
		if found {
			var prev Challenge
			if json.Unmarshal(cur, &prev) == nil && prev.lockedAt(now) {
				return Mutation{}, ErrRateLimited
			}
		}
		return Mutation{Value: next, TTL: a.policy.OTPTTL}, nil
	})
	if errors.Is(err, ErrRateLimited) {
		a.logger.Warn("otp requested while challenge locked", "phone", logging.MaskPhone(normalized))
		return "", ErrRateLimited
	}
	if err != nil {
		return "", fmt.Errorf("auth: store challenge: %w", err)
	}

	body := fmt.Sprintf("Your CARE WhatsApp Bot verification code is: %s. Valid for %d minutes.", code, int(a.policy.OTPTTL.Minutes()))
	if a.sms == nil {
		err = errors.New("no sms sender configured")
	} else {
		err = a.sms.SendSMS(ctx, "+"+normalized, body)
	}
	if err != nil {
		a.logger.Error("otp delivery failed", "phone", logging.MaskPhone(normalized), "error", err)
		if delErr := a.store.Delete(ctx, otpKey(normalized)); delErr != nil {
			a.logger.Error("failed to discard undelivered otp", "phone", logging.MaskPhone(normalized), "error", delErr)
		}
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	a.logger.Info("otp sent", "phone", logging.MaskPhone(normalized))
	return code, nil
}

type verifyOutcome int

const (
	verifyNoChallenge verifyOutcome = iota
	verifyLockedOut
	verifyStillLocked
	verifyMismatch
	verifyMatched
)

// VerifyOTP checks candidate against the live challenge. The attempt count
// is checked before the code, so a locked out challenge fails even with the
// right code. Exhausting the attempts locks the challenge in place for the
// rate limit window, so no new passcode can be issued even before the rate
// limit key is written.
func (a *Authenticator) VerifyOTP(ctx context.Context, phone, candidate string) (bool, error) {
	normalized := a.NormalizePhone(phone)
	now := a.now()
	maxAttempts := a.policy.MaxAttempts

	var outcome verifyOutcome
	err := a.store.Update(ctx, otpKey(normalized), func(cur []byte, found bool) (Mutation, error) {
		outcome = verifyNoChallenge
		if !found {
			return Mutation{}, nil
		}
		var ch Challenge
		if err := json.Unmarshal(cur, &ch); err != nil {
			return Mutation{}, fmt.Errorf("auth: decode challenge: %w", err)
		}
		if ch.lockedAt(now) {
			outcome = verifyStillLocked
			return Mutation{}, nil
		}
		if !ch.LockedUntil.IsZero() || !now.Before(ch.ExpiresAt) {
			return Mutation{Delete: true}, nil
		}
		lock := func() (Mutation, error) {
			outcome = verifyLockedOut
			ch.AttemptsUsed = maxAttempts
			ch.LockedUntil = now.Add(a.policy.RateLimitWindow)
			locked, err := json.Marshal(ch)
			if err != nil {
				return Mutation{}, err
			}
			return Mutation{Value: locked, TTL: a.policy.RateLimitWindow}, nil
		}
		if ch.AttemptsUsed >= maxAttempts {
			return lock()
		}
		if codesEqual(ch.Code, candidate) {
			outcome = verifyMatched
			return Mutation{Delete: true}, nil
		}

		ch.AttemptsUsed++
		if ch.AttemptsUsed >= maxAttempts {
			return lock()
		}
		outcome = verifyMismatch
		next, err := json.Marshal(ch)
		if err != nil {
			return Mutation{}, err
		}
		return Mutation{Value: next, TTL: ch.ExpiresAt.Sub(now)}, nil
	})
	if err != nil {
		return false, fmt.Errorf("auth: verify otp: %w", err)
	}

	switch outcome {
	case verifyMatched:
		kind, _, _ := a.IdentifyUserKind(ctx, normalized)
		session := Session{
			PhoneNumber:     normalized,
			UserKind:        kind,
			IsAuthenticated: true,
			AuthenticatedAt: now,
			ExpiresAt:       now.Add(a.policy.SessionTTL),
		}
		if err := a.store.Set(ctx, sessionKey(normalized), session, a.policy.SessionTTL); err != nil {
			return false, fmt.Errorf("auth: create session: %w", err)
		}
		a.logger.Info("otp verified", "phone", logging.MaskPhone(normalized), "user_kind", kind)
		return true, nil
	case verifyLockedOut:
		lock := rateLimit{Until: now.Add(a.policy.RateLimitWindow)}
		if err := a.store.Set(ctx, rateLimitKey(normalized), lock, a.policy.RateLimitWindow); err != nil {
			return false, fmt.Errorf("auth: set rate limit: %w", err)
		}
		a.logger.Warn("otp attempts exhausted", "phone", logging.MaskPhone(normalized))
		return false, nil
	case verifyStillLocked:
		a.logger.Warn("otp attempt while locked", "phone", logging.MaskPhone(normalized))
		return false, nil
	case verifyMismatch:
		a.logger.Warn("invalid otp", "phone", logging.MaskPhone(normalized))
		return false, nil
	default:
		a.logger.Warn("no live otp", "phone", logging.MaskPhone(normalized))
		return false, nil
	}
}

// Session returns the live session for phone, deleting it if it has expired.
func (a *Authenticator) Session(ctx context.Context, phone string) (*Session, error) {
	normalized := a.NormalizePhone(phone)
	var s Session
	found, err := a.store.Get(ctx, sessionKey(normalized), &s)
	if err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	if !found || !s.IsAuthenticated {
		return nil, nil
	}
	if a.now().After(s.ExpiresAt) {
		if err := a.store.Delete(ctx, sessionKey(normalized)); err != nil {
			a.logger.Error("failed to delete expired session", "phone", logging.MaskPhone(normalized), "error", err)
		}
		return nil, nil
	}
	return &s, nil
}

// IsAuthenticated reports whether phone holds a live session. Store errors
// count as unauthenticated.
func (a *Authenticator) IsAuthenticated(ctx context.Context, phone string) bool {
	s, err := a.Session(ctx, phone)
	if err != nil {
		a.logger.Error("session check failed", "error", err)
		return false
	}
	return s != nil
}

// Logout deletes the session unconditionally.
func (a *Authenticator) Logout(ctx context.Context, phone string) error {
	normalized := a.NormalizePhone(phone)
	if err := a.store.Delete(ctx, sessionKey(normalized)); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	a.logger.Info("user logged out", "phone", logging.MaskPhone(normalized))
	return nil
}

// UserContext returns nil when phone is not authenticated. Otherwise the
// directories are consulted again so role changes apply immediately.
func (a *Authenticator) UserContext(ctx context.Context, phone string) (*UserContext, error) {
	normalized := a.NormalizePhone(phone)
	s, err := a.Session(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	kind, patient, staff := a.IdentifyUserKind(ctx, normalized)
	uc := &UserContext{Kind: kind, PhoneNumber: normalized}
	switch {
	case kind == KindPatient && patient != nil:
		uc.Name = patient.Name
		uc.PatientID = patient.ID
		uc.OrganizationID = patient.OrganizationID
	case kind == KindStaff && staff != nil:
		uc.Name = staff.FullName()
		uc.StaffID = staff.ID
		uc.Username = staff.Username
		uc.Role = staff.Role
	}
	return uc, nil
}

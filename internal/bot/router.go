package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/wolfman30/care-whatsapp-bot/internal/auth"
	"github.com/wolfman30/care-whatsapp-bot/internal/command"
	"github.com/wolfman30/care-whatsapp-bot/internal/compliance"
	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

// Authenticator is the slice of auth.Authenticator the router uses.
type Authenticator interface {
	IdentifyUserKind(ctx context.Context, phone string) (auth.UserKind, *emr.Patient, *emr.Staff)
	GenerateOTP(ctx context.Context, phone string) (string, error)
	VerifyOTP(ctx context.Context, phone, candidate string) (bool, error)
	IsAuthenticated(ctx context.Context, phone string) bool
	Logout(ctx context.Context, phone string) error
	UserContext(ctx context.Context, phone string) (*auth.UserContext, error)
}

// Metrics observes routed commands. Implementations must tolerate concurrent use.
type Metrics interface {
	ObserveCommand(command, userKind, outcome string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCommand(string, string, string, time.Duration) {}

// RouterConfig wires a Router.
type RouterConfig struct {
	Auth    Authenticator
	Common  Handler
	Patient Handler
	Staff   Handler
	Audit   Auditor
	Metrics Metrics
	Logger  *logging.Logger
	// Policy supplies the durations quoted in replies.
	Policy auth.Policy
}

// Router classifies inbound text, gates it on authentication and hands it
// to the handler for the sender's role.
type Router struct {
	auth    Authenticator
	common  Handler
	patient Handler
	staff   Handler
	audit   Auditor
	metrics Metrics
	logger  *logging.Logger
	policy  auth.Policy
}

// NewRouter builds a router. Auth and the patient and staff handlers are required.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Auth == nil || cfg.Patient == nil || cfg.Staff == nil {
		panic("bot: router requires auth, patient and staff handlers")
	}
	r := &Router{
		auth:    cfg.Auth,
		common:  cfg.Common,
		patient: cfg.Patient,
		staff:   cfg.Staff,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		policy:  cfg.Policy,
	}
	if r.common == nil {
		r.common = CommonHandler{}
	}
	if r.audit == nil {
		r.audit = nopAuditor{}
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	if r.policy == (auth.Policy{}) {
		r.policy = auth.DefaultPolicy()
	}
	return r
}

type routeResult struct {
	label    string
	userKind auth.UserKind
	outcome  string
}

// Route returns the replies for msg. It always returns at least one
// response and never panics.
func (r *Router) Route(ctx context.Context, msg InboundMessage) (out []OutboundResponse) {
	start := time.Now()
	res := &routeResult{label: "unclassified", userKind: auth.KindUnknown, outcome: "ok"}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router panic", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			res.outcome = "panic"
			out = nil
		}
		if len(out) == 0 {
			if res.outcome == "ok" {
				res.outcome = "empty"
			}
			out = reply(msg.SenderID, textGenericError)
		}
		r.metrics.ObserveCommand(res.label, string(res.userKind), res.outcome, time.Since(start))
	}()

	if msg.Kind != KindText {
		res.label = "non_text"
		return reply(msg.SenderID, textOnly)
	}

	cmd, args := command.Classify(msg.Content)
	res.label = cmd.String()
	phone := msg.SenderID

	switch {
	case cmd == command.Login:
		return r.login(ctx, phone, res)
	case cmd == command.VerifyOtp:
		return r.verify(ctx, phone, args.OriginalText, res)
	case cmd == command.Logout:
		return r.logout(ctx, phone, res)
	case cmd.IsCommon():
		uc := r.userContext(ctx, phone)
		if uc != nil {
			res.userKind = uc.Kind
		}
		return r.common.Handle(ctx, Request{Command: cmd, Args: args, Message: msg, User: uc})
	}

	if !r.auth.IsAuthenticated(ctx, phone) {
		res.outcome = "unauthenticated"
		return reply(phone, textPleaseLogin)
	}
	uc, err := r.auth.UserContext(ctx, phone)
	if err != nil {
		r.logger.Error("load user context failed", "phone", logging.MaskPhone(phone), "error", err)
		res.outcome = "error"
		return reply(phone, textGenericError)
	}
	if uc == nil {
		res.outcome = "unauthenticated"
		return reply(phone, textPleaseLogin)
	}
	res.userKind = uc.Kind

	h := r.handlerFor(uc.Kind)
	if h == nil {
		res.outcome = "unknown_account"
		return reply(phone, textUnknownAccount)
	}
	return h.Handle(ctx, Request{Command: cmd, Args: args, Message: msg, User: uc})
}

func (r *Router) handlerFor(kind auth.UserKind) Handler {
	switch kind {
	case auth.KindPatient:
		return r.patient
	case auth.KindStaff:
		return r.staff
	default:
		return nil
	}
}

func (r *Router) userContext(ctx context.Context, phone string) *auth.UserContext {
	uc, err := r.auth.UserContext(ctx, phone)
	if err != nil {
		r.logger.Warn("load user context failed", "phone", logging.MaskPhone(phone), "error", err)
		return nil
	}
	return uc
}

func (r *Router) login(ctx context.Context, phone string, res *routeResult) []OutboundResponse {
	if r.auth.IsAuthenticated(ctx, phone) {
		if uc := r.userContext(ctx, phone); uc != nil {
			res.userKind = uc.Kind
			res.outcome = "already_authenticated"
			return reply(phone, textWelcomeBack(uc.Name), MenuText(uc.Kind))
		}
	}

	kind, _, _ := r.auth.IdentifyUserKind(ctx, phone)
	res.userKind = kind
	if kind == auth.KindUnknown {
		res.outcome = "unregistered"
		r.record(ctx, compliance.EventLoginUnregistered, phone, kind)
		return reply(phone, textNotRegistered)
	}

	_, err := r.auth.GenerateOTP(ctx, phone)
	switch {
	case err == nil:
		res.outcome = "otp_sent"
		r.record(ctx, compliance.EventOTPRequested, phone, kind)
		return reply(phone, textOTPSent(r.policy.OTPTTL))
	case errors.Is(err, auth.ErrRateLimited):
		res.outcome = "rate_limited"
		r.record(ctx, compliance.EventRateLimited, phone, kind)
		return reply(phone, textRateLimited(r.policy.RateLimitWindow))
	default:
		r.logger.Error("otp issue failed", "phone", logging.MaskPhone(phone), "error", err)
		res.outcome = "otp_failed"
		r.record(ctx, compliance.EventOTPDeliveryFailed, phone, kind)
		return reply(phone, textOTPSendFailed)
	}
}

func (r *Router) verify(ctx context.Context, phone, code string, res *routeResult) []OutboundResponse {
	ok, err := r.auth.VerifyOTP(ctx, phone, code)
	if err != nil {
		r.logger.Error("otp verification failed", "phone", logging.MaskPhone(phone), "error", err)
	}
	if !ok {
		res.outcome = "rejected"
		r.record(ctx, compliance.EventLoginFailed, phone, auth.KindUnknown)
		return reply(phone, textVerifyFailed)
	}

	uc := r.userContext(ctx, phone)
	kind, name := auth.KindUnknown, ""
	if uc != nil {
		kind, name = uc.Kind, uc.Name
	}
	res.userKind = kind
	res.outcome = "authenticated"
	r.record(ctx, compliance.EventLoginSucceeded, phone, kind)
	return reply(phone, textLoginSuccess(name, r.policy.SessionTTL), MenuText(kind), textTips)
}

func (r *Router) logout(ctx context.Context, phone string, res *routeResult) []OutboundResponse {
	if err := r.auth.Logout(ctx, phone); err != nil {
		r.logger.Error("logout failed", "phone", logging.MaskPhone(phone), "error", err)
		res.outcome = "error"
		return reply(phone, textGenericError)
	}
	r.record(ctx, compliance.EventLogout, phone, auth.KindUnknown)
	return reply(phone, textLoggedOut)
}

func (r *Router) record(ctx context.Context, eventType compliance.AuditEventType, phone string, kind auth.UserKind) {
	err := r.audit.LogEvent(ctx, compliance.AuditEvent{EventType: eventType, Phone: phone, UserKind: string(kind)})
	if err != nil {
		r.logger.Error("audit write failed", "event_type", eventType, "error", err)
	}
}

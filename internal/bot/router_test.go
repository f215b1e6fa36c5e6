package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/care-whatsapp-bot/internal/auth"
	"github.com/wolfman30/care-whatsapp-bot/internal/compliance"
	"github.com/wolfman30/care-whatsapp-bot/internal/emr"
	"github.com/wolfman30/care-whatsapp-bot/pkg/logging"
)

const (
	patientPhone  = "919876543210"
	staffPhone    = "919812345678"
	strangerPhone = "919800000000"
	fixedCode     = "424242"
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type recordingSMS struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSMS) SendSMS(_ context.Context, _, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, body)
	return nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []compliance.AuditEvent
}

func (a *recordingAuditor) LogEvent(_ context.Context, e compliance.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

func (a *recordingAuditor) types() []compliance.AuditEventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]compliance.AuditEventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (m *recordingMetrics) ObserveCommand(cmd, _, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]string{}
	}
	m.outcomes[cmd] = outcome
}

// spyAuth fails the test on any call; used where the router must not
// consult authentication at all.
type spyAuth struct {
	t     *testing.T
	calls int
}

func (s *spyAuth) touched() {
	s.calls++
	s.t.Errorf("authenticator should not be called")
}

func (s *spyAuth) IdentifyUserKind(context.Context, string) (auth.UserKind, *emr.Patient, *emr.Staff) {
	s.touched()
	return auth.KindUnknown, nil, nil
}
func (s *spyAuth) GenerateOTP(context.Context, string) (string, error) { s.touched(); return "", nil }
func (s *spyAuth) VerifyOTP(context.Context, string, string) (bool, error) {
	s.touched()
	return false, nil
}
func (s *spyAuth) IsAuthenticated(context.Context, string) bool { s.touched(); return false }
func (s *spyAuth) Logout(context.Context, string) error          { s.touched(); return nil }
func (s *spyAuth) UserContext(context.Context, string) (*auth.UserContext, error) {
	s.touched()
	return nil, nil
}

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, Request) []OutboundResponse {
	panic("boom")
}

type silentHandler struct{}

func (silentHandler) Handle(context.Context, Request) []OutboundResponse { return nil }

type routerFixture struct {
	router  *Router
	auth    *auth.Authenticator
	sms     *recordingSMS
	audit   *recordingAuditor
	metrics *recordingMetrics
	emr     *emr.InMemoryStore
}

func seededEMR() *emr.InMemoryStore {
	dob := time.Date(1990, 3, 2, 0, 0, 0, 0, time.UTC)
	store := emr.NewInMemoryStore()
	store.AddPatient(emr.Patient{ID: "P100", Name: "Asha Rao", Phone: "+91 98765 43210", Gender: "female", DateOfBirth: &dob})
	store.AddPatient(emr.Patient{ID: "P200", Name: "Ravi Kumar", Phone: "9123456789", Gender: "male", YearOfBirth: 1980})
	store.AddStaff(emr.Staff{ID: "S1", FirstName: "Meera", LastName: "Iyer", Username: "miyer", Phone: staffPhone, Role: "Doctor", IsActive: true})
	return store
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := seededEMR()
	sms := &recordingSMS{}
	logger := logging.Nop()
	authenticator := auth.NewAuthenticator(auth.NewMemoryStore(func() time.Time { return fixedNow }), store, store, sms, logger,
		auth.WithClock(func() time.Time { return fixedNow }),
		auth.WithCodeGenerator(func(int) (string, error) { return fixedCode, nil }),
	)
	audit := &recordingAuditor{}
	metrics := &recordingMetrics{}
	now := func() time.Time { return fixedNow }
	r := NewRouter(RouterConfig{
		Auth:    authenticator,
		Patient: NewPatientHandler(store, store, logger, now),
		Staff:   NewStaffHandler(store, audit, logger, now),
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger,
	})
	return &routerFixture{router: r, auth: authenticator, sms: sms, audit: audit, metrics: metrics, emr: store}
}

func text(from, body string) InboundMessage {
	return InboundMessage{MessageID: "wamid.1", SenderID: from, Kind: KindText, Content: body, Platform: "whatsapp", Timestamp: fixedNow}
}

func contents(out []OutboundResponse) []string {
	s := make([]string, 0, len(out))
	for _, o := range out {
		s = append(s, o.Content)
	}
	return s
}

func (f *routerFixture) login(t *testing.T, phone string) {
	t.Helper()
	ctx := context.Background()
	f.router.Route(ctx, text(phone, "login"))
	out := f.router.Route(ctx, text(phone, fixedCode))
	require.Len(t, out, 3)
	require.True(t, f.auth.IsAuthenticated(ctx, phone))
}

func TestRouteNonTextSkipsAuthentication(t *testing.T) {
	spy := &spyAuth{t: t}
	r := NewRouter(RouterConfig{Auth: spy, Patient: silentHandler{}, Staff: silentHandler{}, Logger: logging.Nop()})

	for _, kind := range []MessageKind{KindImage, KindDocument, KindAudio, KindVideo, KindLocation, KindInteractive} {
		out := r.Route(context.Background(), InboundMessage{SenderID: patientPhone, Kind: kind})
		require.Len(t, out, 1, kind)
		assert.Equal(t, textOnly, out[0].Content)
		assert.Equal(t, patientPhone, out[0].RecipientID)
	}
	assert.Zero(t, spy.calls)
}

func TestRouteAnonymousHelpAndMenu(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.Route(context.Background(), text(strangerPhone, "help"))
	require.Len(t, out, 1)
	assert.Equal(t, anonymousHelp, out[0].Content)

	out = f.router.Route(context.Background(), text(strangerPhone, "/menu"))
	require.Len(t, out, 1)
	assert.Equal(t, anonymousMenu, out[0].Content)
}

func TestRouteCodeWithoutChallengeIsRejected(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.Route(context.Background(), text(patientPhone, "123456"))
	require.Len(t, out, 1)
	assert.Equal(t, textVerifyFailed, out[0].Content)
	assert.Equal(t, []compliance.AuditEventType{compliance.EventLoginFailed}, f.audit.types())
}

func TestRouteUnauthenticatedCommandsNeedLogin(t *testing.T) {
	f := newRouterFixture(t)

	for _, body := range []string{"search patient John", "records", "what is this"} {
		out := f.router.Route(context.Background(), text(staffPhone, body))
		require.Len(t, out, 1, body)
		assert.Equal(t, textPleaseLogin, out[0].Content, body)
	}
	assert.Empty(t, f.audit.types())
}

func TestRouteLoginUnregistered(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.Route(context.Background(), text(strangerPhone, "login"))
	require.Len(t, out, 1)
	assert.Equal(t, textNotRegistered, out[0].Content)
	assert.Empty(t, f.sms.sent)
	assert.Equal(t, []compliance.AuditEventType{compliance.EventLoginUnregistered}, f.audit.types())
}

func TestRouteLoginAndVerifyFlow(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	out := f.router.Route(ctx, text(patientPhone, "login"))
	require.Len(t, out, 1)
	assert.Equal(t, textOTPSent(10*time.Minute), out[0].Content)
	assert.NotContains(t, out[0].Content, fixedCode)
	require.Len(t, f.sms.sent, 1)
	assert.Contains(t, f.sms.sent[0], fixedCode)

	out = f.router.Route(ctx, text(patientPhone, fixedCode))
	require.Len(t, out, 3)
	assert.Equal(t, textLoginSuccess("Asha Rao", 24*time.Hour), out[0].Content)
	assert.Equal(t, patientMenu, out[1].Content)
	assert.Equal(t, textTips, out[2].Content)

	out = f.router.Route(ctx, text(patientPhone, "login"))
	require.Len(t, out, 2)
	assert.Equal(t, textWelcomeBack("Asha Rao"), out[0].Content)
	assert.Equal(t, patientMenu, out[1].Content)

	out = f.router.Route(ctx, text(patientPhone, "help"))
	require.Len(t, out, 1)
	assert.Equal(t, patientHelp, out[0].Content)

	assert.Equal(t, []compliance.AuditEventType{
		compliance.EventOTPRequested,
		compliance.EventLoginSucceeded,
	}, f.audit.types())
	assert.Equal(t, "already_authenticated", f.metrics.outcomes["login"])
}

func TestRouteLoginRateLimited(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.Route(ctx, text(patientPhone, "login"))
	for i := 0; i < 3; i++ {
		out := f.router.Route(ctx, text(patientPhone, "000000"))
		require.Len(t, out, 1)
		assert.Equal(t, textVerifyFailed, out[0].Content)
	}

	out := f.router.Route(ctx, text(patientPhone, "login"))
	require.Len(t, out, 1)
	assert.Equal(t, textRateLimited(5*time.Minute), out[0].Content)
	assert.Len(t, f.sms.sent, 1)
}

func TestRouteLoginDeliveryFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.sms.err = errors.New("gateway down")

	out := f.router.Route(context.Background(), text(patientPhone, "login"))
	require.Len(t, out, 1)
	assert.Equal(t, textOTPSendFailed, out[0].Content)
	assert.Contains(t, f.audit.types(), compliance.EventOTPDeliveryFailed)
}

func TestRoutePatientCommands(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.login(t, patientPhone)

	out := f.router.Route(ctx, text(patientPhone, "my medications"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "No active medications found.")

	out = f.router.Route(ctx, text(patientPhone, "search patient Ravi"))
	require.Len(t, out, 1)
	assert.Equal(t, textPatientUnknown, out[0].Content)
}

func TestRouteStaffCommands(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.login(t, staffPhone)

	out := f.router.Route(ctx, text(staffPhone, "search patient ravi"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "Ravi Kumar")
	assert.Contains(t, out[0].Content, "****6789")
	assert.NotContains(t, out[0].Content, "9123456789")

	out = f.router.Route(ctx, text(staffPhone, "records"))
	require.Len(t, out, 1)
	assert.Equal(t, textStaffUnknown, out[0].Content)
	assert.Contains(t, f.audit.types(), compliance.EventPatientSearched)
}

func TestRouteLogout(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.login(t, patientPhone)

	out := f.router.Route(ctx, text(patientPhone, "logout"))
	require.Len(t, out, 1)
	assert.Equal(t, textLoggedOut, out[0].Content)
	assert.False(t, f.auth.IsAuthenticated(ctx, patientPhone))

	out = f.router.Route(ctx, text(patientPhone, "records"))
	assert.Equal(t, []string{textPleaseLogin}, contents(out))
}

func TestRouteUnknownAccountKind(t *testing.T) {
	ctx := context.Background()
	dir := emr.NewInMemoryStore()
	dir.AddStaff(emr.Staff{ID: "S9", Phone: staffPhone, IsActive: true})
	a := auth.NewAuthenticator(auth.NewMemoryStore(func() time.Time { return fixedNow }), dir, dir, &recordingSMS{}, logging.Nop(),
		auth.WithClock(func() time.Time { return fixedNow }),
		auth.WithCodeGenerator(func(int) (string, error) { return fixedCode, nil }),
	)
	_, err := a.GenerateOTP(ctx, staffPhone)
	require.NoError(t, err)
	ok, err := a.VerifyOTP(ctx, staffPhone, fixedCode)
	require.NoError(t, err)
	require.True(t, ok)

	// The session outlives the staff record.
	dir.RemoveStaff("S9")

	r := NewRouter(RouterConfig{Auth: a, Patient: silentHandler{}, Staff: silentHandler{}, Logger: logging.Nop()})
	out := r.Route(ctx, text(staffPhone, "records"))
	assert.Equal(t, []string{textUnknownAccount}, contents(out))
}

func TestRouteRecoversFromHandlerPanic(t *testing.T) {
	f := newRouterFixture(t)
	f.login(t, patientPhone)
	f.router.patient = panickingHandler{}

	var out []OutboundResponse
	require.NotPanics(t, func() {
		out = f.router.Route(context.Background(), text(patientPhone, "records"))
	})
	assert.Equal(t, []string{textGenericError}, contents(out))
	assert.Equal(t, "panic", f.metrics.outcomes["get_records"])
}

func TestRouteNeverReturnsEmpty(t *testing.T) {
	f := newRouterFixture(t)
	f.login(t, patientPhone)
	f.router.patient = silentHandler{}

	out := f.router.Route(context.Background(), text(patientPhone, "records"))
	assert.Equal(t, []string{textGenericError}, contents(out))
}

func TestRouteRepliesToSender(t *testing.T) {
	f := newRouterFixture(t)
	for _, body := range []string{"help", "login", "123456", "records", "  "} {
		for _, o := range f.router.Route(context.Background(), text(strangerPhone, body)) {
			assert.Equal(t, strangerPhone, o.RecipientID)
			assert.False(t, strings.Contains(o.Content, fixedCode))
		}
	}
}

package app_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/domain/domaintest"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

// spans records every span the service ends during the test run.
var spans = tracetest.NewSpanRecorder()

func TestMain(m *testing.M) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	goleak.VerifyTestMain(m)
}

// endedSpan returns the most recent ended span called name whose session_id
// attribute is sessionID.
func endedSpan(t *testing.T, name, sessionID string) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := spans.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() != name {
			continue
		}
		for _, kv := range ended[i].Attributes() {
			if kv.Key == "session_id" && kv.Value.AsString() == sessionID {
				return ended[i]
			}
		}
	}
	require.Failf(t, "span not recorded", "%s for session %s", name, sessionID)
	return nil
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

var testPepper = domain.SecretBytes("test-pepper-32-bytes-long-ok!!")

var testStart = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

const (
	testPhone  = "+15551234567"
	otherPhone = "+15559999999"
	testAppID  = "demo"
	testSecret = "qr-shared-secret"
	testIP     = "203.0.113.7"
)

// stubSessionStore is an in-memory app.SessionStore honouring the same
// conditional-write rules as the DynamoDB adapter. Function fields override
// individual calls.
type stubSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session

	getFn        func(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	lockFn       func(ctx context.Context, id domain.SessionID, reason string, at time.Time) error
	createFn     func(ctx context.Context, s domain.Session) error
	reserveFn    func(ctx context.Context, id domain.SessionID, maxAttempts int) (*domain.Session, error)
	updateFn     func(ctx context.Context, id domain.SessionID, to domain.SessionStatus) error
	lockCalls    int
	releaseCalls int
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: make(map[string]domain.Session)}
}

func (s *stubSessionStore) Create(ctx context.Context, session domain.Session) error {
	if s.createFn != nil {
		return s.createFn(ctx, session)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID.String()]; ok {
		return domain.ErrAlreadyExists
	}
	s.sessions[session.ID.String()] = session
	return nil
}

func (s *stubSessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return s.load(id)
}

// load is the unstubbed Get, for getFn overrides that wrap it.
func (s *stubSessionStore) load(id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id.String()]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *stubSessionStore) UpdateStatus(ctx context.Context, id domain.SessionID, to domain.SessionStatus, from []domain.SessionStatus, at time.Time) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, id, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id.String()]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !statusIn(session.Status, from) {
		return domain.ErrStateConflict
	}
	session.Status = to
	session.LastActivityAt = at
	s.sessions[id.String()] = session
	return nil
}

func (s *stubSessionStore) Lock(ctx context.Context, id domain.SessionID, reason string, at time.Time) error {
	s.mu.Lock()
	s.lockCalls++
	s.mu.Unlock()
	if s.lockFn != nil {
		return s.lockFn(ctx, id, reason, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id.String()]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !statusIn(session.Status, domain.SourceStatuses(domain.SessionLocked)) {
		return domain.ErrStateConflict
	}
	session.Status = domain.SessionLocked
	session.LockReason = reason
	session.LockedAt = at
	s.sessions[id.String()] = session
	return nil
}

func (s *stubSessionStore) SetCurrentOTP(ctx context.Context, id domain.SessionID, otpID domain.OTPID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id.String()]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if !statusIn(session.Status, domain.SourceStatuses(domain.SessionOTPGenerated)) {
		return domain.ErrStateConflict
	}
	session.Status = domain.SessionOTPGenerated
	session.CurrentOTPID = otpID
	session.LastActivityAt = at
	s.sessions[id.String()] = session
	return nil
}

func (s *stubSessionStore) ReserveAttempt(ctx context.Context, id domain.SessionID, maxAttempts int, at time.Time) (*domain.Session, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, id, maxAttempts)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id.String()]
	if !ok || !statusIn(session.Status, domain.OpenStatuses) || session.Attempts >= maxAttempts {
		return nil, domain.ErrStateConflict
	}
	session.Attempts++
	session.LastActivityAt = at
	s.sessions[id.String()] = session
	return &session, nil
}

func (s *stubSessionStore) ReleaseAttempt(ctx context.Context, id domain.SessionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	session, ok := s.sessions[id.String()]
	if !ok || session.Attempts <= 0 {
		return domain.ErrStateConflict
	}
	session.Attempts--
	session.LastActivityAt = at
	s.sessions[id.String()] = session
	return nil
}

func (s *stubSessionStore) CompleteVerification(ctx context.Context, id domain.SessionID, otpID domain.OTPID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id.String()]
	if !ok {
		return domain.ErrStateConflict
	}
	if !statusIn(session.Status, domain.SourceStatuses(domain.SessionVerified)) || session.CurrentOTPID != otpID {
		return domain.ErrStateConflict
	}
	session.Status = domain.SessionVerified
	session.Attempts--
	session.LastActivityAt = at
	s.sessions[id.String()] = session
	return nil
}

func (s *stubSessionStore) put(session domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID.String()] = session
}

func (s *stubSessionStore) get(t *testing.T, id string) domain.Session {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	require.True(t, ok, "session %s not stored", id)
	return session
}

func statusIn(status domain.SessionStatus, set []domain.SessionStatus) bool {
	for _, st := range set {
		if st == status {
			return true
		}
	}
	return false
}

// stubOTPStore is an in-memory app.OTPStore.
type stubOTPStore struct {
	mu      sync.Mutex
	records map[string]domain.OTPRecord

	createFn      func(ctx context.Context, r domain.OTPRecord) error
	markFn        func(ctx context.Context, id domain.OTPID) error
	recordFn      func(ctx context.Context, id domain.OTPID, u domain.DeliveryUpdate) error
	getFn         func(ctx context.Context, id domain.OTPID) (*domain.OTPRecord, error)
	deliveryCalls []domain.DeliveryUpdate
}

func newStubOTPStore() *stubOTPStore {
	return &stubOTPStore{records: make(map[string]domain.OTPRecord)}
}

func (s *stubOTPStore) Create(ctx context.Context, r domain.OTPRecord) error {
	if s.createFn != nil {
		return s.createFn(ctx, r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID.String()] = r
	return nil
}

func (s *stubOTPStore) Get(ctx context.Context, id domain.OTPID) (*domain.OTPRecord, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return s.load(id)
}

// load is the unstubbed Get, for getFn overrides that wrap it.
func (s *stubOTPStore) load(id domain.OTPID) (*domain.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id.String()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *stubOTPStore) MarkVerified(ctx context.Context, id domain.OTPID, at time.Time) error {
	if s.markFn != nil {
		return s.markFn(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id.String()]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Verified {
		return domain.ErrOTPAlreadyUsed
	}
	r.Verified = true
	r.VerifiedAt = at
	s.records[id.String()] = r
	return nil
}

func (s *stubOTPStore) RecordDelivery(ctx context.Context, id domain.OTPID, u domain.DeliveryUpdate) error {
	s.mu.Lock()
	s.deliveryCalls = append(s.deliveryCalls, u)
	s.mu.Unlock()
	if s.recordFn != nil {
		return s.recordFn(ctx, id, u)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id.String()]
	if !ok {
		return domain.ErrNotFound
	}
	if u.MessageID != "" {
		r.DeliveryMessageID = u.MessageID
	}
	r.DeliveryStatus = u.Status
	r.DeliveryErrorCode = u.ErrorCode
	r.DeliveryUpdatedAt = u.At
	s.records[id.String()] = r
	return nil
}

func (s *stubOTPStore) FindByDeliveryMessageID(ctx context.Context, messageID string) (*domain.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.DeliveryMessageID == messageID {
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubOTPStore) record(t *testing.T, id domain.OTPID) domain.OTPRecord {
	t.Helper()
	r, err := s.load(id)
	require.NoError(t, err)
	return *r
}

func (s *stubOTPStore) only(t *testing.T) domain.OTPRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.records, 1)
	for _, r := range s.records {
		return r
	}
	return domain.OTPRecord{}
}

// stubRateLimiter implements app.RateLimiter with a simple in-memory count.
type stubRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	fn     func(ctx context.Context, kind domain.RateLimitKind, id string, p domain.RateLimitPolicy) (domain.RateLimitResult, error)
}

func (s *stubRateLimiter) CheckAndIncrement(ctx context.Context, kind domain.RateLimitKind, id string, p domain.RateLimitPolicy) (domain.RateLimitResult, error) {
	if s.fn != nil {
		return s.fn(ctx, kind, id, p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	key := string(kind) + ":" + id
	s.counts[key]++
	n := s.counts[key]
	reset := testStart.Add(p.Window)
	if n > p.Max {
		return domain.RateLimitResult{Allowed: false, ResetAt: reset}, nil
	}
	return domain.RateLimitResult{Allowed: true, Remaining: p.Max - n, ResetAt: reset}, nil
}

// stubAuditLog collects appended events.
type stubAuditLog struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (s *stubAuditLog) Append(_ context.Context, e domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *stubAuditLog) types() []domain.AuditEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func (s *stubAuditLog) byType(typ domain.AuditEventType) []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// stubQueue implements app.SMSQueue.
type stubQueue struct {
	mu       sync.Mutex
	messages []app.SMSMessage
	err      error
}

func (s *stubQueue) EnqueueSMS(_ context.Context, msg app.SMSMessage) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubQueue) last(t *testing.T) app.SMSMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.messages)
	return s.messages[len(s.messages)-1]
}

// stubVault implements app.DebugOTPVault.
type stubVault struct {
	mu   sync.Mutex
	otps map[string]domain.SecretString
}

func (s *stubVault) Put(_ context.Context, id domain.SessionID, otp domain.SecretString, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.otps == nil {
		s.otps = make(map[string]domain.SecretString)
	}
	s.otps[id.String()] = otp
	return nil
}

func (s *stubVault) Get(_ context.Context, id domain.SessionID) (domain.SecretString, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	otp, ok := s.otps[id.String()]
	if !ok {
		return "", domain.ErrNotFound
	}
	return otp, nil
}

// testHarness wires an AuthService to in-memory stubs.
type testHarness struct {
	svc         *app.AuthService
	sessions    *stubSessionStore
	otps        *stubOTPStore
	rateLimiter *stubRateLimiter
	auditLog    *stubAuditLog
	queue       *stubQueue
	vault       *stubVault
	clock       *domaintest.FakeClock
	keyStore    *auth.StaticKeyStore
	sessionMgr  *app.SessionManager
	otpMgr      *app.OTPManager
}

type harnessOption func(*app.AuthServiceConfig, *testHarness)

func withDebugVault() harnessOption {
	return func(cfg *app.AuthServiceConfig, h *testHarness) {
		cfg.DebugVault = h.vault
	}
}

func newTestHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	h := &testHarness{
		sessions:    newStubSessionStore(),
		otps:        newStubOTPStore(),
		rateLimiter: &stubRateLimiter{},
		auditLog:    &stubAuditLog{},
		queue:       &stubQueue{},
		vault:       &stubVault{},
		clock:       domaintest.NewFakeClock(testStart),
		keyStore:    auth.NewStaticKeyStore(key, "test-key"),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h.sessionMgr = app.NewSessionManager(app.SessionManagerConfig{
		Store:  h.sessions,
		Clock:  h.clock,
		Logger: logger,
	})
	h.otpMgr = app.NewOTPManager(app.OTPManagerConfig{
		Store:  h.otps,
		Clock:  h.clock,
		Pepper: testPepper,
	})

	cfg := app.AuthServiceConfig{
		Sessions:    h.sessionMgr,
		OTPs:        h.otpMgr,
		RateLimiter: h.rateLimiter,
		Policies:    app.DefaultRateLimitPolicies(),
		Audit:       app.NewAuditTrail(h.auditLog, h.clock, logger),
		Queue:       h.queue,
		Minter: auth.NewMinter(auth.MinterConfig{
			KeyStore: h.keyStore,
			TokenTTL: time.Hour,
			Issuer:   "otp-auth",
			Audience: "otp-auth-clients",
			Clock:    h.clock,
		}),
		Credentials: auth.AppCredentials{AppID: testAppID, Secret: domain.SecretString(testSecret)},
		Clock:       h.clock,
		Logger:      logger,
	}
	for _, opt := range opts {
		opt(&cfg, h)
	}
	h.svc = app.NewAuthService(cfg)
	t.Cleanup(h.svc.Wait)
	return h
}

// newSession creates an ACTIVE session for testPhone through the service.
func (h *testHarness) newSession(t *testing.T) string {
	t.Helper()
	res, err := h.svc.ValidateIdentity(context.Background(), app.ValidateIdentityInput{
		AppID:       testAppID,
		AppSecret:   testSecret,
		PhoneNumber: testPhone,
		ClientIP:    testIP,
	})
	require.NoError(t, err)
	return res.SessionID
}

// requestOTP issues a code for sessionID and returns the plaintext that was
// handed to the queue.
func (h *testHarness) requestOTP(t *testing.T, sessionID string) string {
	t.Helper()
	_, err := h.svc.RequestOTP(context.Background(), app.RequestOTPInput{
		SessionID:   sessionID,
		PhoneNumber: testPhone,
		ClientIP:    testIP,
	})
	require.NoError(t, err)
	return h.queue.last(t).OTP.Expose()
}

// wrongCode returns a well-formed code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

// drain waits for background audit writes before assertions.
func (h *testHarness) drain() {
	h.svc.Wait()
}

func verifyInput(sessionID, code string) app.VerifyOTPInput {
	return app.VerifyOTPInput{SessionID: sessionID, OTP: code, ClientIP: testIP}
}

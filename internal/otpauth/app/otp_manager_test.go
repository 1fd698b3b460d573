package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/auth"
	"github.com/aelexs/otp-auth/internal/domain"
)

func TestOTPManagerIssue(t *testing.T) {
	h := newTestHarness(t)
	sessionID := domain.GenerateSessionID()

	issued, err := h.otpMgr.Issue(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, issued.OTP.Expose())
	assert.Equal(t, testStart.Add(domain.OTPValidityDuration), issued.ExpiresAt)

	record := h.otps.only(t)
	assert.Equal(t, issued.OTPID, record.ID)
	assert.Equal(t, sessionID, record.SessionID)
	assert.False(t, record.Verified)
	assert.NotEqual(t, issued.OTP.Expose(), record.Hash, "plaintext must never be persisted")
	assert.NotContains(t, record.Hash, issued.OTP.Expose())

	want, err := auth.HashOTP(testPepper.Expose(), sessionID.String(), issued.OTP.Expose())
	require.NoError(t, err)
	assert.Equal(t, want, record.Hash)
}

func TestOTPManagerVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip succeeds exactly once", func(t *testing.T) {
		h := newTestHarness(t)
		sessionID := domain.GenerateSessionID()
		issued, err := h.otpMgr.Issue(ctx, sessionID)
		require.NoError(t, err)

		record, err := h.otpMgr.Verify(ctx, sessionID, issued.OTPID, issued.OTP.Expose())
		require.NoError(t, err)
		assert.True(t, record.Verified)

		_, err = h.otpMgr.Verify(ctx, sessionID, issued.OTPID, issued.OTP.Expose())
		assert.ErrorIs(t, err, domain.ErrOTPAlreadyUsed)
	})

	t.Run("wrong code", func(t *testing.T) {
		h := newTestHarness(t)
		sessionID := domain.GenerateSessionID()
		issued, err := h.otpMgr.Issue(ctx, sessionID)
		require.NoError(t, err)

		_, err = h.otpMgr.Verify(ctx, sessionID, issued.OTPID, wrongCode(issued.OTP.Expose()))
		assert.ErrorIs(t, err, domain.ErrInvalidOTP)
		assert.False(t, h.otps.only(t).Verified)
	})

	t.Run("no otp", func(t *testing.T) {
		h := newTestHarness(t)
		_, err := h.otpMgr.Verify(ctx, domain.GenerateSessionID(), domain.OTPID{}, "123456")
		assert.ErrorIs(t, err, domain.ErrNoOTPFound)

		_, err = h.otpMgr.Verify(ctx, domain.GenerateSessionID(), domain.GenerateOTPID(), "123456")
		assert.ErrorIs(t, err, domain.ErrNoOTPFound)
	})

	t.Run("expired", func(t *testing.T) {
		h := newTestHarness(t)
		sessionID := domain.GenerateSessionID()
		issued, err := h.otpMgr.Issue(ctx, sessionID)
		require.NoError(t, err)

		h.clock.Advance(domain.OTPValidityDuration + time.Second)
		_, err = h.otpMgr.Verify(ctx, sessionID, issued.OTPID, issued.OTP.Expose())
		assert.ErrorIs(t, err, domain.ErrOTPExpired)
	})

	t.Run("code from another session does not verify", func(t *testing.T) {
		h := newTestHarness(t)
		a, b := domain.GenerateSessionID(), domain.GenerateSessionID()
		issuedA, err := h.otpMgr.Issue(ctx, a)
		require.NoError(t, err)
		issuedB, err := h.otpMgr.Issue(ctx, b)
		require.NoError(t, err)
		if issuedA.OTP == issuedB.OTP {
			t.Skip("codes collided")
		}

		_, err = h.otpMgr.Verify(ctx, b, issuedB.OTPID, issuedA.OTP.Expose())
		assert.ErrorIs(t, err, domain.ErrInvalidOTP)

		// A record belonging to another session is never considered.
		_, err = h.otpMgr.Verify(ctx, b, issuedA.OTPID, issuedA.OTP.Expose())
		assert.ErrorIs(t, err, domain.ErrNoOTPFound)
		assert.False(t, h.otps.record(t, issuedA.OTPID).Verified)
	})

	t.Run("superseded code does not verify", func(t *testing.T) {
		h := newTestHarness(t)
		sessionID := domain.GenerateSessionID()
		first, err := h.otpMgr.Issue(ctx, sessionID)
		require.NoError(t, err)
		second, err := h.otpMgr.Issue(ctx, sessionID)
		require.NoError(t, err)
		if first.OTP == second.OTP {
			t.Skip("codes collided")
		}

		_, err = h.otpMgr.Verify(ctx, sessionID, second.OTPID, first.OTP.Expose())
		assert.ErrorIs(t, err, domain.ErrInvalidOTP)
		assert.False(t, h.otps.record(t, first.OTPID).Verified)
		_, err = h.otpMgr.Verify(ctx, sessionID, second.OTPID, second.OTP.Expose())
		assert.NoError(t, err)
	})

	t.Run("concurrent correct verifies succeed once", func(t *testing.T) {
		h := newTestHarness(t)
		sessionID := domain.GenerateSessionID()
		issued, err := h.otpMgr.Issue(ctx, sessionID)
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
			used    int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.otpMgr.Verify(ctx, sessionID, issued.OTPID, issued.OTP.Expose())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case assert.ErrorIs(t, err, domain.ErrOTPAlreadyUsed):
					used++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, success)
		assert.Equal(t, 7, used)
	})
}

func TestOTPManagerDefaults(t *testing.T) {
	h := newTestHarness(t)
	assert.Equal(t, domain.OTPValidityDuration, h.otpMgr.TTL())
}

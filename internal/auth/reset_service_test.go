package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/crypto"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
)

func fixedCodes(codes ...string) func(int) (string, error) {
	var mu sync.Mutex
	return func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code, nil
	}
}

func newResetManager(t *testing.T, f *authFixture, codes ...string) *ResetManager {
	t.Helper()
	cfg := ResetConfig{Clock: f.clock.Now}
	if len(codes) > 0 {
		cfg.Codes = fixedCodes(codes...)
	}
	m, err := NewResetManager(f.svc, f.sessions, cfg)
	require.NoError(t, err)
	return m
}

func TestResetCodeIsAcceptedAtMostOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ama")
	resets := newResetManager(t, f, "A1B2C3")

	issued, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)
	require.Equal(t, "A1B2C3", issued.Code)
	require.Equal(t, f.clock.Now().Add(DefaultResetTTL), issued.ExpiresAt)

	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "ZZZZZZ")
	require.ErrorIs(t, err, ErrInvalidCode)

	requestID, err := resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "A1B2C3")
	require.NoError(t, err)
	require.Equal(t, issued.RequestID, requestID)

	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "A1B2C3")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestGeneratedCodesAreUppercaseAlphanumeric(t *testing.T) {
	f := newAuthFixture(t)
	user := f.createUser(t, "kofi")
	resets := newResetManager(t, f)

	issued, err := resets.CreateResetRequest(context.Background(), user.ID, models.ResetKindPin, models.ResetMethodSMS)
	require.NoError(t, err)
	require.Regexp(t, `^[A-Z0-9]{6}$`, issued.Code)
}

func TestVerifyAcceptsLowercaseInput(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "esi")
	resets := newResetManager(t, f, "Q7W8E9")

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPin, models.ResetMethodSMS)
	require.NoError(t, err)
	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPin, " q7w8e9 ")
	require.NoError(t, err)
}

func TestConcurrentVerificationHasOneWinner(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "yaw")
	resets := newResetManager(t, f, "K9L8M7")

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "K9L8M7"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestWrongAttemptsBurnTheRequest(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "akosua")
	resets := newResetManager(t, f, "P0O9I8")

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)

	for i := 0; i < DefaultResetMaxAttempts; i++ {
		_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "WRONG1")
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "P0O9I8")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestExpiredCodeIsRejected(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "adwoa")
	resets := newResetManager(t, f, "Z1X2C3")

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)

	f.clock.Advance(DefaultResetTTL + time.Second)
	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "Z1X2C3")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestNewRequestReplacesPreviousCode(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "nana")
	resets := newResetManager(t, f, "FIRST1", "SECND2")

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)
	_, err = resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodSMS)
	require.NoError(t, err)

	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "FIRST1")
	require.ErrorIs(t, err, ErrInvalidCode)
	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "SECND2")
	require.NoError(t, err)
}

func TestCodesAreScopedByKind(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "efua")
	resets := newResetManager(t, f, "R4T5Y6")

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPin, models.ResetMethodSMS)
	require.NoError(t, err)
	_, err = resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "R4T5Y6")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestPasswordResetStoresSecretAndRevokesSessions(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "kwabena")
	resets := newResetManager(t, f, "H7J8K9")

	issuedSession, err := f.sessions.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	_, err = resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)
	requestID, err := resets.VerifyResetCode(ctx, user.ID, models.ResetKindPassword, "H7J8K9")
	require.NoError(t, err)

	require.ErrorIs(t, resets.ResetCredentials(ctx, user.ID, models.ResetKindPassword, requestID, "short"), apperrors.ErrValidationFailed)
	require.NoError(t, resets.ResetCredentials(ctx, user.ID, models.ResetKindPassword, requestID, "correct horse battery"))

	stored, err := f.users.Load(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, crypto.VerifySecret(stored.PasswordHash, "correct horse battery"))
	require.NotNil(t, stored.CredentialsUpdatedAt)

	_, err = f.sessions.ValidateSession(ctx, issuedSession.Token)
	require.ErrorIs(t, err, ErrInvalidSession)

	err = resets.ResetCredentials(ctx, user.ID, models.ResetKindPassword, requestID, "another password")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestPinResetKeepsSessions(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ekua")
	resets := newResetManager(t, f, "B5N6M7")

	issuedSession, err := f.sessions.CreateSession(ctx, user.ID)
	require.NoError(t, err)

	_, err = resets.CreateResetRequest(ctx, user.ID, models.ResetKindPin, models.ResetMethodSMS)
	require.NoError(t, err)
	requestID, err := resets.VerifyResetCode(ctx, user.ID, models.ResetKindPin, "B5N6M7")
	require.NoError(t, err)

	require.ErrorIs(t, resets.ResetCredentials(ctx, user.ID, models.ResetKindPin, requestID, "12ab"), apperrors.ErrValidationFailed)
	require.NoError(t, resets.ResetCredentials(ctx, user.ID, models.ResetKindPin, requestID, "4821"))

	stored, err := f.users.Load(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, crypto.VerifySecret(stored.PinHash, "4821"))

	_, err = f.sessions.ValidateSession(ctx, issuedSession.Token)
	require.NoError(t, err)
}

func TestResetWithoutVerificationIsRejected(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "kobby")
	resets := newResetManager(t, f, "V1B2N3")

	issued, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)

	err = resets.ResetCredentials(ctx, user.ID, models.ResetKindPassword, issued.RequestID, "correct horse battery")
	require.ErrorIs(t, err, ErrInvalidCode)
	err = resets.ResetCredentials(ctx, user.ID, models.ResetKindPassword, "unknown", "correct horse battery")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestCreateResetRequestInputs(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "araba")
	resets := newResetManager(t, f)

	_, err := resets.CreateResetRequest(ctx, user.ID, "token", models.ResetMethodEmail)
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)
	_, err = resets.CreateResetRequest(ctx, user.ID, models.ResetKindPin, "pigeon")
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)
	_, err = resets.CreateResetRequest(ctx, "2b1c7d8e-0000-4000-8000-000000000000", models.ResetKindPin, models.ResetMethodSMS)
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestCleanupExpiredMarkers(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "fiifi")
	resets := newResetManager(t, f)

	_, err := resets.CreateResetRequest(ctx, user.ID, models.ResetKindPassword, models.ResetMethodEmail)
	require.NoError(t, err)
	_, err = resets.CreateResetRequest(ctx, user.ID, models.ResetKindPin, models.ResetMethodSMS)
	require.NoError(t, err)

	removed, err := resets.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	f.clock.Advance(DefaultResetTTL + time.Minute)
	removed, err = resets.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	n, err := resets.markers.Count(ctx, stores.Filter{})
	require.NoError(t, err)
	require.Zero(t, n)
}

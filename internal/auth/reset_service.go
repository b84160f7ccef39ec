package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/storage"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/crypto"
	apperrors "github.com/charlesng35/tandem/pkg/errors"
	"github.com/charlesng35/tandem/pkg/logger"
	"github.com/charlesng35/tandem/pkg/validator"
)

const (
	// DefaultResetTTL is how long a reset code stays valid.
	DefaultResetTTL = 15 * time.Minute
	// DefaultResetCodeLength is the number of characters in a reset code.
	DefaultResetCodeLength = 6
	// DefaultResetMaxAttempts is the number of wrong codes that burns a request.
	DefaultResetMaxAttempts = 5

	resetFlow = "reset"
)

// ErrInvalidCode is returned for every reset failure: unknown user, no request, wrong, expired,
// exhausted or already used code.
var ErrInvalidCode = apperrors.New("INVALID_CODE", "Invalid or expired code", http.StatusBadRequest)

// ResetConfig describes tunable behaviour for the ResetManager.
type ResetConfig struct {
	TTL         time.Duration
	CodeLength  int
	MaxAttempts int
	Clock       func() time.Time
	// Codes generates reset codes; crypto.GenerateCode when nil.
	Codes func(length int) (string, error)
}

// IssuedReset is handed to the delivery channel. The code is never persisted in the primary
// store, only its digest.
type IssuedReset struct {
	RequestID string    `json:"request_id"`
	Kind      string    `json:"kind"`
	Method    string    `json:"method"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResetManager runs password and PIN resets. The live request sits in the real-time store;
// the primary marker arbitrates single use through conditional updates.
type ResetManager struct {
	requests *storage.Collection[models.ResetRequest, *models.ResetRequest]
	markers  *storage.Collection[models.ResetMarker, *models.ResetMarker]
	users    *storage.Collection[models.User, *models.User]
	sessions *SessionManager

	ttl         time.Duration
	codeLength  int
	maxAttempts int
	codes       func(length int) (string, error)
	now         func() time.Time
	log         *zap.Logger
}

// NewResetManager binds the manager to the storage facade. sessions is used to revoke every
// session after a password reset.
func NewResetManager(svc *storage.Service, sessions *SessionManager, cfg ResetConfig) (*ResetManager, error) {
	if svc == nil {
		return nil, errors.New("reset manager: storage service is required")
	}
	if sessions == nil {
		return nil, errors.New("reset manager: session manager is required")
	}

	requests, err := storage.For[models.ResetRequest](svc, models.EntityResetRequest)
	if err != nil {
		return nil, fmt.Errorf("reset manager: %w", err)
	}
	markers, err := storage.For[models.ResetMarker](svc, models.EntityResetMarker)
	if err != nil {
		return nil, fmt.Errorf("reset manager: %w", err)
	}
	users, err := storage.For[models.User](svc, models.EntityUser)
	if err != nil {
		return nil, fmt.Errorf("reset manager: %w", err)
	}

	m := &ResetManager{
		requests:    requests,
		markers:     markers,
		users:       users,
		sessions:    sessions,
		ttl:         cfg.TTL,
		codeLength:  cfg.CodeLength,
		maxAttempts: cfg.MaxAttempts,
		codes:       cfg.Codes,
		now:         cfg.Clock,
		log:         logger.WithModule("auth.reset"),
	}
	if m.ttl <= 0 {
		m.ttl = DefaultResetTTL
	}
	if m.codeLength <= 0 {
		m.codeLength = DefaultResetCodeLength
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultResetMaxAttempts
	}
	if m.codes == nil {
		m.codes = crypto.GenerateCode
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// CreateResetRequest issues a code for userID, replacing any live request of the same kind.
func (m *ResetManager) CreateResetRequest(ctx context.Context, userID, kind, method string) (*IssuedReset, error) {
	if err := validator.ValidateVar(kind, "required,oneof=password pin"); err != nil {
		return nil, apperrors.NewValidation("kind must be password or pin", err)
	}
	if err := validator.ValidateVar(method, "required,oneof=email sms"); err != nil {
		return nil, apperrors.NewValidation("method must be email or sms", err)
	}

	user, err := m.users.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}

	code, err := m.codes(m.codeLength)
	if err != nil {
		return nil, fmt.Errorf("reset manager: generate code: %w", err)
	}
	code = strings.ToUpper(code)
	expires := m.now().UTC().Add(m.ttl)

	marker := &models.ResetMarker{
		UserID:     user.ID,
		Kind:       kind,
		Method:     method,
		CodeDigest: crypto.Digest(code),
		ExpiresAt:  expires,
	}
	if err := m.markers.Create(ctx, marker); err != nil {
		return nil, err
	}

	key := models.ResetKey(user.ID, kind)
	if err := m.requests.Delete(ctx, key); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	request := &models.ResetRequest{
		UserID:    user.ID,
		Kind:      kind,
		Method:    method,
		Code:      code,
		ExpiresAt: expires,
	}
	request.ID = marker.ID
	if err := m.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	m.log.Info("reset code issued",
		zap.String("user_id", user.ID),
		zap.String("kind", kind),
		zap.String("method", method),
	)
	return &IssuedReset{RequestID: marker.ID, Kind: kind, Method: method, Code: code, ExpiresAt: expires}, nil
}

// VerifyResetCode accepts a code at most once and returns the request id that authorises
// ResetCredentials. Wrong codes count against the request.
func (m *ResetManager) VerifyResetCode(ctx context.Context, userID, kind, code string) (string, error) {
	requestID, err := m.verify(ctx, strings.TrimSpace(userID), kind, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		monitoring.RecordAuthAttempt(resetFlow, "failure")
		return "", err
	}
	monitoring.RecordAuthAttempt(resetFlow, "verified")
	return requestID, nil
}

func (m *ResetManager) verify(ctx context.Context, userID, kind, code string) (string, error) {
	if userID == "" || code == "" {
		return "", ErrInvalidCode
	}
	key := models.ResetKey(userID, kind)
	request, err := m.requests.Get(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", ErrInvalidCode
		}
		return "", err
	}

	now := m.now().UTC()
	if request.Used || request.Attempts >= m.maxAttempts || !now.Before(request.ExpiresAt) {
		return "", ErrInvalidCode
	}

	if !crypto.EqualConstantTime(code, request.Code) {
		_, err := m.requests.UpdateFunc(ctx, key, func(r *models.ResetRequest) error {
			r.Attempts++
			if r.Attempts >= m.maxAttempts {
				r.Used = true
			}
			return nil
		})
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			m.log.Warn("failed to record reset attempt", zap.String("user_id", userID), zap.Error(err))
		}
		return "", ErrInvalidCode
	}

	won, err := m.markers.UpdateIf(ctx, request.ID, stores.Condition{
		Equals: map[string]any{"user_id": userID, "kind": kind, "code_digest": crypto.Digest(code)},
		IsNull: []string{"used_at"},
		After:  map[string]any{"expires_at": now},
	}, map[string]any{"used_at": now})
	if err != nil {
		return "", err
	}
	if !won {
		return "", ErrInvalidCode
	}

	if _, err := m.requests.UpdateFunc(ctx, key, func(r *models.ResetRequest) error {
		r.Used = true
		return nil
	}); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		m.log.Warn("failed to mark reset request used", zap.String("user_id", userID), zap.Error(err))
	}
	return request.ID, nil
}

// ResetCredentials stores the new secret once per verified request. A password reset revokes
// every session of the user.
func (m *ResetManager) ResetCredentials(ctx context.Context, userID, kind, requestID, secret string) error {
	userID = strings.TrimSpace(userID)
	requestID = strings.TrimSpace(requestID)
	if userID == "" || requestID == "" {
		return ErrInvalidCode
	}

	switch kind {
	case models.ResetKindPassword:
		if err := validator.ValidateVar(secret, "required,min=8,max=72"); err != nil {
			return apperrors.NewValidation("password must be 8 to 72 characters", err)
		}
	case models.ResetKindPin:
		if err := validator.ValidateVar(secret, "required,pin"); err != nil {
			return apperrors.NewValidation("pin must be 4 to 6 digits", err)
		}
	default:
		return ErrInvalidCode
	}

	hash, err := crypto.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("reset manager: hash secret: %w", err)
	}

	now := m.now().UTC()
	won, err := m.markers.UpdateIf(ctx, requestID, stores.Condition{
		Equals:  map[string]any{"user_id": userID, "kind": kind},
		NotNull: []string{"used_at"},
		IsNull:  []string{"completed_at"},
		After:   map[string]any{"expires_at": now},
	}, map[string]any{"completed_at": now})
	if err != nil {
		return err
	}
	if !won {
		monitoring.RecordAuthAttempt(resetFlow, "failure")
		return ErrInvalidCode
	}

	_, err = m.users.UpdateFunc(ctx, userID, func(u *models.User) error {
		if kind == models.ResetKindPassword {
			u.PasswordHash = hash
		} else {
			u.PinHash = hash
		}
		u.CredentialsUpdatedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.requests.Delete(ctx, models.ResetKey(userID, kind)); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		m.log.Warn("failed to drop reset request", zap.String("user_id", userID), zap.Error(err))
	}

	if kind == models.ResetKindPassword {
		if _, err := m.sessions.RevokeUserSessions(ctx, userID); err != nil {
			m.log.Warn("failed to revoke sessions after password reset", zap.String("user_id", userID), zap.Error(err))
		}
	}

	monitoring.RecordAuthAttempt(resetFlow, "completed")
	m.log.Info("credentials reset", zap.String("user_id", userID), zap.String("kind", kind))
	return nil
}

// CleanupExpired deletes markers whose window has passed. Live requests expire on their own
// in the real-time store.
func (m *ResetManager) CleanupExpired(ctx context.Context) (int64, error) {
	filter := stores.Filter{
		Before:  map[string]time.Time{"expires_at": m.now().UTC()},
		Limit:   sweepBatch,
		OrderBy: "id",
	}

	var removed int64
	for {
		batch, err := m.markers.List(ctx, filter)
		if err != nil {
			return removed, err
		}
		for i := range batch {
			if err := m.markers.Delete(ctx, batch[i].ID); err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					continue
				}
				return removed, err
			}
			removed++
		}
		if len(batch) < sweepBatch {
			break
		}
	}

	m.log.Info("expired reset markers swept", zap.Int64("count", removed))
	return removed, nil
}

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
)

const (
	// DefaultStandardTTL is the lifetime of a standard session.
	DefaultStandardTTL = 7 * 24 * time.Hour
	// DefaultShortTTL is the lifetime of a short session.
	DefaultShortTTL = 30 * time.Minute

	defaultTokenBytes = 32
	touchInterval     = time.Minute
	sweepBatch        = 200
)

// ErrInvalidSession is returned for every session failure so callers cannot tell a missing
// session from an expired or revoked one.
var ErrInvalidSession = apperrors.New("INVALID_SESSION", "Invalid or expired session", http.StatusUnauthorized)

// SessionConfig describes tunable behaviour for the SessionManager.
type SessionConfig struct {
	StandardTTL time.Duration
	ShortTTL    time.Duration
	TokenBytes  int
	Clock       func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionOption customises a session at creation.
type SessionOption func(*sessionRequest)

type sessionRequest struct {
	flow string
	meta SessionMetadata
}

// WithShortFlow issues a short-lived session.
func WithShortFlow() SessionOption {
	return func(r *sessionRequest) {
		r.flow = models.SessionFlowShort
	}
}

// WithMetadata records client details on the session.
func WithMetadata(meta SessionMetadata) SessionOption {
	return func(r *sessionRequest) {
		r.meta = meta
	}
}

// IssuedSession carries the opaque token. The token is returned once and only its digest is
// stored.
type IssuedSession struct {
	Token   string          `json:"token"`
	Session *models.Session `json:"session"`
}

// SessionManager issues and validates opaque session tokens. The primary session row is the
// only authority; the real-time mirror serves non-authoritative peeks.
type SessionManager struct {
	sessions *storage.Collection[models.Session, *models.Session]
	mirrors  *storage.Collection[models.SessionMirror, *models.SessionMirror]
	users    *storage.Collection[models.User, *models.User]

	standardTTL time.Duration
	shortTTL    time.Duration
	tokenBytes  int
	now         func() time.Time
	log         *zap.Logger
}

// NewSessionManager binds the manager to the storage facade.
func NewSessionManager(svc *storage.Service, cfg SessionConfig) (*SessionManager, error) {
	if svc == nil {
		return nil, errors.New("session manager: storage service is required")
	}

	sessions, err := storage.For[models.Session](svc, models.EntitySession)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}
	mirrors, err := storage.For[models.SessionMirror](svc, models.EntitySessionMirror)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}
	users, err := storage.For[models.User](svc, models.EntityUser)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	m := &SessionManager{
		sessions:    sessions,
		mirrors:     mirrors,
		users:       users,
		standardTTL: cfg.StandardTTL,
		shortTTL:    cfg.ShortTTL,
		tokenBytes:  cfg.TokenBytes,
		now:         cfg.Clock,
		log:         logger.WithModule("auth.sessions"),
	}
	if m.standardTTL <= 0 {
		m.standardTTL = DefaultStandardTTL
	}
	if m.shortTTL <= 0 {
		m.shortTTL = DefaultShortTTL
	}
	if m.tokenBytes <= 0 {
		m.tokenBytes = defaultTokenBytes
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// CreateSession issues a session for an active user.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, opts ...SessionOption) (*IssuedSession, error) {
	req := sessionRequest{flow: models.SessionFlowStandard}
	for _, opt := range opts {
		opt(&req)
	}

	user, err := m.users.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.ErrUnauthorized.WithMessage("Account is disabled")
	}

	token, err := crypto.GenerateToken(m.tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("session manager: generate token: %w", err)
	}

	ttl := m.standardTTL
	if req.flow == models.SessionFlowShort {
		ttl = m.shortTTL
	}
	now := m.now().UTC()

	session := &models.Session{
		UserID:     user.ID,
		TokenHash:  crypto.Digest(token),
		Flow:       req.flow,
		IPAddress:  strings.TrimSpace(req.meta.IPAddress),
		UserAgent:  strings.TrimSpace(req.meta.UserAgent),
		ExpiresAt:  now.Add(ttl),
		LastUsedAt: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	mirror := &models.SessionMirror{
		TokenHash: session.TokenHash,
		UserID:    session.UserID,
		Flow:      session.Flow,
		ExpiresAt: session.ExpiresAt,
	}
	if err := m.mirrors.Create(ctx, mirror); err != nil {
		m.log.Warn("failed to mirror session", zap.String("session_id", session.ID), zap.Error(err))
	}

	monitoring.AdjustActiveSessions(1)
	monitoring.RecordAuthAttempt(req.flow, "issued")
	return &IssuedSession{Token: token, Session: session}, nil
}

// ValidateSession resolves a token to its user against the primary store only.
func (m *SessionManager) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	session, err := m.find(ctx, token)
	if err != nil {
		monitoring.RecordAuthAttempt("validate", "failure")
		return nil, err
	}

	user, err := m.users.Get(ctx, session.UserID)
	if err != nil || !user.IsActive {
		monitoring.RecordAuthAttempt(session.Flow, "failure")
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, ErrInvalidSession
	}

	now := m.now().UTC()
	if now.Sub(session.LastUsedAt) >= touchInterval {
		_, err := m.sessions.UpdateFunc(ctx, session.ID, func(s *models.Session) error {
			s.LastUsedAt = now
			return nil
		})
		if err != nil {
			m.log.Warn("failed to refresh session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	monitoring.RecordAuthAttempt(session.Flow, "success")
	return user, nil
}

// Peek reads the real-time mirror of a session. It may lag revocation and must not be used
// for authorization.
func (m *SessionManager) Peek(ctx context.Context, token string) (*models.SessionMirror, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	mirror, err := m.mirrors.Get(ctx, crypto.Digest(token))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !m.now().Before(mirror.ExpiresAt) {
		return nil, ErrInvalidSession
	}
	return mirror, nil
}

// Logout revokes the session a token belongs to.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	session, err := m.find(ctx, token)
	if err != nil {
		return err
	}
	return m.RevokeSession(ctx, session.ID)
}

// RevokeSession deletes a session and its mirror.
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID string) error {
	session, err := m.sessions.Load(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return ErrInvalidSession
		}
		return err
	}
	if err := m.remove(ctx, session); err != nil {
		return err
	}
	monitoring.AdjustActiveSessions(-1)
	return nil
}

// RevokeUserSessions deletes every session of a user and reports how many were removed.
func (m *SessionManager) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrInvalidSession
	}

	removed, err := m.sweep(ctx, stores.Filter{Where: map[string]any{"user_id": userID}})
	if removed > 0 {
		monitoring.AdjustActiveSessions(-removed)
		m.log.Info("revoked user sessions", zap.String("user_id", userID), zap.Int64("count", removed))
	}
	return removed, err
}

// CleanupExpired deletes expired sessions from the primary store and their mirrors.
func (m *SessionManager) CleanupExpired(ctx context.Context) (int64, error) {
	now := m.now().UTC()
	removed, err := m.sweep(ctx, stores.Filter{Before: map[string]time.Time{"expires_at": now}})
	if removed > 0 {
		monitoring.AdjustActiveSessions(-removed)
	}
	m.log.Info("expired sessions swept", zap.Int64("count", removed))
	return removed, err
}

func (m *SessionManager) sweep(ctx context.Context, filter stores.Filter) (int64, error) {
	filter.Limit = sweepBatch
	filter.OrderBy = "id"

	var removed int64
	for {
		batch, err := m.sessions.List(ctx, filter)
		if err != nil {
			return removed, err
		}
		for i := range batch {
			session, err := m.sessions.Load(ctx, batch[i].ID)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return removed, err
			}
			if err := m.remove(ctx, session); err != nil {
				if errors.Is(err, ErrInvalidSession) {
					continue
				}
				return removed, err
			}
			removed++
		}
		if len(batch) < sweepBatch {
			return removed, nil
		}
	}
}

func (m *SessionManager) remove(ctx context.Context, session *models.Session) error {
	if err := m.sessions.Delete(ctx, session.ID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return ErrInvalidSession
		}
		return err
	}
	if session.TokenHash == "" {
		return nil
	}
	if err := m.mirrors.Delete(ctx, session.TokenHash); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		m.log.Warn("failed to remove session mirror", zap.String("session_id", session.ID), zap.Error(err))
	}
	return nil
}

// find resolves a live session by token against the primary store.
func (m *SessionManager) find(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}

	matches, err := m.sessions.List(ctx, stores.Filter{
		Where: map[string]any{"token_hash": crypto.Digest(token)},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrInvalidSession
	}

	session := matches[0]
	if !m.now().Before(session.ExpiresAt) {
		return nil, ErrInvalidSession
	}
	return &session, nil
}

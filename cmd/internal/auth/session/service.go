package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"relay/cmd/identity"
	"relay/cmd/security/token"
)

// Service implements the high-level session flows used by HTTP.
//
// It issues token pairs on login, rotates them on refresh with replay detection,
// and revokes sessions on logout.
type Service struct {
	cfg     Config
	store   Store
	tokens  TokenIssuer
	users   identity.Directory
	hasher  token.Hasher
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Pair is the result of issuing or rotating a session.
type Pair struct {
	SessionID    string
	UserID       string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Device describes the client presenting credentials.
type Device struct {
	Fingerprint string
	UserAgent   string
	IP          net.IP
}

// LoginInput is the login request after transport decoding.
type LoginInput struct {
	Email    string
	Password string
	Device   Device
}

// RefreshInput is the refresh request after transport decoding.
type RefreshInput struct {
	AccessToken  string
	RefreshToken string
	Device       Device
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics attaches counters.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens TokenIssuer, users identity.Directory, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || users == nil {
		return nil, ErrConfig
	}
	if cfg.RefreshTTL <= 0 || cfg.SessionCap < 1 {
		return nil, ErrConfig
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
		users:  users,
		hasher: token.NewHasher(cfg.TokenHMACKey),
		log:    slog.New(slog.DiscardHandler),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Tokens returns the issuer used by the service, for bearer guards.
func (s *Service) Tokens() TokenIssuer { return s.tokens }

// Login checks credentials and creates a new session for the device.
// Unknown email and wrong password both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (Pair, error) {
	pair, err := s.login(ctx, in)
	s.metrics.login(outcomeOf(err))
	return pair, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (Pair, error) {
	u, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil && !identity.IsNotFound(err) && !identity.IsInvalidInput(err) {
		return Pair{}, err
	}
	found := err == nil

	// A miss still runs the password check so both paths cost the same.
	ok, err := s.users.CheckPassword(ctx, u, in.Password)
	if err != nil {
		return Pair{}, err
	}
	if !found || !ok {
		s.log.Info("session.login.denied", "reason", "invalid_credentials")
		return Pair{}, ErrInvalidCredentials
	}
	if !s.users.IsEmailConfirmed(u) {
		s.log.Info("session.login.denied", "reason", "email_not_confirmed", "user_id", u.ID)
		return Pair{}, ErrEmailNotConfirmed
	}

	return s.IssueForUser(ctx, u, in.Device)
}

// IssueForUser creates a session for an already-authenticated user, enforcing the cap.
func (s *Service) IssueForUser(ctx context.Context, u identity.User, dev Device) (Pair, error) {
	now := s.now()

	refreshPlain, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return Pair{}, err
	}

	sess, err := s.store.CreateSession(ctx, NewSession{
		UserID:           u.ID,
		RefreshTokenHash: s.hasher.Hash(refreshPlain),
		Fingerprint:      strings.TrimSpace(dev.Fingerprint),
		UserAgent:        dev.UserAgent,
		IP:               dev.IP,
		TTL:              s.cfg.RefreshTTL,
		Now:              now,
		Cap:              s.cfg.SessionCap,
	})
	if err != nil {
		return Pair{}, err
	}

	access, accessExp, err := s.tokens.IssueAccessToken(u.ID, u.Email, string(u.Role), now)
	if err != nil {
		return Pair{}, err
	}

	s.log.Info("session.created", "user_id", u.ID, "session_id", sess.ID)
	return Pair{
		SessionID:    sess.ID,
		UserID:       u.ID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refreshPlain,
		RefreshExp:   sess.ExpiresAt,
	}, nil
}

// Refresh rotates the device's refresh token and issues a new pair.
//
// The access token may be expired but must verify. The session must belong to the
// token's subject and carry the presented fingerprint.
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (Pair, error) {
	pair, err := s.refresh(ctx, in)
	s.metrics.refresh(outcomeOf(err))
	return pair, err
}

func (s *Service) refresh(ctx context.Context, in RefreshInput) (Pair, error) {
	claims, err := s.tokens.ValidateExpiredAccessToken(in.AccessToken)
	if err != nil {
		return Pair{}, err
	}

	refreshPlain := strings.TrimSpace(in.RefreshToken)
	if refreshPlain == "" || len(refreshPlain) > 4096 {
		return Pair{}, ErrSessionNotFound
	}
	oldHash := s.hasher.Hash(refreshPlain)

	sess, err := s.store.FindByToken(ctx, oldHash)
	if errors.Is(err, ErrSessionNotFound) {
		return Pair{}, s.checkReplay(ctx, oldHash, claims.UserID)
	}
	if err != nil {
		return Pair{}, err
	}

	if sess.UserID != claims.UserID || sess.Fingerprint != strings.TrimSpace(in.Device.Fingerprint) {
		s.log.Warn("session.refresh.mismatch", "session_id", sess.ID, "user_id", claims.UserID)
		return Pair{}, ErrTokenMismatch
	}

	// Claims in the lapsed token may be stale; the directory is authoritative.
	u, err := s.users.FindByID(ctx, claims.UserID)
	if identity.IsNotFound(err) {
		s.log.Warn("session.refresh.user_gone", "session_id", sess.ID, "user_id", claims.UserID)
		if err := s.store.RevokeByID(ctx, sess.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return Pair{}, err
		}
		return Pair{}, ErrSessionNotFound
	}
	if err != nil {
		return Pair{}, err
	}

	now := s.now()
	newPlain, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return Pair{}, err
	}

	rotated, err := s.store.RotateSession(ctx, Rotation{
		OldTokenHash: oldHash,
		NewTokenHash: s.hasher.Hash(newPlain),
		TTL:          s.cfg.RefreshTTL,
		UserAgent:    in.Device.UserAgent,
		IP:           in.Device.IP,
		Now:          now,
	})
	if errors.Is(err, ErrReplayDetected) {
		// Lost a concurrent rotation race for the same token; the winner keeps the session.
		s.metrics.replay()
		s.log.Warn("session.refresh.race_lost", "session_id", sess.ID, "user_id", sess.UserID)
		return Pair{}, err
	}
	if err != nil {
		return Pair{}, err
	}

	access, accessExp, err := s.tokens.IssueAccessToken(u.ID, u.Email, string(u.Role), now)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		SessionID:    rotated.ID,
		UserID:       rotated.UserID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: newPlain,
		RefreshExp:   rotated.ExpiresAt,
	}, nil
}

// checkReplay classifies a refresh token that matches no current session.
// A hit on a previous token means it was already rotated away.
func (s *Service) checkReplay(ctx context.Context, oldHash, userID string) error {
	prev, err := s.store.FindByPreviousToken(ctx, oldHash)
	if errors.Is(err, ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	s.metrics.replay()
	s.log.Warn("session.refresh.replay", "session_id", prev.ID, "user_id", prev.UserID, "claimed_user_id", userID)

	if s.cfg.RevokeOnReplay {
		if err := s.store.RevokeByID(ctx, prev.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.log.Error("session.refresh.replay_revoke.fail", "session_id", prev.ID, "err", err)
		}
	}
	return ErrReplayDetected
}

// Logout deletes the session holding refreshToken. An unknown token is treated
// as already logged out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	err := s.store.RevokeSession(ctx, s.hasher.Hash(refreshToken))
	if errors.Is(err, ErrSessionNotFound) {
		s.log.Debug("session.logout.absent")
		return nil
	}
	return err
}

// LogoutAll deletes every session of userID.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info("session.logout_all", "user_id", userID, "revoked", n)
	return n, nil
}

// Devices lists the user's live sessions, newest first.
func (s *Service) Devices(ctx context.Context, userID string) ([]Session, error) {
	return s.store.ListByUser(ctx, userID, s.now())
}

// Authenticate validates a bearer access token at the current time.
func (s *Service) Authenticate(tok string) (AccessClaims, error) {
	return s.tokens.ValidateAccessToken(tok, s.now())
}

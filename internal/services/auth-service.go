package services

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/dto"
	"github.com/studyflow/auth_service/internal/helper"
	"github.com/studyflow/auth_service/internal/helper/utils"
	"github.com/studyflow/auth_service/internal/interfaces"
	"github.com/studyflow/auth_service/internal/repository"
)

// oneTimeTokenTTL is the uniform validity window for both verification
// and reset tokens, checked at consumption time.
const oneTimeTokenTTL = 24 * time.Hour

const refreshTokenBytes = 32

type AuthService interface {
	Register(input dto.RegisterRequest) (*domain.User, error)
	Login(input dto.LoginRequest) (*domain.User, *SessionTokens, error)
	Refresh(refreshToken string) (*domain.User, *SessionTokens, error)
	Logout(refreshToken string) error
	VerifyEmail(token string) error
	ResendVerification(email string) error
	ForgotPassword(email string) error
	ResetPassword(input dto.ResetPasswordRequest) error
	GetUser(userID uint) (*domain.User, error)
	DeleteAccount(userID uint) error
}

// SessionTokens is one freshly minted access/refresh pair.
type SessionTokens struct {
	Access           string
	AccessTTL        time.Duration
	Refresh          string
	RefreshExpiresAt time.Time
}

type authService struct {
	users    repository.UserRepository
	refresh  repository.RefreshTokenRepository
	onetime  repository.OneTimeTokenRepository
	audit    repository.AuditLogRepository
	producer interfaces.ProducerHandler
	auth     helper.Auth

	refreshTTL       time.Duration
	maxActiveRefresh int
}

func NewAuthService(
	users repository.UserRepository,
	refresh repository.RefreshTokenRepository,
	onetime repository.OneTimeTokenRepository,
	audit repository.AuditLogRepository,
	producer interfaces.ProducerHandler,
	auth helper.Auth,
	refreshTTL time.Duration,
	maxActiveRefresh int,
) AuthService {
	return &authService{
		users:            users,
		refresh:          refresh,
		onetime:          onetime,
		audit:            audit,
		producer:         producer,
		auth:             auth,
		refreshTTL:       refreshTTL,
		maxActiveRefresh: maxActiveRefresh,
	}
}

func (s *authService) Register(input dto.RegisterRequest) (*domain.User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	name := strings.TrimSpace(input.Name)
	password := input.Password

	if email == "" || password == "" || name == "" {
		return nil, domain.ErrInvalidInput
	}
	if len(password) < 6 {
		return nil, domain.ErrInvalidInput
	}

	hashed, err := helper.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(&domain.User{
		Email:        email,
		PasswordHash: hashed,
		Name:         name,
		Role:         domain.RoleUser,
	})
	if err != nil {
		return nil, err
	}

	if err := s.issueVerification(user); err != nil {
		// the account exists; verification can be re-requested later
		log.Printf("issue verification for user %d failed: %v", user.ID, err)
	}

	s.recordAudit(user.ID, "USER_REGISTER", "user", user.ID)
	return user, nil
}

func (s *authService) Login(input dto.LoginRequest) (*domain.User, *SessionTokens, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	password := input.Password

	if email == "" || password == "" {
		return nil, nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.FindUserByEmail(email)
	if err != nil {
		// unknown email and wrong password are indistinguishable on the wire
		return nil, nil, domain.ErrInvalidCredentials
	}

	if err := s.auth.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, nil, domain.ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, nil, domain.ErrEmailNotVerified
	}

	tokens, err := s.issueSession(user)
	if err != nil {
		return nil, nil, err
	}

	s.recordAudit(user.ID, "USER_LOGIN", "user", user.ID)
	return user, tokens, nil
}

func (s *authService) Refresh(refreshToken string) (*domain.User, *SessionTokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, nil, domain.ErrInvalidRefresh
	}

	rotated, err := s.refresh.Rotate(refreshToken, time.Now())
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.FindUserByID(rotated.UserID)
	if err != nil {
		return nil, nil, domain.ErrInvalidRefresh
	}

	tokens, err := s.issueSession(user)
	if err != nil {
		return nil, nil, err
	}

	s.recordAudit(user.ID, "TOKEN_REFRESH", "refresh_token", user.ID)
	return user, tokens, nil
}

// Logout revokes the presented refresh token. It never fails toward the
// caller: revoking an unknown or already-revoked token is a no-op, and
// outstanding access tokens simply run out their expiry.
func (s *authService) Logout(refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.refresh.Revoke(refreshToken, time.Now())
}

func (s *authService) VerifyEmail(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ErrInvalidToken
	}

	// spending the token and flipping the flag commit together; a
	// failed flag write leaves the token spendable for a retry
	userID, err := s.onetime.ConsumeVerification(utils.Sha256Hex(token), oneTimeTokenTTL, time.Now())
	if err != nil {
		return err
	}

	s.recordAudit(userID, "EMAIL_VERIFY", "user", userID)
	return nil
}

// ResendVerification always reports success to the caller so account
// existence does not leak.
func (s *authService) ResendVerification(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.users.FindUserByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if user.EmailVerified {
		return nil
	}

	return s.issueVerification(user)
}

// ForgotPassword has the same non-leaking contract as ResendVerification.
func (s *authService) ForgotPassword(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.users.FindUserByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	plain, err := utils.RandomToken(refreshTokenBytes)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.onetime.CreateReset(user.ID, utils.Sha256Hex(plain), now); err != nil {
		return err
	}

	s.publishMailEvent(dto.EventResetPassword, user, plain, now.Add(oneTimeTokenTTL))
	return nil
}

// ResetPassword consumes the token and updates the hash. It does not
// log the user in.
func (s *authService) ResetPassword(input dto.ResetPasswordRequest) error {
	token := strings.TrimSpace(input.Token)
	password := input.Password

	if token == "" || len(password) < 6 {
		return domain.ErrInvalidInput
	}

	hashed, err := helper.HashPassword(password)
	if err != nil {
		return err
	}

	userID, err := s.onetime.ConsumeReset(utils.Sha256Hex(token), hashed, oneTimeTokenTTL, time.Now())
	if err != nil {
		return err
	}

	s.recordAudit(userID, "PASSWORD_RESET", "user", userID)
	return nil
}

func (s *authService) GetUser(userID uint) (*domain.User, error) {
	if userID == 0 {
		return nil, domain.ErrNotFound
	}
	return s.users.FindUserByID(userID)
}

func (s *authService) DeleteAccount(userID uint) error {
	if userID == 0 {
		return domain.ErrNotFound
	}
	if err := s.users.DeleteUser(userID); err != nil {
		return err
	}
	s.recordAudit(userID, "ACCOUNT_DELETE", "user", userID)
	return nil
}

// issueSession mints an access/refresh pair and enforces the per-user
// active refresh token cap.
func (s *authService) issueSession(user *domain.User) (*SessionTokens, error) {
	access, err := s.auth.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refresh, err := utils.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expires := now.Add(s.refreshTTL)

	if err := s.refresh.Create(&domain.RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: expires,
	}); err != nil {
		return nil, err
	}

	// a stale count only means a briefly higher active total, never a
	// correctness violation
	if err := s.refresh.PruneExcess(user.ID, s.maxActiveRefresh, now); err != nil {
		log.Printf("prune refresh tokens for user %d failed: %v", user.ID, err)
	}

	return &SessionTokens{
		Access:           access,
		AccessTTL:        s.auth.AccessTTL,
		Refresh:          refresh,
		RefreshExpiresAt: expires,
	}, nil
}

func (s *authService) issueVerification(user *domain.User) error {
	plain, err := utils.RandomToken(refreshTokenBytes)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.onetime.CreateVerification(user.ID, utils.Sha256Hex(plain), now); err != nil {
		return err
	}

	s.publishMailEvent(dto.EventVerifyEmail, user, plain, now.Add(oneTimeTokenTTL))
	return nil
}

func (s *authService) publishMailEvent(key string, user *domain.User, token string, expires time.Time) {
	if s.producer == nil {
		return
	}

	payload, err := json.Marshal(dto.MailTokenEvent{
		EventID:   uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresAt: expires.Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("marshal mail event error: %v", err)
		return
	}

	if err := s.producer.PublishMessage([]byte(key), payload); err != nil {
		log.Printf("publish %s for user %d failed: %v", key, user.ID, err)
	}
}

// recordAudit is best-effort; a failed audit write never blocks the request.
func (s *authService) recordAudit(actorID uint, action, entity string, entityID uint) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(&domain.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
	})
}

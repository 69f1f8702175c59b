package services

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/dto"
	"github.com/studyflow/auth_service/internal/helper"
	"github.com/studyflow/auth_service/internal/helper/utils"
)

// ---------- in-memory fakes ----------

var errStorageDown = errors.New("storage down")

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*domain.User{}}
}

func (f *fakeUserRepo) CreateUser(user *domain.User) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !domain.ValidRole(user.Role) {
		return nil, domain.ErrInvalidRole
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return nil, domain.ErrEmailTaken
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now()
	cp := *user
	f.users[user.ID] = &cp
	return user, nil
}

func (f *fakeUserRepo) FindUserByEmail(email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserRepo) FindUserByID(userID uint) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) markVerified(userID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.EmailVerified = true
	}
}

func (f *fakeUserRepo) updatePasswordHash(userID uint, hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.PasswordHash = hash
	}
}

func (f *fakeUserRepo) DeleteUser(userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	return nil
}

type refreshRow struct {
	domain.RefreshToken
	seq int
}

type fakeRefreshRepo struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]*refreshRow
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*refreshRow{}}
}

func (f *fakeRefreshRepo) Create(token *domain.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.tokens[token.Token] = &refreshRow{RefreshToken: *token, seq: f.seq}
	return nil
}

func (f *fakeRefreshRepo) Rotate(token string, now time.Time) (*domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.tokens[token]
	if !ok || !row.Active(now) {
		return nil, domain.ErrInvalidRefresh
	}
	row.RevokedAt = &now
	cp := row.RefreshToken
	return &cp, nil
}

func (f *fakeRefreshRepo) Revoke(token string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.tokens[token]; ok && row.RevokedAt == nil {
		row.RevokedAt = &now
	}
	return nil
}

func (f *fakeRefreshRepo) PruneExcess(userID uint, keep int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []*refreshRow
	for _, row := range f.tokens {
		if row.UserID == userID && row.Active(now) {
			active = append(active, row)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].seq > active[j].seq })
	for i := keep; i < len(active); i++ {
		ts := now
		active[i].RevokedAt = &ts
	}
	return nil
}

func (f *fakeRefreshRepo) activeCount(userID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.tokens {
		if row.UserID == userID && row.Active(time.Now()) {
			n++
		}
	}
	return n
}

func (f *fakeRefreshRepo) isActive(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.tokens[token]
	return ok && row.Active(time.Now())
}

type oneTimeRow struct {
	userID    uint
	createdAt time.Time
	usedAt    *time.Time
}

// fakeOneTimeRepo mirrors the repository's transactional contract:
// spending a token and the user mutation it authorizes either both
// happen or neither does. failNextUserWrite injects a storage failure
// on the user half, leaving the token unspent.
type fakeOneTimeRepo struct {
	mu                sync.Mutex
	users             *fakeUserRepo
	verifications     map[string]*oneTimeRow
	resets            map[string]*oneTimeRow
	failNextUserWrite bool
}

func newFakeOneTimeRepo(users *fakeUserRepo) *fakeOneTimeRepo {
	return &fakeOneTimeRepo{
		users:         users,
		verifications: map[string]*oneTimeRow{},
		resets:        map[string]*oneTimeRow{},
	}
}

func createOneTime(rows map[string]*oneTimeRow, userID uint, hash string, now time.Time) {
	for _, row := range rows {
		if row.userID == userID && row.usedAt == nil {
			ts := now
			row.usedAt = &ts
		}
	}
	rows[hash] = &oneTimeRow{userID: userID, createdAt: now}
}

func spendableOneTime(rows map[string]*oneTimeRow, hash string, maxAge time.Duration, now time.Time) (*oneTimeRow, error) {
	row, ok := rows[hash]
	if !ok || row.usedAt != nil || !row.createdAt.After(now.Add(-maxAge)) {
		return nil, domain.ErrInvalidToken
	}
	return row, nil
}

func (f *fakeOneTimeRepo) CreateVerification(userID uint, tokenHash string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	createOneTime(f.verifications, userID, tokenHash, now)
	return nil
}

func (f *fakeOneTimeRepo) ConsumeVerification(tokenHash string, maxAge time.Duration, now time.Time) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := spendableOneTime(f.verifications, tokenHash, maxAge, now)
	if err != nil {
		return 0, err
	}
	if f.failNextUserWrite {
		f.failNextUserWrite = false
		return 0, errStorageDown
	}
	f.users.markVerified(row.userID)
	ts := now
	row.usedAt = &ts
	return row.userID, nil
}

func (f *fakeOneTimeRepo) CreateReset(userID uint, tokenHash string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	createOneTime(f.resets, userID, tokenHash, now)
	return nil
}

func (f *fakeOneTimeRepo) ConsumeReset(tokenHash string, newHash string, maxAge time.Duration, now time.Time) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, err := spendableOneTime(f.resets, tokenHash, maxAge, now)
	if err != nil {
		return 0, err
	}
	if f.failNextUserWrite {
		f.failNextUserWrite = false
		return 0, errStorageDown
	}
	f.users.updatePasswordHash(row.userID, newHash)
	ts := now
	row.usedAt = &ts
	return row.userID, nil
}

func (f *fakeOneTimeRepo) backdateVerification(hash string, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.verifications[hash]; ok {
		row.createdAt = time.Now().Add(-age)
	}
}

func (f *fakeOneTimeRepo) backdateReset(hash string, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.resets[hash]; ok {
		row.createdAt = time.Now().Add(-age)
	}
}

type fakeProducer struct {
	mu     sync.Mutex
	events []struct {
		Key   string
		Event dto.MailTokenEvent
	}
}

func (f *fakeProducer) PublishMessage(key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ev dto.MailTokenEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	f.events = append(f.events, struct {
		Key   string
		Event dto.MailTokenEvent
	}{Key: string(key), Event: ev})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) lastToken(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Key == key {
			return f.events[i].Event.Token
		}
	}
	return ""
}

func (f *fakeProducer) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Key == key {
			n++
		}
	}
	return n
}

// ---------- harness ----------

type testEnv struct {
	svc      AuthService
	auth     helper.Auth
	users    *fakeUserRepo
	refresh  *fakeRefreshRepo
	onetime  *fakeOneTimeRepo
	producer *fakeProducer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	users := newFakeUserRepo()
	env := &testEnv{
		auth:     helper.SetupAuth("test-secret", 15*time.Minute),
		users:    users,
		refresh:  newFakeRefreshRepo(),
		onetime:  newFakeOneTimeRepo(users),
		producer: &fakeProducer{},
	}
	env.svc = NewAuthService(
		env.users, env.refresh, env.onetime, nil,
		env.producer, env.auth,
		30*24*time.Hour, 5,
	)
	return env
}

func (e *testEnv) register(t *testing.T, email, password string) *domain.User {
	t.Helper()
	user, err := e.svc.Register(dto.RegisterRequest{
		Email: email, Password: password, Name: "Alice",
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) registerVerified(t *testing.T, email, password string) *domain.User {
	t.Helper()
	user := e.register(t, email, password)
	token := e.producer.lastToken(dto.EventVerifyEmail)
	require.NotEmpty(t, token)
	require.NoError(t, e.svc.VerifyEmail(token))
	return user
}

// ---------- registration ----------

func TestRegisterCreatesUnverifiedUser(t *testing.T) {
	env := newTestEnv(t)

	user := env.register(t, "Alice@Example.com", "Secret123")

	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.False(t, user.EmailVerified)
	assert.NotEqual(t, "Secret123", user.PasswordHash)
	assert.NoError(t, env.auth.VerifyPassword("Secret123", user.PasswordHash))

	// one verification mail event carrying the raw token
	assert.Equal(t, 1, env.producer.count(dto.EventVerifyEmail))
	assert.NotEmpty(t, env.producer.lastToken(dto.EventVerifyEmail))
}

func TestRegisterDuplicateEmailCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Secret123")

	_, err := env.svc.Register(dto.RegisterRequest{
		Email: "ALICE@Example.COM", Password: "Other456", Name: "Imposter",
	})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestRegisterInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(dto.RegisterRequest{Email: "a@b.c", Password: "short", Name: "A"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.svc.Register(dto.RegisterRequest{Email: "", Password: "Secret123", Name: "A"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// ---------- login ----------

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")

	// unknown email and wrong password yield the same error
	_, _, err := env.svc.Login(dto.LoginRequest{Email: "nobody@example.com", Password: "Secret123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLoginUnverifiedRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Secret123")

	user, tokens, err := env.svc.Login(dto.LoginRequest{
		Email: "alice@example.com", Password: "Secret123",
	})
	assert.ErrorIs(t, err, domain.ErrEmailNotVerified)
	assert.Nil(t, user)
	assert.Nil(t, tokens)
}

func TestLoginIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")

	user, tokens, err := env.svc.Login(dto.LoginRequest{
		Email: "alice@example.com", Password: "Secret123",
	})
	require.NoError(t, err)
	require.NotNil(t, tokens)

	claims, err := env.auth.VerifyAccessToken(tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, domain.RoleUser, claims.Role)

	assert.True(t, env.refresh.isActive(tokens.Refresh))
	assert.True(t, tokens.RefreshExpiresAt.After(time.Now().Add(29*24*time.Hour)))
}

// ---------- email verification ----------

func TestVerifyEmailSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Secret123")
	token := env.producer.lastToken(dto.EventVerifyEmail)

	require.NoError(t, env.svc.VerifyEmail(token))

	user, err := env.users.FindUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)

	assert.ErrorIs(t, env.svc.VerifyEmail(token), domain.ErrInvalidToken)
}

func TestVerifyEmailExpired(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Secret123")
	token := env.producer.lastToken(dto.EventVerifyEmail)

	env.onetime.backdateVerification(utils.Sha256Hex(token), 25*time.Hour)
	assert.ErrorIs(t, env.svc.VerifyEmail(token), domain.ErrInvalidToken)
}

func TestVerifyEmailRetriableAfterFailedUserWrite(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Secret123")
	token := env.producer.lastToken(dto.EventVerifyEmail)

	// the verified-flag write fails mid-transaction; the token must not
	// be burned by the rollback
	env.onetime.failNextUserWrite = true
	err := env.svc.VerifyEmail(token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidToken)

	user, err := env.users.FindUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)

	require.NoError(t, env.svc.VerifyEmail(token))
	user, err = env.users.FindUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
}

func TestResendInvalidatesPriorToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "Secret123")
	first := env.producer.lastToken(dto.EventVerifyEmail)

	require.NoError(t, env.svc.ResendVerification("alice@example.com"))
	second := env.producer.lastToken(dto.EventVerifyEmail)
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, env.svc.VerifyEmail(first), domain.ErrInvalidToken)
	assert.NoError(t, env.svc.VerifyEmail(second))
}

func TestResendNoExistenceLeak(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")
	sent := env.producer.count(dto.EventVerifyEmail)

	// unknown address and already-verified address both succeed silently
	assert.NoError(t, env.svc.ResendVerification("nobody@example.com"))
	assert.NoError(t, env.svc.ResendVerification("alice@example.com"))
	assert.Equal(t, sent, env.producer.count(dto.EventVerifyEmail))
}

// ---------- refresh rotation ----------

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")
	_, tokens, err := env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "Secret123"})
	require.NoError(t, err)

	_, next, err := env.svc.Refresh(tokens.Refresh)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.Refresh, next.Refresh)
	assert.False(t, env.refresh.isActive(tokens.Refresh))
	assert.True(t, env.refresh.isActive(next.Refresh))

	// a rotated token never authorizes again
	_, _, err = env.svc.Refresh(tokens.Refresh)
	assert.ErrorIs(t, err, domain.ErrInvalidRefresh)

	_, _, err = env.svc.Refresh(next.Refresh)
	assert.NoError(t, err)
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")
	_, tokens, err := env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "Secret123"})
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := env.svc.Refresh(tokens.Refresh)
			results <- err
		}()
	}

	var ok, failed int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidRefresh)
			failed++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}

func TestLogoutRevokesIdempotently(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")
	_, tokens, err := env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "Secret123"})
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(tokens.Refresh))
	_, _, err = env.svc.Refresh(tokens.Refresh)
	assert.ErrorIs(t, err, domain.ErrInvalidRefresh)

	// revoking twice, or with no token at all, is a no-op
	assert.NoError(t, env.svc.Logout(tokens.Refresh))
	assert.NoError(t, env.svc.Logout(""))
}

func TestRefreshCapRevokesOldest(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerified(t, "alice@example.com", "Secret123")

	var first string
	for i := 0; i < 6; i++ {
		_, tokens, err := env.svc.Login(dto.LoginRequest{
			Email: "alice@example.com", Password: "Secret123",
		})
		require.NoError(t, err)
		if i == 0 {
			first = tokens.Refresh
		}
	}

	assert.Equal(t, 5, env.refresh.activeCount(user.ID))
	assert.False(t, env.refresh.isActive(first))
}

// ---------- password reset ----------

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")

	require.NoError(t, env.svc.ForgotPassword("alice@example.com"))
	token := env.producer.lastToken(dto.EventResetPassword)
	require.NotEmpty(t, token)

	require.NoError(t, env.svc.ResetPassword(dto.ResetPasswordRequest{
		Token: token, Password: "NewSecret456",
	}))

	_, _, err := env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "Secret123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "NewSecret456"})
	assert.NoError(t, err)

	// the token was spent by the first reset
	err = env.svc.ResetPassword(dto.ResetPasswordRequest{Token: token, Password: "Another789"})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestPasswordResetExpired(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")

	require.NoError(t, env.svc.ForgotPassword("alice@example.com"))
	token := env.producer.lastToken(dto.EventResetPassword)

	env.onetime.backdateReset(utils.Sha256Hex(token), 25*time.Hour)
	err := env.svc.ResetPassword(dto.ResetPasswordRequest{Token: token, Password: "NewSecret456"})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestPasswordResetRetriableAfterFailedUserWrite(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "alice@example.com", "Secret123")
	require.NoError(t, env.svc.ForgotPassword("alice@example.com"))
	token := env.producer.lastToken(dto.EventResetPassword)

	env.onetime.failNextUserWrite = true
	err := env.svc.ResetPassword(dto.ResetPasswordRequest{Token: token, Password: "NewSecret456"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidToken)

	// the old password still works and the token is still spendable
	_, _, err = env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "Secret123"})
	require.NoError(t, err)

	require.NoError(t, env.svc.ResetPassword(dto.ResetPasswordRequest{
		Token: token, Password: "NewSecret456",
	}))
	_, _, err = env.svc.Login(dto.LoginRequest{Email: "alice@example.com", Password: "NewSecret456"})
	assert.NoError(t, err)
}

func TestForgotPasswordNoExistenceLeak(t *testing.T) {
	env := newTestEnv(t)

	assert.NoError(t, env.svc.ForgotPassword("nobody@example.com"))
	assert.Equal(t, 0, env.producer.count(dto.EventResetPassword))
}

// ---------- account ----------

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerified(t, "alice@example.com", "Secret123")

	require.NoError(t, env.svc.DeleteAccount(user.ID))
	_, err := env.svc.GetUser(user.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

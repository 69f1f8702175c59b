package helper

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/studyflow/auth_service/internal/domain"
	"github.com/studyflow/auth_service/internal/dto"
	"golang.org/x/crypto/bcrypt"
)

type Auth struct {
	Secret    string
	AccessTTL time.Duration
}

func SetupAuth(secret string, accessTTL time.Duration) Auth {
	return Auth{
		Secret:    secret,
		AccessTTL: accessTTL,
	}
}

// GenerateAccessToken mints a short-lived stateless token carrying the
// user's id, role and email. Validity is purely cryptographic + expiry;
// it cannot be revoked before it expires.
func (a Auth) GenerateAccessToken(user *domain.User) (string, error) {
	if user == nil || user.ID == 0 || user.Email == "" {
		return "", errors.New("required inputs are missing to generate token")
	}

	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   float64(user.ID),
		"role":  user.Role,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(a.AccessTTL).Unix(),
	})

	tokenStr, err := token.SignedString([]byte(a.Secret))
	if err != nil {
		return "", errors.New("unable to sign the token")
	}

	return tokenStr, nil
}

// VerifyAccessToken accepts either "Bearer <token>" or a bare token.
func (a Auth) VerifyAccessToken(tokenString string) (dto.TokenClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return dto.TokenClaims{}, errors.New("missing token")
	}

	if strings.HasPrefix(strings.ToLower(tokenString), "bearer ") {
		parts := strings.SplitN(tokenString, " ", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
			return dto.TokenClaims{}, errors.New("invalid token format")
		}
		tokenString = strings.TrimSpace(parts[1])
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.Secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return dto.TokenClaims{}, errors.New("token parse error")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return dto.TokenClaims{}, errors.New("invalid token claims")
	}

	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return dto.TokenClaims{}, errors.New("invalid subject")
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = domain.RoleUser
	}
	email, _ := claims["email"].(string)

	return dto.TokenClaims{
		UserID: uint(sub),
		Role:   role,
		Email:  email,
	}, nil
}

func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.New("failed to hash password")
	}
	return string(hashed), nil
}

// VerifyPassword compares via bcrypt's own constant-time comparison.
func (a Auth) VerifyPassword(plain, hashed string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)); err != nil {
		return domain.ErrInvalidCredentials
	}
	return nil
}

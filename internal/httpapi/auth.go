package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveOperator   = errors.New("account is inactive")
)

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	operators  OperatorStore
	now        func() time.Time
}

type OperatorStore interface {
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)
}

type OperatorBootstrapStore interface {
	ListOperators(ctx context.Context) ([]domain.Operator, error)
	CreateOperator(ctx context.Context, operator domain.Operator) (*domain.Operator, error)
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	OperatorID int64  `json:"uid"`
	Role       string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, operators OperatorStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN == "" {
		managerPIN = "disabled"
	}
	if hashed, err := hashPassword(managerPIN); err == nil {
		managerPIN = hashed
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		operators:  operators,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	operator, err := a.operators.GetOperatorByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(operator.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !operator.Active {
		return domain.LoginResponse{}, errInactiveOperator
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(*operator, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		OperatorID:  operator.ID,
		Role:        operator.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.OperatorID <= 0 {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{OperatorID: claims.OperatorID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(operator domain.Operator, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   operator.Username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "caixa",
		},
		OperatorID: operator.ID,
		Role:       operator.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

// CheckActive confirms the token's operator still exists, is active and
// keeps the role and id the token was issued with.
func (a *AuthManager) CheckActive(ctx context.Context, actor domain.Actor) error {
	operator, err := a.operators.GetOperatorByUsername(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errInactiveOperator
		}
		return err
	}
	if !operator.Active || operator.ID != actor.OperatorID || operator.Role != actor.Role {
		return errInactiveOperator
	}
	return nil
}

// EnsureAdmin creates the first admin account when the store has no
// operators yet. It reports whether an account was created.
func EnsureAdmin(ctx context.Context, operators OperatorBootstrapStore, username string, password string) (bool, error) {
	existing, err := operators.ListOperators(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < 4 || strings.ContainsAny(username, " \t\r\n") {
		return false, fmt.Errorf("admin username must be at least 4 characters without spaces")
	}
	if len(password) < 10 {
		return false, fmt.Errorf("admin password must be at least 10 characters")
	}
	passwordHash, err := hashPassword(password)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = operators.CreateOperator(ctx, domain.Operator{
		Username:     username,
		Name:         "Administrador",
		PasswordHash: passwordHash,
		Role:         domain.RoleAdmin,
		Active:       true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

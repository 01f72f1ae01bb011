package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"powercal/internal/models"
	"powercal/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = time.Hour
	tokenIssuer     = "powercal"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrEmptyPassword      = errors.New("password is empty")
)

// Claims are the console token claims. Subject carries the username.
type Claims struct {
	jwt.RegisteredClaims
	OperatorID int `json:"oid"`
}

// AuthService signs operators in and turns bearer tokens back into identities.
type AuthService struct {
	operators  repository.OperatorRepo
	signingKey []byte
	tokenTTL   time.Duration
	now        func() time.Time
}

func NewAuthService(repo repository.OperatorRepo, signingKey string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{
		operators:  repo,
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
}

// SignUp registers an operator. A taken name surfaces repository.ErrOperatorExists.
func (s *AuthService) SignUp(ctx context.Context, username, password string) (int, error) {
	if strings.TrimSpace(password) == "" {
		return 0, ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return s.operators.Create(ctx, models.Operator{Username: username, PasswordHash: string(hash)})
}

// EnsureOperator creates the configured operator at startup unless it exists.
// An existing account keeps its password.
func (s *AuthService) EnsureOperator(ctx context.Context, username, password string) (int, error) {
	op, err := s.operators.GetByUsername(ctx, username)
	if err != nil {
		return 0, err
	}
	if op != nil {
		return op.ID, nil
	}
	return s.SignUp(ctx, username, password)
}

// SignIn checks credentials and issues a session token. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) SignIn(ctx context.Context, username, password string) (Session, error) {
	op, err := s.operators.GetByUsername(ctx, username)
	if err != nil {
		return Session{}, err
	}
	if op == nil || bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(models.Identity{ID: op.ID, Username: op.Username})
}

// ParseToken verifies an HS256 token from this service and returns its operator.
func (s *AuthService) ParseToken(token string) (models.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.OperatorID <= 0 || claims.Subject == "" {
		return models.Identity{}, fmt.Errorf("%w: missing operator", ErrInvalidToken)
	}
	return models.Identity{ID: claims.OperatorID, Username: claims.Subject}, nil
}

func (s *AuthService) issue(id models.Identity) (Session, error) {
	now := s.now()
	expires := now.Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		OperatorID: id.ID,
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{Token: signed, ExpiresAt: expires, Operator: id}, nil
}

type operatorKey struct{}

// WithOperator attaches the authenticated operator to ctx.
func WithOperator(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, operatorKey{}, id)
}

// OperatorFrom returns the operator attached by WithOperator.
func OperatorFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(operatorKey{}).(models.Identity)
	return id, ok
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/credbuzz/backend/internal/errs"
	"github.com/credbuzz/backend/internal/models"
	"github.com/credbuzz/backend/internal/otp"
)

// ErrDuplicateEmail is returned when registering with an email that
// already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// AccountStore is the account access the auth service needs.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// CodeSender delivers password reset codes. Email transport is an
// external collaborator; the default implementation only logs.
type CodeSender interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// LogSender logs reset codes instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) SendResetCode(_ context.Context, email, code string) error {
	s.Log.Info("password reset code issued", "email", email, "code", code)
	return nil
}

type Service interface {
	Register(ctx context.Context, email, password, name string) (*models.Account, string, error)
	Login(ctx context.Context, email, password string) (*models.Account, string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

type service struct {
	accounts AccountStore
	codes    *otp.Store
	sender   CodeSender
	secret   []byte
	tokenTTL time.Duration
}

// NewService wires the auth service. secret signs HS256 bearer tokens.
func NewService(accounts AccountStore, codes *otp.Store, sender CodeSender, secret string) Service {
	return &service{
		accounts: accounts,
		codes:    codes,
		sender:   sender,
		secret:   []byte(secret),
		tokenTTL: 24 * time.Hour,
	}
}

var _ Service = (*service)(nil)

func (s *service) Register(ctx context.Context, email, password, name string) (*models.Account, string, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", fmt.Errorf("%w: invalid email", errs.ErrValidation)
	}
	if len(password) < 6 {
		return nil, "", fmt.Errorf("%w: password must be at least 6 characters", errs.ErrValidation)
	}
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", errs.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	acc := &models.Account{
		ID:            uuid.New(),
		Email:         email,
		Name:          name,
		PasswordHash:  string(hash),
		Avatar:        "default-avatar.png",
		Skills:        []string{},
		CreditBalance: models.StartingCreditBalance,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, "", ErrDuplicateEmail
		}
		return nil, "", err
	}
	token, err := s.issueToken(acc.ID)
	if err != nil {
		return nil, "", err
	}
	return acc, token, nil
}

func (s *service) Login(ctx context.Context, email, password string) (*models.Account, string, error) {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: invalid credentials", errs.ErrUnauthenticated)
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, "", fmt.Errorf("%w: invalid credentials", errs.ErrUnauthenticated)
	}
	token, err := s.issueToken(acc.ID)
	if err != nil {
		return nil, "", err
	}
	return acc, token, nil
}

func (s *service) issueToken(accountID uuid.UUID) (string, error) {
	now := time.Now()
	c := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken resolves a bearer token to an account id. This is the
// identity resolver the rest of the API consumes.
func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrUnauthenticated, err)
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthenticated)
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid subject", errs.ErrUnauthenticated)
	}
	return id, nil
}

// ForgotPassword issues a reset code for the email. An unknown email is
// not an error, so the endpoint does not reveal which accounts exist.
func (s *service) ForgotPassword(ctx context.Context, email string) error {
	if _, err := s.accounts.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	code, err := s.codes.Issue(email)
	if err != nil {
		return err
	}
	return s.sender.SendResetCode(ctx, email, code)
}

func (s *service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if len(newPassword) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", errs.ErrValidation)
	}
	if !s.codes.Verify(email, code) {
		return fmt.Errorf("%w: invalid or expired reset code", errs.ErrUnauthenticated)
	}
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: account", errs.ErrNotFound)
		}
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.accounts.UpdatePasswordHash(ctx, acc.ID, string(hash))
}

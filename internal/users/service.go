package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/docsift/docsift/internal/auth"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const tokenTTL = 24 * time.Hour

type Service struct {
	repo         *Repo
	jwtSecret    string
	defaultQuota int
}

func NewService(repo *Repo, jwtSecret string, defaultQuota int) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret, defaultQuota: defaultQuota}
}

// Register creates an account and returns it with a signed token.
func (s *Service) Register(ctx context.Context, email, password string) (*User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", errors.New("invalid email")
	}
	if len(password) < 8 {
		return nil, "", ErrWeakPassword
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	u := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		DailyQuota:   s.defaultQuota,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, "", err
	}

	token, err := auth.SignJWT(u.ID, u.Role, s.jwtSecret, tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := auth.SignJWT(u.ID, u.Role, s.jwtSecret, tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

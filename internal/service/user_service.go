package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/examroom/internal/model"
)

// ErrRegistrationClosed is returned when self-registration is turned off.
var ErrRegistrationClosed = errors.New("registration is closed")

// UserStore persists accounts.
type UserStore interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
	UpdatePassword(ctx context.Context, id int, hash string) error
	UpdateProfile(ctx context.Context, u *model.User) error
	Delete(ctx context.Context, id int) error
	ListPaginated(ctx context.Context, role model.Role, limit, offset int) ([]model.User, int, error)
}

// UserService manages admin and student accounts.
type UserService struct {
	users        UserStore
	auth         *AuthService
	registration bool
}

// NewUserService creates a new UserService. allowRegistration opens
// Register to anyone.
func NewUserService(users UserStore, auth *AuthService, allowRegistration bool) *UserService {
	return &UserService{users: users, auth: auth, registration: allowRegistration}
}

// Create registers an account with a hashed password.
func (s *UserService) Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		Email:        req.Email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// List returns a page of accounts. An empty role lists everyone.
func (s *UserService) List(ctx context.Context, role model.Role, page, perPage int) ([]model.User, int, error) {
	users, total, err := s.users.ListPaginated(ctx, role, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	if users == nil {
		users = []model.User{}
	}
	return users, total, nil
}

// ResetPassword sets a new password and signs the user out everywhere.
func (s *UserService) ResetPassword(ctx context.Context, id int, password string) error {
	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	return s.auth.Logout(ctx, id)
}

// ResetSession ends the user's current login so they can sign in on
// another device.
func (s *UserService) ResetSession(ctx context.Context, id int) error {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		return err
	}
	return s.auth.Logout(ctx, id)
}

// Register creates a student account and signs it in.
func (s *UserService) Register(ctx context.Context, req *model.RegisterRequest) (*LoginResult, error) {
	if !s.registration {
		return nil, ErrRegistrationClosed
	}
	u, err := s.Create(ctx, &model.CreateUserRequest{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        model.RoleStudent,
	})
	if err != nil {
		return nil, err
	}
	return s.auth.StartSession(ctx, u)
}

// UpdateProfile changes the user's own display name, email and password.
// The current session stays valid.
func (s *UserService) UpdateProfile(ctx context.Context, id int, req *model.UpdateProfileRequest) (*model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var hash string
	if req.Password != "" {
		if err := s.auth.CheckPassword(u.PasswordHash, req.CurrentPassword); err != nil {
			return nil, err
		}
		if hash, err = s.auth.HashPassword(req.Password); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	u.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email != "" {
		u.Email = req.Email
	}
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	if hash != "" {
		if err := s.users.UpdatePassword(ctx, id, hash); err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	return u, nil
}

// Delete removes the account and ends its session.
func (s *UserService) Delete(ctx context.Context, id int) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	return s.auth.Logout(ctx, id)
}

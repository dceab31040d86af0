package model

import "time"

// Role distinguishes graders from exam takers.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// User is an account that can sign in.
type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// LoginRequest is the payload for email/password login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// CreateUserRequest is the payload for registering an account.
type CreateUserRequest struct {
	Email       string `json:"email" binding:"required,email,max=255"`
	DisplayName string `json:"display_name" binding:"required,min=2,max=255"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
	Role        Role   `json:"role" binding:"required,oneof=admin student"`
}

// ResetPasswordRequest sets a new password for an account.
type ResetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// RegisterRequest is the payload for a student signing up.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email,max=255"`
	DisplayName string `json:"display_name" binding:"required,min=2,max=255"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
}

// UpdateProfileRequest changes the signed-in user's own account. An empty
// email or password keeps the current value; a new password needs the
// current one.
type UpdateProfileRequest struct {
	DisplayName     string `json:"display_name" binding:"required,min=2,max=255"`
	Email           string `json:"email" binding:"omitempty,email,max=255"`
	Password        string `json:"password" binding:"omitempty,min=6,max=72"`
	CurrentPassword string `json:"current_password" binding:"required_with=Password,max=72"`
}

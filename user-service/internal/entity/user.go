package entity

import (
	"time"

	"auction-logistics/internal/platform/auth"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Principal is the identity carried in the user's tokens.
func (u *User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Name: u.Username, Email: u.Email, Role: u.Role}
}

type CreateUserInput struct {
	Username string    `json:"username" validate:"required,min=3,max=50"`
	Email    string    `json:"email" validate:"required,email,max=100"`
	Password string    `json:"password" validate:"required,min=8,max=72"`
	Role     auth.Role `json:"role" validate:"omitempty,oneof=viewer sales manager admin"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

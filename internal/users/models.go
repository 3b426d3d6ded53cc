// Package users manages accounts, their shipping addresses and wishlists.
package users

import (
	"errors"
	"storefront/internal/auth"
	"storefront/internal/products"
	"time"
	"unicode"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

const MaxAddresses = 10

// Role is the role column. Tokens carry the matching auth role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type Address struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty" validate:"max=50"`
	FullName   string `json:"fullName" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	Country    string `json:"country" validate:"required"`
	PostalCode string `json:"postalCode,omitempty"`
	IsDefault  bool   `json:"isDefault"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Addresses    []Address `json:"addresses"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AuthRoles are the roles put into the user's token.
func (u User) AuthRoles() []string {
	if u.Role == RoleAdmin {
		return []string{auth.RoleUser, auth.RoleAdmin}
	}
	return []string{auth.RoleUser}
}

type NewUser struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"max=30"`
	Password string `json:"password" validate:"required,max=72"`
}

type Credentials struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type WishlistItem struct {
	ProductID string            `json:"productId"`
	AddedAt   time.Time         `json:"addedAt"`
	Product   *products.Product `json:"product,omitempty"`
}

// StrongPassword requires at least 8 characters with an upper case letter,
// a lower case letter, a digit and a symbol.
func StrongPassword(pw string) bool {
	var upper, lower, digit, symbol bool
	n := 0
	for _, r := range pw {
		n++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return n >= 8 && upper && lower && digit && symbol
}

package users

import (
	"context"
	"errors"
	"fmt"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/products"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Store interface {
	InsertUser(ctx context.Context, u User) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	SaveAddresses(ctx context.Context, userID string, addresses []Address) error
	SetRole(ctx context.Context, userID string, role Role) error
	AddToWishlist(ctx context.Context, userID, productID string, at time.Time) error
	RemoveFromWishlist(ctx context.Context, userID, productID string) error
	ListWishlist(ctx context.Context, userID string) ([]WishlistItem, error)
}

type Catalog interface {
	GetProductByID(ctx context.Context, id string) (products.Product, error)
}

type TokenIssuer interface {
	GenerateToken(userID, email string, roles []string) (string, error)
}

const errWeakPassword = "Password must be at least 8 characters and contain an uppercase letter, a lowercase letter, a number and a symbol"

type Service struct {
	store    Store
	catalog  Catalog
	tokens   TokenIssuer
	validate *validator.Validate
	cost     int
	now      func() time.Time
}

func NewService(store Store, catalog Catalog, tokens TokenIssuer) *Service {
	return &Service{
		store:    store,
		catalog:  catalog,
		tokens:   tokens,
		validate: apperr.NewValidator(),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// WithHashCost lowers the bcrypt cost, for tests.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	nu.Email = normalizeEmail(nu.Email)
	nu.Name = strings.TrimSpace(nu.Name)
	nu.Phone = strings.TrimSpace(nu.Phone)
	if err := s.validate.Struct(nu); err != nil {
		return User{}, apperr.FromValidator("Invalid registration", err)
	}
	if !StrongPassword(nu.Password) {
		return User{}, apperr.Validation(errWeakPassword)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	u, err := s.store.InsertUser(ctx, User{
		ID:           uuid.NewString(),
		Email:        nu.Email,
		Name:         nu.Name,
		Phone:        nu.Phone,
		PasswordHash: string(hash),
		Role:         RoleUser,
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, ErrEmailTaken) {
		return User{}, apperr.Conflict("User with this email already exists")
	}
	return u, err
}

// Login checks the credentials and issues a token. Unknown emails and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, creds Credentials) (string, User, error) {
	const invalid = "Invalid email or password"
	if err := s.validate.Struct(creds); err != nil {
		return "", User{}, apperr.FromValidator("Invalid login", err)
	}
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(creds.Email))
	if errors.Is(err, ErrNotFound) {
		return "", User{}, apperr.Unauthorized(invalid)
	}
	if err != nil {
		return "", User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(creds.Password)) != nil {
		return "", User{}, apperr.Unauthorized(invalid)
	}
	token, err := s.tokens.GenerateToken(u.ID, u.Email, u.AuthRoles())
	if err != nil {
		return "", User{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return token, u, nil
}

func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return User{}, apperr.NotFound("User not found")
	}
	return u, err
}

// AddAddress appends a shipping address. The first address, or one flagged
// as default, becomes the default.
func (s *Service) AddAddress(ctx context.Context, userID string, a Address) (User, error) {
	if err := s.validate.Struct(a); err != nil {
		return User{}, apperr.FromValidator("Invalid address", err)
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if len(u.Addresses) >= MaxAddresses {
		return User{}, apperr.Validation(fmt.Sprintf("You can save at most %d addresses", MaxAddresses))
	}

	a.ID = uuid.NewString()
	if len(u.Addresses) == 0 {
		a.IsDefault = true
	}
	if a.IsDefault {
		for i := range u.Addresses {
			u.Addresses[i].IsDefault = false
		}
	}
	u.Addresses = append(u.Addresses, a)
	if err := s.store.SaveAddresses(ctx, u.ID, u.Addresses); err != nil {
		return User{}, err
	}
	return u, nil
}

// SetRole changes a user's role. Only admins may do it, and an admin cannot
// demote themselves.
func (s *Service) SetRole(ctx context.Context, admin auth.Claims, userID string, role Role) (User, error) {
	if err := auth.RequireRole(admin, auth.RoleAdmin); err != nil {
		return User{}, apperr.Forbidden("Admin access required")
	}
	if !role.Valid() {
		return User{}, apperr.Validation(fmt.Sprintf("Invalid role %q", role))
	}
	if userID == admin.Subject && role != RoleAdmin {
		return User{}, apperr.Validation("You cannot remove your own admin role")
	}
	if err := s.store.SetRole(ctx, userID, role); err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, apperr.NotFound("User not found")
		}
		return User{}, err
	}
	return s.Me(ctx, userID)
}

func (s *Service) Wishlist(ctx context.Context, userID string) ([]WishlistItem, error) {
	items, err := s.store.ListWishlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]WishlistItem, 0, len(items))
	for _, it := range items {
		p, err := s.catalog.GetProductByID(ctx, it.ProductID)
		if errors.Is(err, products.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		it.Product = &p
		out = append(out, it)
	}
	return out, nil
}

func (s *Service) AddToWishlist(ctx context.Context, userID, productID string) ([]WishlistItem, error) {
	p, err := s.catalog.GetProductByID(ctx, productID)
	if errors.Is(err, products.ErrNotFound) || (err == nil && !p.IsActive) {
		return nil, apperr.NotFound("Product not found")
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.AddToWishlist(ctx, userID, p.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.Wishlist(ctx, userID)
}

func (s *Service) RemoveFromWishlist(ctx context.Context, userID, productID string) ([]WishlistItem, error) {
	if err := s.store.RemoveFromWishlist(ctx, userID, productID); err != nil {
		return nil, err
	}
	return s.Wishlist(ctx, userID)
}

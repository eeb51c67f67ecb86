package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"golang.org/x/crypto/bcrypt"

	"auction-logistics/internal/platform/auth"
	"auction-logistics/internal/platform/logging"
	"auction-logistics/internal/platform/xerrors"
	"auction-logistics/user-service/internal/entity"
)

var logger = logging.Component("user-service")

var validate = validator.New(validator.WithRequiredStructEnabled())

// hashCost is lowered by tests.
var hashCost = bcrypt.DefaultCost

// Store persists users.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*entity.User, error)
	GetUserByEmail(ctx context.Context, email string) (*entity.User, error)
	CreateUser(ctx context.Context, user *entity.User) (*entity.User, error)
}

type UserService struct {
	repo   Store
	rdb    *redis.Client
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewUserService creates a new instance of UserService. Without rdb tokens
// are checked by signature only and logout is a no-op.
func NewUserService(repo Store, rdb *redis.Client, secret string, ttl time.Duration) *UserService {
	return &UserService{
		repo:   repo,
		rdb:    rdb,
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func sessionKey(email string) string {
	return fmt.Sprintf("session:%s", email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUserByID retrieves a user by ID.
func (s *UserService) GetUserByID(ctx context.Context, id int64) (*entity.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNotFound) {
			logger.Error().Err(err).Msgf("Error getting user by ID %d", id)
		}
		return nil, err
	}
	return user, nil
}

// CreateUser hashes the password and stores a new user. Role defaults to
// viewer.
func (s *UserService) CreateUser(ctx context.Context, in entity.CreateUserInput) (*entity.User, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}
	role := in.Role
	if role == "" {
		role = auth.RoleViewer
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), hashCost)
	if err != nil {
		return nil, err
	}

	user := &entity.User{
		Username:     strings.TrimSpace(in.Username),
		Email:        normalizeEmail(in.Email),
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now(),
	}
	created, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		if !errors.Is(err, xerrors.ErrUserAlreadyExists) {
			logger.Error().Err(err).Msg("Error creating user")
		}
		return nil, err
	}
	logger.Info().Int64("user", created.ID).Str("role", string(role)).Msg("user created")
	return created, nil
}

// EnsureAdmin creates an admin with the given credentials unless a user with
// that email exists.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) error {
	_, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err == nil {
		return nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return err
	}
	_, err = s.CreateUser(ctx, entity.CreateUserInput{Username: "admin", Email: email, Password: password, Role: auth.RoleAdmin})
	if errors.Is(err, xerrors.ErrUserAlreadyExists) {
		return nil
	}
	return err
}

// Login checks the password and issues a token. The token is stored as the
// user's session, replacing any earlier one.
func (s *UserService) Login(ctx context.Context, in entity.LoginInput) (*entity.LoginResponse, error) {
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}

	email := normalizeEmail(in.Email)
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, xerrors.ErrInvalidCredentials
	}

	token, err := auth.Sign(s.secret, user.Principal(), s.ttl)
	if err != nil {
		return nil, err
	}

	// Store the JWT token in Redis with the user email as the key
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, sessionKey(email), token, s.ttl).Err(); err != nil {
			return nil, fmt.Errorf("could not store session: %w", err)
		}
	}

	return &entity.LoginResponse{Token: token, ExpiresAt: s.now().Add(s.ttl), User: user}, nil
}

// ValidateToken verifies the token and that it is the user's current
// session.
func (s *UserService) ValidateToken(ctx context.Context, raw string) (auth.Principal, error) {
	claims, err := auth.Parse(s.secret, raw)
	if err != nil {
		return auth.Principal{}, err
	}
	p := auth.Principal{UserID: claims.UserID, Name: claims.Name, Email: claims.Email, Role: claims.Role}
	if s.rdb == nil {
		return p, nil
	}

	// Retrieve the JWT token from Redis
	stored, err := s.rdb.Get(ctx, sessionKey(claims.Email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.Principal{}, xerrors.ErrSessionNotFound
		}
		return auth.Principal{}, err
	}
	if stored != strings.TrimSpace(strings.TrimPrefix(raw, "Bearer ")) {
		return auth.Principal{}, xerrors.ErrSessionNotFound
	}
	return p, nil
}

// Logout drops the user's session.
func (s *UserService) Logout(ctx context.Context, p auth.Principal) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, sessionKey(p.Email)).Err()
}

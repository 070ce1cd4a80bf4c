package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/planhub/backend/internal/db"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveUser       = errors.New("user is not active")
	ErrUserNotFound       = errors.New("user not found")
)

type User struct {
	ID                        int64      `json:"id"`
	Email                     string     `json:"email"`
	Name                      *string    `json:"name"`
	AvatarURL                 *string    `json:"avatar_url"`
	IsActive                  bool       `json:"is_active"`
	IsStaff                   bool       `json:"is_staff"`
	IsSuperuser               bool       `json:"is_superuser"`
	EmailNotificationsEnabled bool       `json:"email_notifications_enabled"`
	DateJoined                time.Time  `json:"date_joined"`
	LastLogin                 *time.Time `json:"last_login,omitempty"`
}

// Mailer is the outbound email sink; the SMTP implementation lives in
// internal/mail.
type Mailer interface {
	Send(to []string, subject, templateName string, data map[string]interface{}) error
}

type Service struct {
	db        *db.DB
	jwt       *JWTService
	mailer    Mailer
	secretKey string
	siteURL   string
}

func NewService(database *db.DB, jwtService *JWTService, mailer Mailer, secretKey, siteURL string) *Service {
	return &Service{
		db:        database,
		jwt:       jwtService,
		mailer:    mailer,
		secretKey: secretKey,
		siteURL:   siteURL,
	}
}

// Register creates an inactive user and emails a signed confirmation link.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("valid email is required")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user User
	var nullableName *string
	if name = strings.TrimSpace(name); name != "" {
		nullableName = &name
	}
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, name, is_active)
		 VALUES ($1, $2, $3, FALSE)
		 RETURNING id, email, name, avatar_url, is_active, is_staff, is_superuser,
		           email_notifications_enabled, date_joined`,
		email, string(hash), nullableName,
	).Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.IsActive,
		&user.IsStaff, &user.IsSuperuser, &user.EmailNotificationsEnabled, &user.DateJoined)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.sendConfirmation(&user)
	return &user, nil
}

// ResendConfirmation re-issues the activation email for a still-inactive
// user. Unknown or already-active addresses are not distinguished to the
// caller.
func (s *Service) ResendConfirmation(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	var user User
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, email, name, is_active FROM users WHERE email = $1`,
		email,
	).Scan(&user.ID, &user.Email, &user.Name, &user.IsActive)
	if err != nil || user.IsActive {
		return nil
	}
	s.sendConfirmation(&user)
	return nil
}

// Confirm activates the user identified by a valid confirmation token.
func (s *Service) Confirm(ctx context.Context, token string) error {
	userID, err := VerifyEmailConfirmationToken(s.secretKey, token)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE users SET is_active = TRUE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Login verifies the credentials and returns an access/refresh token pair.
// Inactive users are rejected even with a correct password.
func (s *Service) Login(ctx context.Context, email, password string) (string, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var id int64
	var storedHash string
	var active bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, password_hash, is_active FROM users WHERE email = $1`,
		email,
	).Scan(&id, &storedHash, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}
	if !active {
		return "", "", ErrInactiveUser
	}

	if _, err := s.db.Pool.Exec(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, id); err != nil {
		return "", "", fmt.Errorf("failed to update last login: %w", err)
	}

	accessToken, err := s.jwt.GenerateToken(id, email)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.jwt.GenerateRefreshToken(id)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

// Refresh rotates the access token. The user must still exist and be active.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", err)
	}

	var email string
	var active bool
	err = s.db.Pool.QueryRow(ctx,
		`SELECT email, is_active FROM users WHERE id = $1`, claims.UserID,
	).Scan(&email, &active)
	if err != nil {
		return "", ErrUserNotFound
	}
	if !active {
		return "", ErrInactiveUser
	}
	return s.jwt.GenerateToken(claims.UserID, email)
}

// GetUser loads a user by id; used by auth middleware consumers and the
// profile endpoints.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.Pool.QueryRow(ctx,
		`SELECT id, email, name, avatar_url, is_active, is_staff, is_superuser,
		        email_notifications_enabled, date_joined, last_login
		 FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.AvatarURL, &user.IsActive,
		&user.IsStaff, &user.IsSuperuser, &user.EmailNotificationsEnabled,
		&user.DateJoined, &user.LastLogin)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (s *Service) sendConfirmation(user *User) {
	if s.mailer == nil {
		return
	}
	token := MakeEmailConfirmationToken(s.secretKey, user.ID)
	link := s.siteURL + "/api/auth/confirm?token=" + token
	err := s.mailer.Send([]string{user.Email}, "Confirm your email", "confirmation",
		map[string]interface{}{
			"ConfirmURL": link,
		})
	if err != nil {
		// Email is advisory here; the user can request a resend.
		log.Printf("auth: failed to send confirmation to %s: %v", user.Email, err)
	}
}

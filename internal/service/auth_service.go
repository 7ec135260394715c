package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/repository"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoActiveSession    = errors.New("no active session")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// Claims extends JWT standard claims with the student id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Roll   string `json:"roll,omitempty"`
}

// StudentStore reads and updates student accounts.
type StudentStore interface {
	GetByID(ctx context.Context, id string) (*model.Student, error)
	GetByRoll(ctx context.Context, roll string) (*model.Student, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// AuthService handles authentication, JWT, and the single-device login session.
type AuthService struct {
	cfg      *config.Config
	rdb      *redis.Client
	students StudentStore
	log      zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, students StudentStore, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		rdb:      rdb,
		students: students,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login authenticates a student by roll number and password.
func (s *AuthService) Login(ctx context.Context, roll, password string) (*model.StudentLoginResponse, error) {
	student, err := s.students.GetByRoll(ctx, roll)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	// Accounts without a hash have not been migrated off plaintext yet.
	if student.PasswordHash == "" {
		s.log.Warn().Str("student_id", student.ID).Msg("Login attempt on account without password hash")
		return nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(student.PasswordHash, password); err != nil {
		return nil, err
	}

	token, err := s.GenerateStudentToken(ctx, student)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("student_id", student.ID).Msg("Student logged in")
	return &model.StudentLoginResponse{Token: token, Student: *student}, nil
}

// GenerateStudentToken creates a JWT for a student and registers it as the
// student's only valid session. A previous session on another device is
// invalidated.
func (s *AuthService) GenerateStudentToken(ctx context.Context, student *model.Student) (string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   student.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		UserID: student.ID,
		Roll:   student.Roll,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	// Store session in Redis with same expiry as JWT.
	sessionKey := config.CacheKey.StudentSessionKey(student.ID)
	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active session in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.StudentSessionKey(studentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// Logout removes a student's session from Redis.
func (s *AuthService) Logout(ctx context.Context, studentID string) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentSessionKey(studentID)).Err()
}

// Me returns the logged-in student's profile.
func (s *AuthService) Me(ctx context.Context, studentID string) (*model.Student, error) {
	return s.students.GetByID(ctx, studentID)
}

// SetPassword stores a new bcrypt hash for the student and ends any active
// login session.
func (s *AuthService) SetPassword(ctx context.Context, studentID, password string) error {
	hash, err := s.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.students.UpdatePasswordHash(ctx, studentID, hash); err != nil {
		return err
	}
	if err := s.Logout(ctx, studentID); err != nil {
		s.log.Warn().Err(err).Str("student_id", studentID).Msg("Failed to clear login session after password change")
	}
	return nil
}

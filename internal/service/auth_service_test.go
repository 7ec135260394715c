package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/model"
	"github.com/mnrworld/exam-backend/internal/repository"
)

type fakeStudents struct {
	byID map[string]*model.Student
}

func (f *fakeStudents) GetByID(_ context.Context, id string) (*model.Student, error) {
	if s, ok := f.byID[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrStudentNotFound
}

func (f *fakeStudents) GetByRoll(_ context.Context, roll string) (*model.Student, error) {
	for _, s := range f.byID {
		if s.Roll == roll {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrStudentNotFound
}

func (f *fakeStudents) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s, ok := f.byID[id]
	if !ok {
		return repository.ErrStudentNotFound
	}
	s.PasswordHash = hash
	return nil
}

func newTestAuth(t *testing.T) (*AuthService, *fakeStudents, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("secret-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	students := &fakeStudents{byID: map[string]*model.Student{
		"u1": {ID: "u1", Name: "Asha", Roll: "R-100", PasswordHash: string(hash)},
		"u2": {ID: "u2", Name: "Legacy", Roll: "R-200"},
	}}

	cfg := &config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: bcrypt.MinCost,
	}
	return NewAuthService(cfg, rdb, students, zerolog.Nop()), students, mr
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		roll     string
		password string
		wantErr  error
	}{
		{name: "valid credentials", roll: "R-100", password: "secret-pass"},
		{name: "wrong password", roll: "R-100", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown roll", roll: "R-999", password: "secret-pass", wantErr: ErrInvalidCredentials},
		{name: "account without hash", roll: "R-200", password: "", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, _, _ := newTestAuth(t)
			res, err := auth.Login(context.Background(), tt.roll, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("login: %v", err)
			}
			if res.Token == "" || res.Student.ID != "u1" {
				t.Fatalf("unexpected login response: %+v", res)
			}

			claims, err := auth.ValidateToken(res.Token)
			if err != nil {
				t.Fatalf("validate token: %v", err)
			}
			if claims.UserID != "u1" || claims.Roll != "R-100" {
				t.Fatalf("unexpected claims: %+v", claims)
			}
		})
	}
}

func TestNewLoginInvalidatesPreviousDevice(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	ctx := context.Background()

	first, err := auth.Login(ctx, "R-100", "secret-pass")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	firstClaims, _ := auth.ValidateToken(first.Token)

	second, err := auth.Login(ctx, "R-100", "secret-pass")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	secondClaims, _ := auth.ValidateToken(second.Token)

	if err := auth.ValidateStudentSession(ctx, "u1", firstClaims.ID); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("old device should be invalidated, got %v", err)
	}
	if err := auth.ValidateStudentSession(ctx, "u1", secondClaims.ID); err != nil {
		t.Fatalf("new device should be valid: %v", err)
	}

	if err := auth.Logout(ctx, "u1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := auth.ValidateStudentSession(ctx, "u1", secondClaims.ID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after logout, got %v", err)
	}
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	res, err := auth.Login(context.Background(), "R-100", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := *auth
	otherCfg := *auth.cfg
	otherCfg.JWTSecret = "another-secret"
	other.cfg = &otherCfg

	if _, err := other.ValidateToken(res.Token); err == nil {
		t.Fatalf("token signed with a different secret must be rejected")
	}
	if _, err := auth.ValidateToken("not-a-jwt"); err == nil {
		t.Fatalf("garbage token must be rejected")
	}
}

func TestSetPasswordEndsSession(t *testing.T) {
	auth, students, mr := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Login(ctx, "R-100", "secret-pass"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !mr.Exists(config.CacheKey.StudentSessionKey("u1")) {
		t.Fatalf("login should store the session key")
	}

	if err := auth.SetPassword(ctx, "u2", "fresh-pass"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if students.byID["u2"].PasswordHash == "" {
		t.Fatalf("hash not stored")
	}
	if _, err := auth.Login(ctx, "R-200", "fresh-pass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	if err := auth.SetPassword(ctx, "u1", "rotated-pass"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if mr.Exists(config.CacheKey.StudentSessionKey("u1")) {
		t.Fatalf("password change should end the active session")
	}

	if err := auth.SetPassword(ctx, "missing", "whatever"); !errors.Is(err, repository.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}
}

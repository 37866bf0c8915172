// Package auth issues and validates the driver tokens the realtime server
// needs to identify a caller's role. Rider connections stay anonymous.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/bus-tracker/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Claims is what a validated token carries.
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	BusID    string `json:"busId"`
	jwt.RegisteredClaims
}

type Service struct {
	secret []byte
	ttl    time.Duration

	mu    sync.RWMutex
	users map[string]models.User
}

func NewService(secret string, ttl time.Duration) *Service {
	s := &Service{secret: []byte(secret), ttl: ttl, users: make(map[string]models.User)}
	s.seedUsers()
	return s
}

// seedUsers mirrors the provisioned driver accounts. Password hashing at
// startup keeps plaintext out of the binary's data segment.
func (s *Service) seedUsers() {
	seed := []struct {
		id         int64
		employeeID string
		username   string
		busID      string
	}{
		{1, "drvr-1", "driver1", "bus-1"},
		{2, "drvr-2", "driver2", "bus-2"},
		{3, "drvr-3", "driver3", "bus-3"},
		{4, "drvr-4", "driver4", "bus-4"},
		{5, "drvr-5", "driver5", "bus-5"},
	}
	for _, u := range seed {
		hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		s.users[u.username] = models.User{
			ID:           u.id,
			EmployeeID:   u.employeeID,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         "driver",
			BusID:        u.busID,
		}
	}
}

func (s *Service) FindByUsername(username string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	return u, ok
}

// Login verifies credentials and returns a signed token. Only driver
// accounts may log in here.
func (s *Service) Login(username, password string) (string, models.User, error) {
	u, ok := s.FindByUsername(username)
	if !ok {
		return "", models.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", models.User{}, ErrInvalidCredentials
	}
	if u.Role != "driver" {
		return "", models.User{}, ErrInvalidCredentials
	}
	token, err := s.GenerateToken(u)
	if err != nil {
		return "", models.User{}, err
	}
	return token, u, nil
}

func (s *Service) GenerateToken(u models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		BusID:    u.BusID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) ValidateToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

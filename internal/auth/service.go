package auth

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/panel-gateway/internal/config"
	"github.com/panel-gateway/internal/models"
)

// SessionClaims 会话令牌声明，携带上游凭据
type SessionClaims struct {
	PanelAuth string `json:"panel_auth"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// Service 会话服务
type Service struct {
	key    []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

// NewService 创建会话服务，签名密钥由配置密钥经 HKDF 派生
func NewService(cfg config.SessionConfig) (*Service, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(cfg.Secret), []byte(cfg.Issuer), []byte("panel-gateway session v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}

	return &Service{
		key:    key,
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
		now:    time.Now,
	}, nil
}

// Issue 注册成功后签发会话令牌
func (s *Service) Issue(subject string, data *models.AuthData) (string, error) {
	if data == nil || data.AuthData == "" {
		return "", ErrMissingAuthData
	}

	now := s.now()
	claims := SessionClaims{
		PanelAuth: data.AuthData,
		IsAdmin:   bool(data.IsAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Validate 校验会话令牌
func (s *Service) Validate(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.PanelAuth == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expiry 会话有效期
func (s *Service) Expiry() time.Duration {
	return s.expiry
}

// 错误定义
var (
	ErrMissingSecret   = Error("session secret is not configured")
	ErrMissingAuthData = Error("panel did not return auth data")
	ErrInvalidToken    = Error("invalid session token")
)

type Error string

func (e Error) Error() string {
	return string(e)
}

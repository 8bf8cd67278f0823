package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"featuregate/internal/config"
	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	RedisKeyPrefix = "featuregate:auth:session:"
	Issuer         = "featuregate-auth-service"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrSessionExpired     = errors.New("session expired")
)

// AuthService issues operator tokens and verifies every bearer token. Tenant
// tokens are minted by the host application with the shared signing key and
// carry the subject claims.
type AuthService struct {
	redis             *redis.Client
	signingKey        []byte
	accessTokenTTL    time.Duration
	refreshTokenTTL   time.Duration
	adminUsername     string
	adminPasswordHash []byte
	operatorRole      string
}

type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	OrgID    string `json:"org,omitempty"`
	RoleID   string `json:"role_id,omitempty"`
	UserType string `json:"user_type,omitempty"`
	jwt.RegisteredClaims
}

// Identity maps the claims onto the request caller.
func (c *UserClaims) Identity() *Identity {
	return &Identity{
		UserID:   c.UserID,
		Name:     c.Username,
		Role:     c.Role,
		OrgID:    c.OrgID,
		RoleID:   c.RoleID,
		UserType: c.UserType,
	}
}

func NewAuthService(rdb *redis.Client, cfg config.AuthConfig) *AuthService {
	role := "admin"
	if len(cfg.AdminRoles) > 0 {
		role = cfg.AdminRoles[0]
	}
	return &AuthService{
		redis:             rdb,
		signingKey:        []byte(cfg.SigningKey),
		accessTokenTTL:    cfg.AccessTokenTTL,
		refreshTokenTTL:   cfg.RefreshTokenTTL,
		adminUsername:     cfg.AdminUsername,
		adminPasswordHash: []byte(cfg.AdminPasswordHash),
		operatorRole:      role,
	}
}

// Login authenticates the configured operator and returns a pair of tokens.
// It always fails while no password hash is configured.
func (s *AuthService) Login(ctx context.Context, in req.LoginReq) (*resp.TokenResp, error) {
	if len(s.adminPasswordHash) == 0 || in.Username != s.adminUsername {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.adminPasswordHash, []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	claims := UserClaims{
		UserID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(in.Username)).String(),
		Username: in.Username,
		Role:     s.operatorRole,
	}
	tokens, err := s.generateTokens(ctx, claims)
	if err != nil {
		return nil, err
	}
	tokens.User = resp.UserInfo{
		ID:       claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}
	return tokens, nil
}

// ParseAccess verifies a bearer token and returns its claims.
func (s *AuthService) ParseAccess(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// SignAccess signs claims as a short-lived access token.
func (s *AuthService) SignAccess(claims UserClaims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    Issuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// Refresh rotates the token pair. Only the latest refresh token of a user is accepted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.ParseAccess(refreshToken)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%s", RedisKeyPrefix, claims.UserID)
	storedToken, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if storedToken != refreshToken {
		return nil, ErrTokenInvalid
	}

	return s.generateTokens(ctx, UserClaims{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	})
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	key := fmt.Sprintf("%s%s", RedisKeyPrefix, userID)
	return s.redis.Del(ctx, key).Err()
}

func (s *AuthService) generateTokens(ctx context.Context, claims UserClaims) (*resp.TokenResp, error) {
	accessToken, err := s.SignAccess(claims)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rtClaims := claims
	rtClaims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    Issuer,
		ID:        uuid.New().String(),
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rtClaims).SignedString(s.signingKey)
	if err != nil {
		return nil, err
	}

	// allow-list of one refresh token per user
	key := fmt.Sprintf("%s%s", RedisKeyPrefix, claims.UserID)
	if err := s.redis.Set(ctx, key, refreshToken, s.refreshTokenTTL).Err(); err != nil {
		return nil, err
	}

	return &resp.TokenResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenTTL.Seconds()),
	}, nil
}

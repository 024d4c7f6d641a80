package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-relay/internal/platform/middleware"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken 未提供 token
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken token 無效或過期
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrIdentityMismatch 宣稱的用戶 ID 與 token 不符
	ErrIdentityMismatch = errors.New("auth: claimed user does not match token")
)

// Claims JWT 聲明，依序採用 sub、user_id、userId
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	// 既有登入服務簽發的 token 只帶 userId
	LegacyUserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Identity 取得 token 代表的用戶 ID
func (c *Claims) Identity() string {
	switch {
	case c.Subject != "":
		return c.Subject
	case c.UserID != "":
		return c.UserID
	default:
		return c.LegacyUserID
	}
}

// Verifier HS256 token 驗證器
//
// enabled 為 false 時（開發環境）直接信任宣稱的用戶 ID，只檢查格式。
type Verifier struct {
	secret  []byte
	issuer  string
	enabled bool
}

// NewVerifier 創建驗證器
func NewVerifier(secret, issuer string, enabled bool) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, enabled: enabled}
}

// Enabled 是否啟用 token 驗證
func (v *Verifier) Enabled() bool { return v.enabled }

// Sign 簽發 token（測試與內部工具使用）
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ParseToken 驗證 token 並回傳用戶 ID
func (v *Verifier) ParseToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Identity() == "" {
		return "", ErrInvalidToken
	}
	if err := middleware.ValidateUserID(claims.Identity()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Identity(), nil
}

// VerifyIdentity 驗證連接的身份聲明
func (v *Verifier) VerifyIdentity(_ context.Context, claimedUserID, token string) (string, error) {
	claimedUserID = strings.TrimSpace(claimedUserID)

	if !v.enabled {
		if err := middleware.ValidateUserID(claimedUserID); err != nil {
			return "", err
		}
		return claimedUserID, nil
	}

	userID, err := v.ParseToken(token)
	if err != nil {
		return "", err
	}
	if claimedUserID != "" && claimedUserID != userID {
		return "", ErrIdentityMismatch
	}
	return userID, nil
}

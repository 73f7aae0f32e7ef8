package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose はアクショントークンの用途。
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailConfirmation TokenPurpose = "email_confirmation"
)

const tokenIssuer = "estate"

// ErrInvalidActionToken はアクショントークンが無効であることを表す。
var ErrInvalidActionToken = errors.New("invalid action token")

// ActionClaims はメールで送るアクショントークンのクレーム。
type ActionClaims struct {
	Purpose     TokenPurpose `json:"purpose"`
	Fingerprint string       `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256署名のアクショントークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// Issue はidentity向けのアクショントークンを発行する。
func (t *TokenIssuer) Issue(identityID string, purpose TokenPurpose, fingerprint string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := ActionClaims{
		Purpose:     purpose,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse はトークンを検証し、用途が一致する場合にクレームを返す。
// 署名不正、期限切れ、用途違いはすべてErrInvalidActionTokenとなる。
func (t *TokenIssuer) Parse(token string, purpose TokenPurpose) (*ActionClaims, error) {
	claims := &ActionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActionToken, err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidActionToken
	}
	return claims, nil
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証クレデンシャルを表す。
// Identity Store が排他的に所有し、アプリケーションは作成とクレデンシャル更新以外では変更しない。
type Identity struct {
	ID               string
	Email            string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsConfirmed はメールアドレスが確認済みかどうかを返す。
func (i *Identity) IsConfirmed() bool {
	return i.EmailConfirmedAt != nil
}

// AuthSession はクライアントコンテキストと認証済みIdentityの結び付きを表す。
// AccessTokenは不透明なランダム値で、auth_sessionsテーブルの主キーとなる。
type AuthSession struct {
	AccessToken string
	IdentityID  string
	Email       string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired は指定時刻時点でセッションが期限切れかどうかを返す。
func (s *AuthSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Profile はIdentityと1対1で紐づくアプリケーション側のユーザー情報を表す。
type Profile struct {
	ID        string
	UserID    string
	Name      string
	Mobile    string
	Email     string
	Address   string
	IsAdmin   bool
	CreatedAt time.Time
}

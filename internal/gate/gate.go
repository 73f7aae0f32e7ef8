// Package gate はSession Managerの状態に基づいて、認証済みユーザー向け・管理者向けの
// 画面やAPIへのアクセス可否を判定する。
package gate

import (
	"net/url"

	"github.com/hitoshi/estate/internal/session"
)

const (
	// LoginPath はログイン画面のパス。
	LoginPath = "/login"
	// UserHomePath は一般ユーザーの遷移先。
	UserHomePath = "/dashboard"
)

// Outcome は判定結果の種別。
type Outcome int

const (
	// Wait は初期化中のため判定を保留する。
	Wait Outcome = iota
	// Allow はアクセスを許可する。
	Allow
	// RedirectLogin は未認証のためログイン画面へ誘導する。
	RedirectLogin
	// RedirectUser は権限不足のため一般ユーザーの画面へ誘導する。
	RedirectUser
)

func (o Outcome) String() string {
	switch o {
	case Wait:
		return "wait"
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUser:
		return "redirect_user"
	default:
		return "unknown"
	}
}

// Decision はアクセス判定の結果。
// RedirectLoginの場合、Fromにログイン後に戻るべき元のパスを保持する。
type Decision struct {
	Outcome Outcome
	From    string
}

// RedirectTo は誘導先のURLを返す。誘導しない判定では空文字列を返す。
func (d Decision) RedirectTo() string {
	switch d.Outcome {
	case RedirectLogin:
		if d.From == "" {
			return LoginPath
		}
		return LoginPath + "?from=" + url.QueryEscape(d.From)
	case RedirectUser:
		return UserHomePath
	default:
		return ""
	}
}

// RequireAuthenticated は認証済みユーザーのみを通す。
func RequireAuthenticated(view session.View, requestedPath string) Decision {
	switch {
	case view.IsInitializing():
		return Decision{Outcome: Wait}
	case !view.IsAuthenticated():
		return Decision{Outcome: RedirectLogin, From: requestedPath}
	default:
		return Decision{Outcome: Allow}
	}
}

// RequireAdmin は管理者のみを通す。
// プロフィールが解決できていない認証済みユーザーは管理者として扱わない。
func RequireAdmin(view session.View, requestedPath string) Decision {
	d := RequireAuthenticated(view, requestedPath)
	if d.Outcome != Allow {
		return d
	}
	if !view.IsAdmin() {
		return Decision{Outcome: RedirectUser}
	}
	return d
}

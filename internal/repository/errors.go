package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrReferenceMissing は外部キーの参照先が存在しないことを表す。
	ErrReferenceMissing = errors.New("referenced record missing")
)

// PostgreSQLのエラーコード。
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// DuplicateError は一意制約違反の詳細を保持する。
// errors.Is(err, ErrDuplicate) で判定できる。
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicate, e.Constraint)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// ReferenceError は外部キー制約違反の詳細を保持する。
// errors.Is(err, ErrReferenceMissing) で判定できる。
type ReferenceError struct {
	Constraint string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrReferenceMissing, e.Constraint)
}

func (e *ReferenceError) Unwrap() error {
	return ErrReferenceMissing
}

// mapPQError はlib/pqのエラーをリポジトリのエラーに変換する。
// 一意制約違反と外部キー制約違反以外はそのまま返す。
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case uniqueViolation:
		return &DuplicateError{Constraint: pqErr.Constraint}
	case foreignKeyViolation:
		return &ReferenceError{Constraint: pqErr.Constraint}
	}
	return err
}

// checkRowsAffected は更新件数が0の場合にErrNotFoundを返す。
func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullStringPtr はsql.NullStringをポインタに変換する。
func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// nullTimePtr はsql.NullTimeをポインタに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

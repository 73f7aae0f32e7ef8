// Package model はドメインモデルを定義する。
package model

import "time"

// Property は物件情報を表す。
// 問い合わせから参照されるが、中核のワークフローには含まれない。
type Property struct {
	ID              string
	UniqueCode      string
	Name            string
	FullLocation    string
	Lat             *float64
	Lng             *float64
	Description     string
	Price           float64
	AreaSqft        float64
	PropertyType    string
	AdType          string
	DirectionFacing string
	Length          float64
	Breadth         float64
	ThumbnailURL    string
	Images          []string
	CreatedBy       string
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsDeleted は論理削除済みかどうかを返す。
func (p *Property) IsDeleted() bool {
	return p.DeletedAt != nil
}

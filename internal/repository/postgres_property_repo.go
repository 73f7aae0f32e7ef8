package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/estate/internal/model"
)

// PostgresPropertyRepo はPostgreSQLを使用した物件リポジトリ。
type PostgresPropertyRepo struct {
	db *sql.DB
}

// NewPostgresPropertyRepo はPostgresPropertyRepoを生成する。
func NewPostgresPropertyRepo(db *sql.DB) *PostgresPropertyRepo {
	return &PostgresPropertyRepo{db: db}
}

const propertyColumns = `id, unique_code, name, full_location, lat, lng, description,
	price, area_sqft, property_type, ad_type, direction_facing, length, breadth,
	thumbnail_url, images, created_by, deleted_at, created_at, updated_at`

// propertyColumnsWithAlias はJOIN時に使用するp.接頭辞付きのカラム一覧。
const propertyColumnsWithAlias = `p.id, p.unique_code, p.name, p.full_location, p.lat, p.lng, p.description,
	p.price, p.area_sqft, p.property_type, p.ad_type, p.direction_facing, p.length, p.breadth,
	p.thumbnail_url, p.images, p.created_by, p.deleted_at, p.created_at, p.updated_at`

// propertyScanner はproperties行の読み取り先を保持する。
// 問い合わせとのJOIN結果でも使えるよう、Scan先の一覧と後処理を分離している。
type propertyScanner struct {
	p         *model.Property
	lat, lng  sql.NullFloat64
	images    []byte
	createdBy sql.NullString
	deletedAt sql.NullTime
}

func newPropertyScanner(p *model.Property) *propertyScanner {
	return &propertyScanner{p: p}
}

func (s *propertyScanner) dest() []any {
	p := s.p
	return []any{
		&p.ID, &p.UniqueCode, &p.Name, &p.FullLocation, &s.lat, &s.lng, &p.Description,
		&p.Price, &p.AreaSqft, &p.PropertyType, &p.AdType, &p.DirectionFacing, &p.Length, &p.Breadth,
		&p.ThumbnailURL, &s.images, &s.createdBy, &s.deletedAt, &p.CreatedAt, &p.UpdatedAt,
	}
}

func (s *propertyScanner) finish() error {
	if s.lat.Valid {
		v := s.lat.Float64
		s.p.Lat = &v
	}
	if s.lng.Valid {
		v := s.lng.Float64
		s.p.Lng = &v
	}
	s.p.CreatedBy = nullStringValue(s.createdBy)
	s.p.DeletedAt = nullTimePtr(s.deletedAt)
	s.p.Images = nil
	if len(s.images) > 0 {
		if err := json.Unmarshal(s.images, &s.p.Images); err != nil {
			return fmt.Errorf("物件画像の読み取りに失敗しました: %w", err)
		}
	}
	return nil
}

func scanProperty(row interface{ Scan(...any) error }) (*model.Property, error) {
	p := &model.Property{}
	s := newPropertyScanner(p)
	if err := row.Scan(s.dest()...); err != nil {
		return nil, err
	}
	if err := s.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

func encodeImages(images []string) ([]byte, error) {
	if images == nil {
		images = []string{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("物件画像のエンコードに失敗しました: %w", err)
	}
	return b, nil
}

// FindByID は指定IDの物件を取得する。見つからない場合はnilを返す。
func (r *PostgresPropertyRepo) FindByID(ctx context.Context, id string) (*model.Property, error) {
	p, err := scanProperty(r.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("物件の取得に失敗しました: %w", err)
	}
	return p, nil
}

// ListActive は論理削除されていない物件をcreated_at降順で取得する。
func (r *PostgresPropertyRepo) ListActive(ctx context.Context, limit, offset int) ([]*model.Property, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+propertyColumns+`
		 FROM properties
		 WHERE deleted_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("物件一覧の取得に失敗しました: %w", err)
	}
	return collectProperties(rows)
}

// SearchByLocation はfull_locationの部分一致で物件を検索する。
func (r *PostgresPropertyRepo) SearchByLocation(ctx context.Context, query string, limit int) ([]*model.Property, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+propertyColumns+`
		 FROM properties
		 WHERE deleted_at IS NULL AND full_location ILIKE $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		"%"+escapeLike(query)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("物件の検索に失敗しました: %w", err)
	}
	return collectProperties(rows)
}

func collectProperties(rows *sql.Rows) ([]*model.Property, error) {
	defer rows.Close()

	var properties []*model.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("物件行の読み取りに失敗しました: %w", err)
		}
		properties = append(properties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("物件一覧の走査に失敗しました: %w", err)
	}
	return properties, nil
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Create は物件を作成する。
func (r *PostgresPropertyRepo) Create(ctx context.Context, p *model.Property) error {
	images, err := encodeImages(p.Images)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO properties (id, unique_code, name, full_location, lat, lng, description,
		        price, area_sqft, property_type, ad_type, direction_facing, length, breadth,
		        thumbnail_url, images, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		p.ID, p.UniqueCode, p.Name, p.FullLocation, p.Lat, p.Lng, p.Description,
		p.Price, p.AreaSqft, p.PropertyType, p.AdType, p.DirectionFacing, p.Length, p.Breadth,
		p.ThumbnailURL, images, nullString(p.CreatedBy), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("物件の作成に失敗しました: %w", mapPQError(err))
	}
	return nil
}

// Update は物件情報を更新する。unique_codeとcreated_byは変更しない。
func (r *PostgresPropertyRepo) Update(ctx context.Context, p *model.Property) error {
	images, err := encodeImages(p.Images)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE properties
		 SET name = $2, full_location = $3, lat = $4, lng = $5, description = $6,
		     price = $7, area_sqft = $8, property_type = $9, ad_type = $10,
		     direction_facing = $11, length = $12, breadth = $13,
		     thumbnail_url = $14, images = $15, updated_at = $16
		 WHERE id = $1 AND deleted_at IS NULL`,
		p.ID, p.Name, p.FullLocation, p.Lat, p.Lng, p.Description,
		p.Price, p.AreaSqft, p.PropertyType, p.AdType,
		p.DirectionFacing, p.Length, p.Breadth,
		p.ThumbnailURL, images, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("物件の更新に失敗しました: %w", err)
	}
	return checkRowsAffected(result)
}

// SoftDelete はdeleted_atを設定して物件を論理削除する。
func (r *PostgresPropertyRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE properties SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("物件の削除に失敗しました: %w", err)
	}
	return checkRowsAffected(result)
}

// compile-time interface check
var _ PropertyRepository = (*PostgresPropertyRepo)(nil)

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/validation"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// errInvalidRequest はリクエストボディの解析に失敗した場合のエラー。
var errInvalidRequest = &model.APIError{
	Code:     model.ErrCodeValidation,
	Message:  "Failed to parse request body",
	Category: "validation",
	Action:   "Send a valid JSON request body.",
}

// decodeJSON はリクエストボディをJSONとしてdstに読み込む。
// 解析に失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, errInvalidRequest)
		return false
	}
	return true
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットのレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErrs *validation.FieldErrors
	if errors.As(err, &fieldErrs) {
		writeJSON(w, http.StatusBadRequest, validationErrorBody{
			ErrorResponseBody: toErrorBody(fieldErrs.APIError()),
			Fields:            fieldErrs.Fields,
		})
		return
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	status := middleware.StatusForKind(model.KindOf(apiErr))
	if status >= http.StatusInternalServerError {
		slog.Error("service error",
			slog.String("path", r.URL.Path),
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// validationErrorBody はフィールド単位のメッセージを含む入力検証エラーのレスポンス。
type validationErrorBody struct {
	middleware.ErrorResponseBody
	Fields map[string]string `json:"fields"`
}

func toErrorBody(apiErr *model.APIError) middleware.ErrorResponseBody {
	return middleware.ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// --- レスポンス型 ---

type identityResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

type profileResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Mobile    string    `json:"mobile"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type propertyResponse struct {
	ID              string    `json:"id"`
	UniqueCode      string    `json:"unique_code"`
	Name            string    `json:"name"`
	FullLocation    string    `json:"full_location"`
	Lat             *float64  `json:"lat"`
	Lng             *float64  `json:"lng"`
	Description     string    `json:"description"`
	Price           float64   `json:"price"`
	PriceDisplay    string    `json:"price_display"`
	AreaSqft        float64   `json:"area_sqft"`
	PropertyType    string    `json:"property_type"`
	AdType          string    `json:"ad_type"`
	DirectionFacing string    `json:"direction_facing"`
	Length          float64   `json:"length"`
	Breadth         float64   `json:"breadth"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	Images          []string  `json:"images"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type inquiryResponse struct {
	ID                     string     `json:"id"`
	PropertyID             string     `json:"property_id"`
	UserID                 string     `json:"user_id"`
	RequestedVisitDatetime time.Time  `json:"requested_visit_datetime"`
	Status                 string     `json:"status"`
	AdminAssignedDatetime  *time.Time `json:"admin_assigned_datetime"`
	AdminNotes             *string    `json:"admin_notes"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type inquiryWithPropertyResponse struct {
	inquiryResponse
	Property propertyResponse `json:"property"`
}

type adminInquiryResponse struct {
	inquiryResponse
	Property propertyResponse `json:"property"`
	Profile  profileResponse  `json:"profile"`
}

func toIdentityResponse(u *model.Identity) *identityResponse {
	if u == nil {
		return nil
	}
	return &identityResponse{ID: u.ID, Email: u.Email, EmailConfirmed: u.IsConfirmed()}
}

func toProfileResponse(p *model.Profile) *profileResponse {
	if p == nil {
		return nil
	}
	return &profileResponse{
		ID:        p.ID,
		UserID:    p.UserID,
		Name:      p.Name,
		Mobile:    p.Mobile,
		Email:     p.Email,
		Address:   p.Address,
		IsAdmin:   p.IsAdmin,
		CreatedAt: p.CreatedAt,
	}
}

func toPropertyResponse(p *model.Property, formatPrice func(*model.Property) string) propertyResponse {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return propertyResponse{
		ID:              p.ID,
		UniqueCode:      p.UniqueCode,
		Name:            p.Name,
		FullLocation:    p.FullLocation,
		Lat:             p.Lat,
		Lng:             p.Lng,
		Description:     p.Description,
		Price:           p.Price,
		PriceDisplay:    formatPrice(p),
		AreaSqft:        p.AreaSqft,
		PropertyType:    p.PropertyType,
		AdType:          p.AdType,
		DirectionFacing: p.DirectionFacing,
		Length:          p.Length,
		Breadth:         p.Breadth,
		ThumbnailURL:    p.ThumbnailURL,
		Images:          images,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toInquiryResponse(i *model.Inquiry) inquiryResponse {
	return inquiryResponse{
		ID:                     i.ID,
		PropertyID:             i.PropertyID,
		UserID:                 i.UserID,
		RequestedVisitDatetime: i.RequestedVisitDatetime,
		Status:                 string(i.Status),
		AdminAssignedDatetime:  i.AdminAssignedDatetime,
		AdminNotes:             i.AdminNotes,
		CreatedAt:              i.CreatedAt,
		UpdatedAt:              i.UpdatedAt,
	}
}

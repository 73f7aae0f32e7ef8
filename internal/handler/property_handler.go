package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/property"
)

// PropertyServiceInterface は物件ハンドラーが必要とするサービスインターフェース。*property.Serviceが実装する。
type PropertyServiceInterface interface {
	List(ctx context.Context, limit, offset int) ([]*model.Property, error)
	Search(ctx context.Context, query string, limit int) ([]*model.Property, error)
	Get(ctx context.Context, id string) (*model.Property, error)
	Create(ctx context.Context, createdBy string, in property.Input) (*model.Property, error)
	Update(ctx context.Context, id string, in property.Input) (*model.Property, error)
	SoftDelete(ctx context.Context, id string) error
}

// PropertyHandler は物件の参照と管理のHTTPハンドラー。
type PropertyHandler struct {
	service PropertyServiceInterface
}

// NewPropertyHandler はPropertyHandlerを生成する。
func NewPropertyHandler(service PropertyServiceInterface) *PropertyHandler {
	return &PropertyHandler{service: service}
}

type propertyListResponse struct {
	Properties []propertyResponse `json:"properties"`
}

// List は論理削除されていない物件を新しい順に返す。
// GET /api/properties?limit=&offset=
func (h *PropertyHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	props, err := h.service.List(r.Context(), queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyList(props))
}

// Search は所在地の部分一致で物件を検索する。
// GET /api/properties/search?q=&limit=
func (h *PropertyHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	props, err := h.service.Search(r.Context(), q.Get("q"), queryInt(q.Get("limit")))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyList(props))
}

// Get は物件詳細を返す。
// GET /api/properties/{id}
func (h *PropertyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyResponse(p, property.FormatPrice))
}

// Create は物件を登録する。管理コードはサーバー側で採番する。
// POST /api/admin/properties
func (h *PropertyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var in property.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	p, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPropertyResponse(p, property.FormatPrice))
}

// Update は物件を更新する。
// PUT /api/admin/properties/{id}
func (h *PropertyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in property.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPropertyResponse(p, property.FormatPrice))
}

// Delete は物件を論理削除する。既存の問い合わせからは引き続き参照できる。
// DELETE /api/admin/properties/{id}
func (h *PropertyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toPropertyList(props []*model.Property) propertyListResponse {
	resp := propertyListResponse{Properties: make([]propertyResponse, 0, len(props))}
	for _, p := range props {
		resp.Properties = append(resp.Properties, toPropertyResponse(p, property.FormatPrice))
	}
	return resp
}

// queryInt はクエリパラメータを整数に変換する。不正な値は0（既定値）として扱う。
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

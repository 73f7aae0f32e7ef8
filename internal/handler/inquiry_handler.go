package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/estate/internal/inquiry"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/property"
)

// InquiryServiceInterface は内見リクエストハンドラーが必要とするサービスインターフェース。*inquiry.Serviceが実装する。
type InquiryServiceInterface interface {
	CreateInquiry(ctx context.Context, req inquiry.CreateRequest) (*model.Inquiry, error)
	ListForUser(ctx context.Context, userID string) ([]model.InquiryWithProperty, error)
	ListForAdmin(ctx context.Context, filter string) ([]model.InquiryWithPropertyAndProfile, error)
	Approve(ctx context.Context, req inquiry.ApproveRequest) (*inquiry.DecisionResult, error)
	Deny(ctx context.Context, req inquiry.DenyRequest) (*inquiry.DecisionResult, error)
}

// InquiryHandler は内見リクエストのHTTPハンドラー。
type InquiryHandler struct {
	service InquiryServiceInterface
}

// NewInquiryHandler はInquiryHandlerを生成する。
func NewInquiryHandler(service InquiryServiceInterface) *InquiryHandler {
	return &InquiryHandler{service: service}
}

type inquiryListResponse struct {
	Inquiries []inquiryWithPropertyResponse `json:"inquiries"`
}

type adminInquiryListResponse struct {
	Inquiries []adminInquiryResponse `json:"inquiries"`
}

// decisionResponse は判定結果。warningsは判定を妨げない注意事項。
type decisionResponse struct {
	Inquiry  inquiryResponse `json:"inquiry"`
	Warnings []string        `json:"warnings"`
}

// Create は内見リクエストを作成する。依頼者はセッションのユーザー。
// POST /api/inquiries
func (h *InquiryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req inquiry.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = userID

	created, err := h.service.CreateInquiry(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInquiryResponse(created))
}

// ListMine は自分の内見リクエストを物件情報付きで新しい順に返す。
// GET /api/inquiries
func (h *InquiryHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	items, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := inquiryListResponse{Inquiries: make([]inquiryWithPropertyResponse, 0, len(items))}
	for i := range items {
		resp.Inquiries = append(resp.Inquiries, inquiryWithPropertyResponse{
			inquiryResponse: toInquiryResponse(&items[i].Inquiry),
			Property:        toPropertyResponse(&items[i].Property, property.FormatPrice),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListForAdmin は全ユーザーの内見リクエストを返す。statusで絞り込める（all/pending/approved/denied）。
// GET /api/admin/inquiries?status=
func (h *InquiryHandler) ListForAdmin(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListForAdmin(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := adminInquiryListResponse{Inquiries: make([]adminInquiryResponse, 0, len(items))}
	for i := range items {
		resp.Inquiries = append(resp.Inquiries, adminInquiryResponse{
			inquiryResponse: toInquiryResponse(&items[i].Inquiry),
			Property:        toPropertyResponse(&items[i].Property, property.FormatPrice),
			Profile:         *toProfileResponse(&items[i].Profile),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Approve はpendingの内見リクエストを承認する。
// POST /api/admin/inquiries/{id}/approve
func (h *InquiryHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req inquiry.ApproveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InquiryID = chi.URLParam(r, "id")

	result, err := h.service.Approve(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(result))
}

// Deny はpendingの内見リクエストを却下する。
// POST /api/admin/inquiries/{id}/deny
func (h *InquiryHandler) Deny(w http.ResponseWriter, r *http.Request) {
	var req inquiry.DenyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InquiryID = chi.URLParam(r, "id")

	result, err := h.service.Deny(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(result))
}

func toDecisionResponse(result *inquiry.DecisionResult) decisionResponse {
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return decisionResponse{Inquiry: toInquiryResponse(result.Inquiry), Warnings: warnings}
}

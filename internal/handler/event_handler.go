package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
	"github.com/hitoshi/pricewatch/internal/repository"
)

// ChangeServiceInterface は変更イベントハンドラーが必要とするサービスインターフェース。
type ChangeServiceInterface interface {
	// IngestPricingPage は価格ページHTMLの1回分の取り込みを実行する。
	IngestPricingPage(ctx context.Context, companyID, sourceURL, html string, sourceType model.SourceType) (*model.CompetitorChangeEvent, error)
	// RecomputeChangeEvent は既存イベントの差分を直近2世代のスナップショットから再計算する。
	RecomputeChangeEvent(ctx context.Context, eventID string) (*model.CompetitorChangeEvent, error)
	// RedispatchEvent は既存イベントの通知を手動で再ディスパッチする。
	RedispatchEvent(ctx context.Context, eventID string) (*model.CompetitorChangeEvent, int, error)
	// ListChangeEvents はフィルタ条件に一致する変更イベントを新しい順に返す。
	ListChangeEvents(ctx context.Context, filter repository.EventListFilter) ([]*model.CompetitorChangeEvent, error)
}

// EventHandler は変更イベント管理のHTTPハンドラー。
type EventHandler struct {
	service ChangeServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service ChangeServiceInterface) *EventHandler {
	return &EventHandler{service: service}
}

// eventResponse は変更イベントのAPIレスポンス。
type eventResponse struct {
	ID                 string              `json:"id"`
	CompanyID          string              `json:"company_id"`
	SourceURL          string              `json:"source_url"`
	SourceType         string              `json:"source_type"`
	ChangeSummary      string              `json:"change_summary"`
	ChangedFields      []model.FieldChange `json:"changed_fields"`
	RawDiff            *model.PlanDiff     `json:"raw_diff,omitempty"`
	DetectedAt         time.Time           `json:"detected_at"`
	ProcessingStatus   string              `json:"processing_status"`
	NotificationStatus string              `json:"notification_status"`
	ErrorNote          string              `json:"error_note,omitempty"`
}

// dispatchResponse は手動再ディスパッチのAPIレスポンス。
type dispatchResponse struct {
	Event             eventResponse `json:"event"`
	DeliveriesCreated int           `json:"deliveries_created"`
}

// eventListResponse は変更イベント一覧のAPIレスポンス。
type eventListResponse struct {
	Events []eventResponse `json:"events"`
}

// Recompute は既存イベントの差分再計算を処理する。
// POST /api/events/:id/recompute
func (h *EventHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	event, err := h.service.RecomputeChangeEvent(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toEventResponse(event))
}

// Redispatch は既存イベントの通知再ディスパッチを処理する。
// POST /api/events/:id/dispatch
func (h *EventHandler) Redispatch(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	event, created, err := h.service.RedispatchEvent(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dispatchResponse{
		Event:             toEventResponse(event),
		DeliveriesCreated: created,
	})
}

// ListCompanyEvents は企業ごとの変更イベント一覧を取得する。
// GET /api/companies/:id/events?processing_status=&notification_status=&detected_after=&limit=
func (h *EventHandler) ListCompanyEvents(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "id")

	filter, apiErr := buildEventFilter(companyID, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	events, err := h.service.ListChangeEvents(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := eventListResponse{Events: make([]eventResponse, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, toEventResponse(event))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// buildEventFilter はクエリパラメータから一覧フィルタを組み立てる。
func buildEventFilter(companyID string, r *http.Request) (repository.EventListFilter, *model.APIError) {
	filter := repository.EventListFilter{CompanyID: companyID}
	q := r.URL.Query()

	if v := q.Get("processing_status"); v != "" {
		filter.ProcessingStatus = model.ProcessingStatus(v)
	}
	if v := q.Get("notification_status"); v != "" {
		filter.NotificationStatus = model.NotificationStatus(v)
	}
	if v := q.Get("detected_after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "detected_afterの形式が不正です。",
				Category: "validation",
				Action:   "RFC 3339形式（例: 2026-01-01T00:00:00Z）で指定してください。",
			}
		}
		filter.DetectedAfter = &ts
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitの値が不正です。",
				Category: "validation",
				Action:   "1以上の整数を指定してください。",
			}
		}
		filter.Limit = limit
	}

	return filter, nil
}

// --- ヘルパー関数 ---

// toEventResponse はmodel.CompetitorChangeEventからAPIレスポンスに変換する。
func toEventResponse(event *model.CompetitorChangeEvent) eventResponse {
	return eventResponse{
		ID:                 event.ID,
		CompanyID:          event.CompanyID,
		SourceURL:          event.SourceURL,
		SourceType:         string(event.SourceType),
		ChangeSummary:      event.ChangeSummary,
		ChangedFields:      event.ChangedFields,
		RawDiff:            event.RawDiff,
		DetectedAt:         event.DetectedAt,
		ProcessingStatus:   string(event.ProcessingStatus),
		NotificationStatus: string(event.NotificationStatus),
		ErrorNote:          event.ErrorNote,
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// writeInvalidRequest はリクエストボディの解析失敗レスポンスを書き込む。
func writeInvalidRequest(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

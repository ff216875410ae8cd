package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
)

// DeliveryFinder は配信レコード参照のためのインターフェース。
// repository.NotificationRepositoryを直接要求せず、最小限のインターフェースとして定義する。
type DeliveryFinder interface {
	// FindDeliveryByID は指定IDの配信レコードを取得する。見つからない場合はnilを返す。
	FindDeliveryByID(ctx context.Context, id string) (*model.NotificationDelivery, error)
	// ListDeliveriesByEventID は通知イベントに紐づく配信レコードを取得する。
	ListDeliveriesByEventID(ctx context.Context, eventID string) ([]*model.NotificationDelivery, error)
}

// DeliveryProcessor は配信試行実行のためのインターフェース。
type DeliveryProcessor interface {
	// ProcessDelivery は1件の配信を実行し、送達できたかを返す。
	ProcessDelivery(ctx context.Context, delivery *model.NotificationDelivery) (bool, error)
}

// DeliveryHandler は通知配信のHTTPハンドラー。
type DeliveryHandler struct {
	finder    DeliveryFinder
	processor DeliveryProcessor
}

// NewDeliveryHandler はDeliveryHandlerを生成する。
func NewDeliveryHandler(finder DeliveryFinder, processor DeliveryProcessor) *DeliveryHandler {
	return &DeliveryHandler{
		finder:    finder,
		processor: processor,
	}
}

// deliveryResponse は配信レコードのAPIレスポンス。
type deliveryResponse struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	UserID      string     `json:"user_id"`
	ChannelType string     `json:"channel_type"`
	Destination string     `json:"destination"`
	Status      string     `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// processDeliveryResponse は手動配信実行のAPIレスポンス。
type processDeliveryResponse struct {
	Delivery deliveryResponse `json:"delivery"`
	Sent     bool             `json:"sent"`
}

// deliveryListResponse は配信レコード一覧のAPIレスポンス。
type deliveryListResponse struct {
	Deliveries []deliveryResponse `json:"deliveries"`
}

// GetDelivery は配信レコードの詳細を取得する。
// GET /api/deliveries/:id
func (h *DeliveryHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "id")

	delivery, err := h.finder.FindDeliveryByID(r.Context(), deliveryID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if delivery == nil {
		apiErr := model.NewDeliveryNotFoundError(deliveryID)
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toDeliveryResponse(delivery))
}

// ProcessDelivery は1件の配信試行を手動で実行する。
// リトライ待ちをスキップして即時送信したい場合の運用操作。
// POST /api/deliveries/:id/process
func (h *DeliveryHandler) ProcessDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "id")

	delivery, err := h.finder.FindDeliveryByID(r.Context(), deliveryID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if delivery == nil {
		apiErr := model.NewDeliveryNotFoundError(deliveryID)
		middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
		return
	}

	sent, err := h.processor.ProcessDelivery(r.Context(), delivery)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(processDeliveryResponse{
		Delivery: toDeliveryResponse(delivery),
		Sent:     sent,
	})
}

// ListEventDeliveries は通知イベントに紐づく配信レコード一覧を取得する。
// GET /api/notifications/:id/deliveries
func (h *DeliveryHandler) ListEventDeliveries(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	deliveries, err := h.finder.ListDeliveriesByEventID(r.Context(), eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := deliveryListResponse{Deliveries: make([]deliveryResponse, 0, len(deliveries))}
	for _, delivery := range deliveries {
		resp.Deliveries = append(resp.Deliveries, toDeliveryResponse(delivery))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toDeliveryResponse はmodel.NotificationDeliveryからAPIレスポンスに変換する。
func toDeliveryResponse(delivery *model.NotificationDelivery) deliveryResponse {
	return deliveryResponse{
		ID:          delivery.ID,
		EventID:     delivery.EventID,
		UserID:      delivery.UserID,
		ChannelType: string(delivery.ChannelType),
		Destination: delivery.Destination,
		Status:      string(delivery.Status),
		Attempt:     delivery.Attempt,
		MaxAttempts: delivery.MaxAttempts,
		NextRetryAt: delivery.NextRetryAt,
		LastError:   delivery.LastError,
	}
}

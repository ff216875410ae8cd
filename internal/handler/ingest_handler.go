package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/pricewatch/internal/fetch"
	"github.com/hitoshi/pricewatch/internal/middleware"
	"github.com/hitoshi/pricewatch/internal/model"
)

// PageFetcherInterface は取り込みハンドラーが必要とするフェッチインターフェース。
// htmlを省略したリクエストでサーバー側フェッチに使用する。
type PageFetcherInterface interface {
	FetchPage(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// IngestHandler は価格ページ取り込みのHTTPハンドラー。
type IngestHandler struct {
	service ChangeServiceInterface
	fetcher PageFetcherInterface
}

// NewIngestHandler はIngestHandlerを生成する。
func NewIngestHandler(service ChangeServiceInterface, fetcher PageFetcherInterface) *IngestHandler {
	return &IngestHandler{
		service: service,
		fetcher: fetcher,
	}
}

// ingestRequest は取り込みリクエストのボディ。
// HTMLを省略した場合はサーバー側でsource_urlをフェッチする。
type ingestRequest struct {
	CompanyID  string `json:"company_id"`
	SourceURL  string `json:"source_url"`
	SourceType string `json:"source_type"`
	HTML       string `json:"html"`
}

// Ingest は価格ページの取り込みを処理する。
// POST /api/ingest
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	if req.CompanyID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewCompanyRequiredError())
		return
	}
	if req.SourceURL == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("source_urlが空です"))
		return
	}

	sourceType := model.SourceTypePricing
	if req.SourceType != "" {
		sourceType = model.SourceType(req.SourceType)
		if !sourceType.Valid() {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidSourceTypeError(req.SourceType))
			return
		}
	}

	html := req.HTML
	if html == "" {
		page, err := h.fetcher.FetchPage(r.Context(), req.SourceURL)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if page.Result != fetch.ResultOK {
			apiErr := model.NewFetchFailedError("対象ページの取得に失敗しました")
			middleware.WriteErrorResponse(w, middleware.StatusForError(apiErr), apiErr)
			return
		}
		html = page.Body
	}

	event, err := h.service.IngestPricingPage(r.Context(), req.CompanyID, req.SourceURL, html, sourceType)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toEventResponse(event))
}

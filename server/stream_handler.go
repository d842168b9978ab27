package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"SliceFM/config"
	"SliceFM/core/catalog"
	"SliceFM/core/ledger"
	"SliceFM/logger"
	"SliceFM/model"
	"SliceFM/repository"
	"SliceFM/storage"
)

// Payments 切片计费所需的支付服务接口
type Payments interface {
	ClaimDeposit(ctx context.Context, payID string, amount int64) (ledger.Claim, error)
	WebBalance(ctx context.Context, payIDs ...string) (int64, error)
}

// StreamHandler 处理切片、搜索、服务器信息和封面请求
type StreamHandler struct {
	cfg     *config.Config
	tracks  repository.TrackRepository
	catalog *catalog.Catalog
	slices  storage.SliceStore
	pay     Payments
}

// NewStreamHandler 创建流媒体处理器
func NewStreamHandler(cfg *config.Config, tracks repository.TrackRepository, slices storage.SliceStore, pay Payments) *StreamHandler {
	return &StreamHandler{
		cfg:     cfg,
		tracks:  tracks,
		catalog: catalog.New(tracks, cfg.Provider, cfg.MaxListResults),
		slices:  slices,
		pay:     pay,
	}
}

// sliceMeta 构造切片 no 的响应元数据，不含支付字段
func (h *StreamHandler) sliceMeta(track *model.Track, no int) *model.SliceMeta {
	info := track.Info
	if info.Comment == nil {
		comment := h.cfg.StdComment
		info.Comment = &comment
	}
	return &model.SliceMeta{
		ServerVersion: h.cfg.ServerVersion,
		Mime:          track.Mime,
		TrackID:       track.ID,
		Info:          info,
		SliceNo:       no,
		SliceCount:    track.Slice.Length,
		SliceDuration: track.Slice.Duration,
		Provider:      h.cfg.Provider,
		Price:         track.Slice.Price,
		Collateral:    h.cfg.SuggestedCollateral,
	}
}

// HandleSlice 按切片号返回音频数据；付费切片先在支付服务扣款，成功后才发送数据
func (h *StreamHandler) HandleSlice(w http.ResponseWriter, r *http.Request) {
	var req model.SliceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	track, err := h.tracks.GetTrackByID(ctx, req.ID)
	if err != nil {
		respondError(w, "slice", err)
		return
	}
	if track == nil {
		logger.Warn("slice requested for unknown track", logger.Int64("id", req.ID))
		writeJSON(w, model.ErrorResponse{Accepted: false, Error: model.RequestError})
		return
	}

	no := req.No
	if no < model.MetadataSlice || no >= track.Slice.Length {
		no = model.MetadataSlice
	}
	payID := sanitizePayID(req.PayID)
	meta := h.sliceMeta(track, no)

	if no != model.MetadataSlice && track.Slice.Price != 0 {
		claim, err := h.pay.ClaimDeposit(ctx, payID, track.Slice.Price)
		if err != nil {
			respondError(w, "claim", err)
			return
		}
		meta.Accepted, meta.Remaining = claim.Accepted, claim.Remaining
	} else {
		meta.Accepted = true
		if payID != "" {
			remaining, err := h.pay.WebBalance(ctx, payID)
			if err != nil {
				logger.Warn("balance lookup failed, continuing",
					logger.String("payID", payID),
					logger.ErrorField(err))
			}
			meta.Remaining = remaining
		}
	}

	var data []byte
	if no != model.MetadataSlice && meta.Accepted {
		data, err = h.slices.Get(ctx, track.SliceKey(no))
		if err != nil {
			respondError(w, "read slice", err)
			return
		}
	}

	meta.WriteHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Warn("write slice failed", logger.ErrorField(err))
		return
	}
	logger.Debug("slice sent",
		logger.Int64("track", track.ID),
		logger.Int("no", no),
		logger.Bool("accepted", meta.Accepted),
		logger.Int64("remaining", meta.Remaining))
}

// HandleSearch 搜索曲目或专辑
func (h *StreamHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	res, err := h.catalog.Search(r.Context(), req)
	if err != nil {
		respondError(w, "search", err)
		return
	}
	writeJSON(w, res)
}

// HandleInfo 返回服务器信息
func (h *StreamHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, model.InfoResponse{
		Accepted:            true,
		Version:             h.cfg.ServerVersion,
		Provider:            h.cfg.Provider,
		MaxListResults:      h.cfg.MaxListResults,
		SuggestedCollateral: h.cfg.SuggestedCollateral,
	})
}

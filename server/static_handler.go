package server

import (
	"net/http"
	"os"
	"path"
	"sync"

	"SliceFM/logger"
	"SliceFM/storage"

	"github.com/gorilla/mux"
)

const coverName = "folder.jpg"

// CoverHandler 返回专辑封面，找不到时返回默认封面
type CoverHandler struct {
	store        storage.SliceStore
	audioDir     string
	defaultCover string

	once     sync.Once
	fallback []byte
}

// NewCoverHandler 创建封面处理器
func NewCoverHandler(store storage.SliceStore, audioDir, defaultCover string) *CoverHandler {
	return &CoverHandler{store: store, audioDir: audioDir, defaultCover: defaultCover}
}

func (h *CoverHandler) defaultImage() []byte {
	h.once.Do(func() {
		data, err := os.ReadFile(h.defaultCover)
		if err != nil {
			logger.Warn("default cover not readable",
				logger.String("path", h.defaultCover),
				logger.ErrorField(err))
			return
		}
		h.fallback = data
	})
	return h.fallback
}

// ServeHTTP 实现 http.Handler 接口
func (h *CoverHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	albumID := mux.Vars(r)["albumID"]
	data, err := h.store.Get(r.Context(), path.Join(h.audioDir, albumID, coverName))
	if err != nil {
		data = h.defaultImage()
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Warn("write cover failed", logger.ErrorField(err))
	}
}

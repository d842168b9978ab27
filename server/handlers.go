package server

import (
	"encoding/json"
	"net/http"
	"regexp"

	"SliceFM/logger"
	"SliceFM/model"
)

var nonWord = regexp.MustCompile(`\W`)

// sanitizePayID 去掉支付 ID 中的非单词字符
func sanitizePayID(payID string) string {
	return nonWord.ReplaceAllString(payID, "")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", logger.ErrorField(err))
	}
}

// respondError 返回协议约定的通用失败响应体
func respondError(w http.ResponseWriter, op string, err error) {
	logger.Error("request failed", logger.String("op", op), logger.ErrorField(err))
	writeJSON(w, model.ErrorResponse{Accepted: false, Error: model.RequestError})
}

// corsMiddleware 允许任意来源访问，并暴露切片协议响应头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package payserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"SliceFM/core/auth"
	"SliceFM/core/ledger"
	"SliceFM/logger"
)

type ctxKey struct{}

// Handler 基于账本存储处理 payserver 动作
type Handler struct {
	store  ledger.Store
	secret []byte
}

// NewHandler 创建支付服务处理器，secret 为空时不校验令牌
func NewHandler(store ledger.Store, secret []byte) *Handler {
	return &Handler{store: store, secret: secret}
}

// ProviderFromContext 取出已授权请求的提供方
func ProviderFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(ctxKey{}).(string)
	return p, ok
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Authorize 校验 Bearer 令牌
func (h *Handler) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		parts := strings.Split(r.Header.Get("Authorization"), " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeJSON(w, http.StatusUnauthorized, Response{Error: ErrCodeUnauthorized})
			return
		}
		claims, err := auth.ParseToken(h.secret, parts[1])
		if err != nil {
			logger.Warn("[PayServer] 令牌无效", logger.ErrorField(err))
			writeJSON(w, http.StatusUnauthorized, Response{Error: ErrCodeUnauthorized})
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, claims.Provider)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, Response{Error: ErrCodeRequest})
		return
	}
	resp, err := h.Handle(r.Context(), req)
	if err != nil {
		logger.Error("[PayServer] 请求失败",
			logger.String("action", req.Action),
			logger.ErrorField(err))
		writeJSON(w, http.StatusOK, Response{Error: ErrCodeRequest})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Handle 执行一个动作
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	switch req.Action {
	case ActionClaimDeposit:
		if len(req.PayID) != 1 {
			return Response{Error: ErrCodeRequest}, nil
		}
		c, err := h.store.Claim(ctx, req.ClaimID, req.PayID[0], req.Amount)
		if err != nil {
			return Response{}, err
		}
		logger.Debug("[PayServer] claim",
			logger.String("payID", req.PayID[0]),
			logger.Int64("amount", req.Amount),
			logger.Bool("accepted", c.Accepted),
			logger.Int64("available", c.Remaining))
		return Response{Accepted: c.Accepted, Available: c.Remaining}, nil

	case ActionGetWebBalance:
		balances := make([]int64, 0, len(req.PayID))
		var total int64
		for _, id := range req.PayID {
			b, err := h.store.Balance(ctx, id)
			if err != nil {
				return Response{}, err
			}
			balances = append(balances, b)
			total += b
		}
		return Response{Accepted: true, Available: total, Balances: balances}, nil

	case ActionDeposit:
		if len(req.PayID) != 1 || req.Amount <= 0 {
			return Response{Error: ErrCodeRequest}, nil
		}
		b, err := h.store.Deposit(ctx, req.PayID[0], req.Amount)
		if err != nil {
			return Response{}, err
		}
		return Response{Accepted: true, Available: b}, nil
	}
	return Response{Error: ErrCodeRequest}, nil
}

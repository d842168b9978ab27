package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SliceFM/cache"
	"SliceFM/config"
	"SliceFM/core/bridge"
	"SliceFM/core/ledger"
	"SliceFM/core/payserver"
	"SliceFM/core/wallet"
	"SliceFM/db"
	"SliceFM/logger"
	"SliceFM/repository"
	"SliceFM/storage"

	"github.com/gorilla/mux"
)

const (
	indexReloadDebounce = 500 * time.Millisecond
	claimTTL            = 24 * time.Hour
)

// NewRouter 创建流媒体服务的路由
func NewRouter(streams *StreamHandler, covers http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/slice", streams.HandleSlice).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/search", streams.HandleSearch).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/info", streams.HandleInfo).Methods(http.MethodPost, http.MethodGet, http.MethodOptions)
	router.Handle("/cover/{albumID}", covers).Methods(http.MethodGet, http.MethodOptions)
	return router
}

// NewPayRouter 创建支付服务路由：账本接口和钱包桥接 websocket
func NewPayRouter(pay *payserver.Handler, b bridge.Bridge) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/bridge", NewBridgeHandler(b))

	api := router.NewRoute().Subrouter()
	api.Use(corsMiddleware, pay.Authorize)
	api.Handle("/", pay).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/payserv", pay).Methods(http.MethodPost, http.MethodOptions)
	return router
}

// openTrackIndex 按配置打开曲目索引，返回索引和关闭函数
func openTrackIndex(cfg *config.Config) (repository.TrackRepository, func(), error) {
	switch cfg.TrackIndex {
	case "mysql":
		if err := db.ConnectGormDB(cfg); err != nil {
			return nil, nil, err
		}
		return repository.NewGormTrackRepository(db.GormDB), func() { db.CloseGormDB() }, nil
	case "file", "":
		repo, err := repository.NewFileTrackRepository(cfg.StreamsDB)
		if err != nil {
			return nil, nil, err
		}
		if cfg.WatchIndex {
			if err := repo.Watch(indexReloadDebounce); err != nil {
				logger.Warn("track index hot reload disabled", logger.ErrorField(err))
			}
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown track index %q", cfg.TrackIndex)
	}
}

// ImportIndex 把 streams.json 导入 MySQL 曲目表
func ImportIndex(ctx context.Context, cfg *config.Config) (int, error) {
	tracks, err := repository.LoadTracks(cfg.StreamsDB)
	if err != nil {
		return 0, err
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		return 0, err
	}
	defer db.CloseGormDB()
	return repository.NewGormTrackRepository(db.GormDB).ImportTracks(ctx, tracks)
}

// openSliceStore 按配置打开切片存储，可选套一层 Redis 缓存
func openSliceStore(ctx context.Context, cfg *config.Config) (storage.SliceStore, error) {
	var store storage.SliceStore
	switch cfg.SliceStore {
	case "minio":
		s, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = s
	case "fs", "":
		store = storage.NewFileStore(".")
	default:
		return nil, fmt.Errorf("unknown slice store %q", cfg.SliceStore)
	}

	if !cfg.SliceCache {
		return store, nil
	}
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("slice cache disabled", logger.ErrorField(err))
		return store, nil
	}
	return cache.NewSliceCache(cache.RedisClient, store, cfg.SliceCacheTTL), nil
}

// Start 启动流媒体服务，阻塞直到收到退出信号
func Start(cfg *config.Config) error {
	ctx := context.Background()

	tracks, closeIndex, err := openTrackIndex(cfg)
	if err != nil {
		return fmt.Errorf("open track index: %w", err)
	}
	defer closeIndex()

	slices, err := openSliceStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open slice store: %w", err)
	}
	defer cache.CloseRedis()

	pay := payserver.NewClient(cfg.PayServerURL, cfg.Provider, []byte(cfg.PayServerSecret), cfg.PayTimeout)
	streams := NewStreamHandler(cfg, tracks, slices, pay)
	covers := NewCoverHandler(slices, cfg.AudioDir, cfg.DefaultCover)

	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Port),
		Handler:      NewRouter(streams, covers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	logger.Info("stream server starting",
		logger.String("addr", server.Addr),
		logger.String("provider", cfg.Provider),
		logger.String("index", cfg.TrackIndex),
		logger.String("store", cfg.SliceStore))
	return serve(server)
}

// openLedger 按配置选择账本存储
func openLedger(cfg *config.Config) (ledger.Store, error) {
	switch cfg.PayServerStore {
	case "redis":
		client, err := cache.NewRedisClient(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		cache.RedisClient = client
		return ledger.NewRedisStore(client, claimTTL), nil
	case "memory", "":
		return ledger.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown payserver store %q", cfg.PayServerStore)
	}
}

// StartPayServer 启动参考支付服务和钱包桥接
func StartPayServer(cfg *config.Config) error {
	store, err := openLedger(cfg)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer cache.CloseRedis()

	w := wallet.New(store, wallet.Options{Budget: cfg.WalletBudget, Prepay: cfg.WalletPrepay, MaxPPM: cfg.WalletMaxPPM})
	handler := payserver.NewHandler(store, []byte(cfg.PayServerSecret))

	server := &http.Server{
		Addr:        net.JoinHostPort("", cfg.PayServerPort),
		Handler:     NewPayRouter(handler, w),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	logger.Info("payserver starting",
		logger.String("addr", server.Addr),
		logger.String("store", cfg.PayServerStore),
		logger.Int64("budget", cfg.WalletBudget),
		logger.Bool("prepay", cfg.WalletPrepay))
	return serve(server)
}

// serve 运行服务器，收到 SIGINT/SIGTERM 后优雅关闭
func serve(server *http.Server) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	logger.Info("shutting down server", logger.String("addr", server.Addr))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped", logger.String("addr", server.Addr))
	return nil
}

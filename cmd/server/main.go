package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/gateway"
	"walletpay/internal/handler"
	"walletpay/internal/infrastructure/cache"
	"walletpay/internal/infrastructure/database"
	"walletpay/internal/infrastructure/logging"
	"walletpay/internal/infrastructure/mq"
	"walletpay/internal/job"
	"walletpay/internal/ledger"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/internal/settlement"
	"walletpay/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("WALLETPAY_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志，之后统一用 zap
	flush, err := logging.InitLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer flush()

	// 初始化 ID 生成器
	if err := idgen.Init(int64(cfg.Server.WorkerID)); err != nil {
		zap.L().Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	db := database.InitDatabase(&cfg.Database)

	// Redis 可选：token 缓存和收款方登记锁
	redisClient := cache.InitRedis(&cfg.Redis)

	publisher, err := mq.NewPublisher(&cfg.MQ)
	if err != nil {
		zap.L().Fatal("初始化消息队列失败", zap.String("driver", cfg.MQ.Driver), zap.Error(err))
	}
	defer publisher.Close()

	// 出款通道
	providers, err := gateway.NewProviders(cfg.Providers, gateway.NewTokenCache(redisClient))
	if err != nil {
		zap.L().Fatal("初始化出款通道失败", zap.Error(err))
	}
	adapter := gateway.NewAdapter(cfg.Payout.Routes, cfg.Payout.Currency, providers...)

	// 业务服务
	store := ledger.NewDBStore(db)
	credential := service.NewCredentialService(repository.NewCredentialRepository(db), &cfg.Payout)
	payout := service.NewPayoutService(db, cfg, store, adapter, credential)
	svc := handler.Services{
		Wallet:      service.NewWalletService(store),
		Beneficiary: service.NewBeneficiaryService(repository.NewBeneficiaryRepository(db), adapter, redisClient, cfg.MaxProviderTimeout()),
		Credential:  credential,
		Payout:      payout,
		Settlement: settlement.NewHandler(cfg.Settlement.WebhookSecrets, store,
			repository.NewOutboxRepository(db), cfg.MQ.Topic.DepositEvents),
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	var loops, auditDone sync.WaitGroup

	outboxSender := job.NewOutboxSender(db, cfg, publisher)
	poller := job.NewReconcilePoller(db, cfg, payout, adapter)
	loops.Add(2)
	go func() {
		defer loops.Done()
		outboxSender.Start(ctx)
	}()
	go func() {
		defer loops.Done()
		poller.Start(ctx)
	}()

	audit := job.NewLedgerAuditJob(db, cfg, store)
	auditDone.Add(1)
	go func() {
		defer auditDone.Done()
		if err := audit.Start(ctx); err != nil {
			zap.L().Error("账本审计任务启动失败", zap.Error(err))
		}
	}()

	router := handler.SetupRouter(svc, cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.L().Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.L().Info("正在关闭服务...")

	// 先停止接收请求，再停后台任务；进行中的出款在 WithoutCancel 上下文里继续落库
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Payout.GatewayTimeout+5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("服务关闭异常", zap.Error(err))
	}

	// 对账和消息投递跑完当前一轮再退出，超时才取消上下文
	outboxSender.Stop()
	poller.Stop()
	if !waitGroup(shutdownCtx, &loops) {
		zap.L().Warn("后台任务未在超时前结束，强制取消")
	}
	cancel()
	waitGroup(shutdownCtx, &auditDone)

	zap.L().Info("服务已关闭")
}

// waitGroup 等待 wg 结束，ctx 先到期时返回 false
func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

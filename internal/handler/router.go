package handler

import (
	"walletpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(svc Services, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(svc)

	api := r.Group("/api/v1")
	{
		// 通道回调，靠签名鉴权
		api.POST("/webhooks/deposits/:provider", h.DepositWebhook)

		authed := api.Group("", AuthMiddleware(&cfg.Auth))

		wallet := authed.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/pin", h.SetPIN)
		}

		beneficiaries := authed.Group("/beneficiaries")
		{
			beneficiaries.POST("", h.AddBeneficiary)
			beneficiaries.GET("", h.ListBeneficiaries)
		}

		withdrawals := authed.Group("/withdrawals")
		{
			withdrawals.POST("", h.RequestWithdrawal)
			withdrawals.GET("", h.ListWithdrawals)
			withdrawals.GET("/:request_no", h.GetWithdrawal)
		}

		admin := authed.Group("/admin", RequireRole(RoleAdmin))
		{
			admin.GET("/withdrawals/manual-review", h.ListManualReview)
			admin.POST("/withdrawals/:request_no/requeue", h.Requeue)
			admin.GET("/ledger/audit/:user_id", h.AuditUser)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

package handler

import (
	"errors"
	"io"
	"strconv"

	"walletpay/internal/errs"
	"walletpay/internal/gateway"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/internal/settlement"
	"walletpay/pkg/money"
	"walletpay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services 处理器依赖的业务服务
type Services struct {
	Wallet      *service.WalletService
	Beneficiary *service.BeneficiaryService
	Credential  *service.CredentialService
	Payout      *service.PayoutService
	Settlement  *settlement.Handler
}

// Handler 统一处理器
type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

// ============================================================
// 钱包
// ============================================================

// GetBalance 查询余额
// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := currentUserID(c)
	balance, err := h.svc.Wallet.GetBalance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":       userID,
		"balance":       balance,
		"balance_major": money.ToMajor(balance),
	})
}

// ListTransactions 流水列表，按时间倒序
// GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pagination(c)
	result, err := h.svc.Wallet.ListTransactions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

type SetPINRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// SetPIN 设置或重置出款支付密码
// POST /api/v1/wallet/pin
func (h *Handler) SetPIN(c *gin.Context) {
	var req SetPINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.Credential.SetPIN(c.Request.Context(), currentUserID(c), req.PIN); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "支付密码已设置"})
}

// ============================================================
// 收款方
// ============================================================

type AddBeneficiaryRequest struct {
	Type          string `json:"type" binding:"required"`
	AccountNumber string `json:"account_number"`
	RoutingCode   string `json:"routing_code"`
	VPA           string `json:"vpa"`
	HolderName    string `json:"holder_name"`
}

// AddBeneficiary 登记收款方，同一账户重复登记返回已有记录
// POST /api/v1/beneficiaries
func (h *Handler) AddBeneficiary(c *gin.Context) {
	var req AddBeneficiaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	b, err := h.svc.Beneficiary.AddBeneficiary(c.Request.Context(), currentUserID(c), gateway.Destination{
		Type:          req.Type,
		AccountNumber: req.AccountNumber,
		RoutingCode:   req.RoutingCode,
		VPA:           req.VPA,
		HolderName:    req.HolderName,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, b)
}

// ListBeneficiaries GET /api/v1/beneficiaries
func (h *Handler) ListBeneficiaries(c *gin.Context) {
	list, err := h.svc.Beneficiary.ListBeneficiaries(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// ============================================================
// 出款
// ============================================================

// RequestWithdrawal 发起出款
// POST /api/v1/withdrawals
//
// 同一 request_id 重复提交返回同一张出款单；审批失败的单据保持 pending，可带正确密码重试
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req service.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.UserID = currentUserID(c)

	view, err := h.svc.Payout.RequestWithdrawal(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, view)
}

// GetWithdrawal GET /api/v1/withdrawals/:request_no
func (h *Handler) GetWithdrawal(c *gin.Context) {
	view, err := h.svc.Payout.GetWithdrawal(c.Request.Context(), currentUserID(c), c.Param("request_no"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, view)
}

// ListWithdrawals GET /api/v1/withdrawals?page=1&page_size=20
func (h *Handler) ListWithdrawals(c *gin.Context) {
	page, pageSize := pagination(c)
	result, err := h.svc.Payout.ListWithdrawals(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 管理端
// ============================================================

// ListManualReview GET /api/v1/admin/withdrawals/manual-review?limit=50
func (h *Handler) ListManualReview(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.svc.Payout.ListManualReview(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}

// Requeue POST /api/v1/admin/withdrawals/:request_no/requeue
func (h *Handler) Requeue(c *gin.Context) {
	requestNo := c.Param("request_no")
	if err := h.svc.Payout.Requeue(c.Request.Context(), requestNo); err != nil {
		respondError(c, err)
		return
	}
	zap.L().Info("管理员重新交回对账",
		zap.String("request_no", requestNo),
		zap.Int64("operator", currentUserID(c)),
	)
	response.Success(c, gin.H{"message": "已重新交给对账任务"})
}

// AuditUser GET /api/v1/admin/ledger/audit/:user_id
func (h *Handler) AuditUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	result, err := h.svc.Wallet.Audit(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 通道回调
// ============================================================

// DepositWebhook 充值到账回调
// POST /api/v1/webhooks/deposits/:provider
//
// 回调方按 HTTP 状态码决定是否重投：验签失败 401，内容非法 400，其余错误 500
func (h *Handler) DepositWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.ErrorWithStatus(c, 400, response.CodeParamError, "读取请求体失败")
		return
	}

	result, err := h.svc.Settlement.HandleDepositConfirmation(c.Request.Context(), settlement.SignedPayload{
		Provider:  c.Param("provider"),
		Body:      body,
		Signature: c.GetHeader("X-Signature"),
	})
	switch {
	case err == nil:
		response.Success(c, result)
	case errs.IsSignature(err):
		response.ErrorWithStatus(c, 401, response.CodeSignatureInvalid, err.Error())
	case errs.IsValidation(err):
		response.ErrorWithStatus(c, 400, response.CodeParamError, err.Error())
	default:
		zap.L().Error("充值回调处理失败", zap.String("provider", c.Param("provider")), zap.Error(err))
		response.ErrorWithStatus(c, 500, response.CodeServerError, "服务器内部错误")
	}
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// respondError 错误类型 -> 业务码
func respondError(c *gin.Context, err error) {
	var validation *errs.ValidationError
	switch {
	case errors.As(err, &validation):
		response.ParamError(c, err.Error())
	case errs.IsInsufficientBalance(err):
		response.BusinessError(c, response.CodeBalanceNotEnough, "余额不足")
	case errors.Is(err, service.ErrPINLocked):
		response.BusinessError(c, response.CodePINLocked, err.Error())
	case errors.Is(err, service.ErrPINInvalid), errors.Is(err, service.ErrPINNotSet):
		response.BusinessError(c, response.CodeAuthProofInvalid, err.Error())
	case errs.IsRejected(err):
		response.BusinessError(c, response.CodeGatewayRejected, err.Error())
	case errs.IsTimeout(err):
		response.BusinessError(c, response.CodeGatewayTimeout, "通道处理中，请稍后查询")
	case errs.IsDuplicate(err):
		response.BusinessError(c, response.CodeDuplicateRequest, err.Error())
	case errs.IsSignature(err):
		response.BusinessError(c, response.CodeSignatureInvalid, err.Error())
	case errors.Is(err, repository.ErrWithdrawalNotFound):
		response.BusinessError(c, response.CodeWithdrawalNotFound, err.Error())
	case errors.Is(err, repository.ErrBeneficiaryNotFound):
		response.BusinessError(c, response.CodeBeneficiaryNotFound, err.Error())
	case errors.Is(err, repository.ErrWithdrawalStatusInvalid):
		response.BusinessError(c, response.CodeBusinessError, err.Error())
	default:
		zap.L().Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.ServerError(c, "服务器内部错误")
	}
}

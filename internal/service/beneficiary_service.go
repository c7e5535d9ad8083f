package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"walletpay/internal/errs"
	"walletpay/internal/gateway"
	"walletpay/internal/infrastructure/lock"
	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	accountNumberPattern = regexp.MustCompile(`^[0-9]{6,18}$`)
	ifscPattern          = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	vpaPattern           = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,255}@[a-z][a-z0-9]{1,63}$`)
)

type BeneficiaryService struct {
	repo            *repository.BeneficiaryRepository
	adapter         *gateway.Adapter
	redisClient     *redis.Client
	registerTimeout time.Duration
}

// NewBeneficiaryService redisClient 为 nil 时不加分布式锁，只靠唯一索引兜底本地记录，
// 并发登记同一账户时通道侧可能被登记两次
//
// providerTimeout 是通道单次请求超时；一次登记最多两次请求（取 token + 登记）
func NewBeneficiaryService(repo *repository.BeneficiaryRepository, adapter *gateway.Adapter, redisClient *redis.Client, providerTimeout time.Duration) *BeneficiaryService {
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	return &BeneficiaryService{
		repo:            repo,
		adapter:         adapter,
		redisClient:     redisClient,
		registerTimeout: 2 * providerTimeout,
	}
}

// lockTTL 锁必须比登记的最长耗时多留余量，否则锁过期后另一个请求会重复登记
func (s *BeneficiaryService) lockTTL() time.Duration {
	return s.registerTimeout + 5*time.Second
}

// normalizeDestination 校验并规范化收款账户
func normalizeDestination(dest gateway.Destination) (gateway.Destination, error) {
	dest.Type = strings.ToLower(strings.TrimSpace(dest.Type))
	dest.HolderName = strings.TrimSpace(dest.HolderName)

	switch dest.Type {
	case model.InstrumentBank:
		dest.AccountNumber = strings.ReplaceAll(strings.TrimSpace(dest.AccountNumber), " ", "")
		dest.RoutingCode = strings.ToUpper(strings.TrimSpace(dest.RoutingCode))
		dest.VPA = ""
		if !accountNumberPattern.MatchString(dest.AccountNumber) {
			return dest, errs.Validation("account_number", "必须是6-18位数字")
		}
		if !ifscPattern.MatchString(dest.RoutingCode) {
			return dest, errs.Validation("routing_code", "IFSC 格式错误")
		}
	case model.InstrumentUPI:
		dest.VPA = strings.ToLower(strings.TrimSpace(dest.VPA))
		dest.AccountNumber = ""
		dest.RoutingCode = ""
		if !vpaPattern.MatchString(dest.VPA) {
			return dest, errs.Validation("vpa", "UPI 地址格式错误")
		}
	default:
		return dest, errs.Validation("type", "只支持 bank 或 upi")
	}
	return dest, nil
}

// fingerprint 规范化后账户的哈希，同一用户同一账户只登记一次
func fingerprint(dest gateway.Destination) string {
	var raw string
	if dest.Type == model.InstrumentBank {
		raw = "bank|" + dest.RoutingCode + "|" + dest.AccountNumber
	} else {
		raw = "upi|" + dest.VPA
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// maskAccount 只保留后4位；VPA 保留前2位和 handle
func maskAccount(dest gateway.Destination) string {
	if dest.Type == model.InstrumentBank {
		n := len(dest.AccountNumber)
		return strings.Repeat("X", n-4) + dest.AccountNumber[n-4:]
	}
	at := strings.IndexByte(dest.VPA, '@')
	local, handle := dest.VPA[:at], dest.VPA[at:]
	if len(local) <= 2 {
		return local + handle
	}
	return local[:2] + strings.Repeat("*", len(local)-2) + handle
}

func (s *BeneficiaryService) AddBeneficiary(ctx context.Context, userID int64, dest gateway.Destination) (*model.Beneficiary, error) {
	dest, err := normalizeDestination(dest)
	if err != nil {
		return nil, err
	}
	fp := fingerprint(dest)

	existing, err := s.repo.GetByFingerprint(ctx, userID, fp)
	if err != nil {
		return nil, fmt.Errorf("查询收款方失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	provider, err := s.adapter.RouteFor(dest.Type)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		l := lock.NewBeneficiaryLock(s.redisClient, userID, uuid.NewString(), s.lockTTL())
		if err := l.Lock(ctx, 100*time.Millisecond, 50); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer l.Unlock(context.WithoutCancel(ctx))

		// 拿到锁后再查一次
		existing, err = s.repo.GetByFingerprint(ctx, userID, fp)
		if err != nil {
			return nil, fmt.Errorf("查询收款方失败: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	regCtx, cancel := context.WithTimeout(ctx, s.registerTimeout)
	defer cancel()
	reg, err := s.adapter.RegisterBeneficiary(regCtx, provider, userID, dest)
	if err != nil {
		zap.L().Warn("收款方登记失败",
			zap.Int64("user_id", userID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, err
	}

	status := model.BeneficiaryPending
	if reg.Verified {
		status = model.BeneficiaryVerified
	}
	b := &model.Beneficiary{
		UserID:                userID,
		Fingerprint:           fp,
		Provider:              provider,
		ProviderBeneficiaryID: reg.ProviderBeneficiaryID,
		InstrumentType:        dest.Type,
		AccountRef:            maskAccount(dest),
		RoutingCode:           dest.RoutingCode,
		HolderName:            dest.HolderName,
		VerifiedStatus:        status,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		if errors.Is(err, repository.ErrBeneficiaryDuplicate) {
			// 没有 Redis 时的并发登记，以先落库的为准
			if existing, getErr := s.repo.GetByFingerprint(ctx, userID, fp); getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("保存收款方失败: %w", err)
	}

	zap.L().Info("收款方登记成功",
		zap.Int64("user_id", userID),
		zap.Int64("beneficiary_id", b.ID),
		zap.String("provider", provider),
		zap.String("instrument", dest.Type),
	)
	return b, nil
}

func (s *BeneficiaryService) ListBeneficiaries(ctx context.Context, userID int64) ([]*model.Beneficiary, error) {
	return s.repo.ListByUserID(ctx, userID)
}

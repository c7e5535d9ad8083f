package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/errs"
	"walletpay/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPINNotSet  = errors.New("未设置支付密码")
	ErrPINInvalid = errors.New("支付密码错误")
	ErrPINLocked  = errors.New("支付密码错误次数过多，已锁定")
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

// Authorizer 出款审批门：校验用户提交的授权凭证
type Authorizer interface {
	Authorize(ctx context.Context, userID int64, proof string) error
}

// CredentialService 出款支付密码，bcrypt 存储，连续失败锁定
type CredentialService struct {
	repo         *repository.CredentialRepository
	cost         int
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

var _ Authorizer = (*CredentialService)(nil)

func NewCredentialService(repo *repository.CredentialRepository, cfg *config.PayoutConfig) *CredentialService {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	maxAttempts := cfg.MaxPINAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &CredentialService{
		repo:         repo,
		cost:         cost,
		maxAttempts:  maxAttempts,
		lockDuration: cfg.PINLockDuration,
		now:          time.Now,
	}
}

func (s *CredentialService) SetPIN(ctx context.Context, userID int64, pin string) error {
	if !pinPattern.MatchString(pin) {
		return errs.Validation("pin", "必须是4-6位数字")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return fmt.Errorf("生成密码哈希失败: %w", err)
	}
	if err := s.repo.Upsert(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("保存支付密码失败: %w", err)
	}
	zap.L().Info("支付密码已设置", zap.Int64("user_id", userID))
	return nil
}

func (s *CredentialService) Authorize(ctx context.Context, userID int64, proof string) error {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return ErrPINNotSet
		}
		return err
	}

	now := s.now()
	if cred.LockedUntil != nil {
		if now.Before(*cred.LockedUntil) {
			return ErrPINLocked
		}
		// 锁定已过期，重新计数
		if err := s.repo.ResetFailedAttempts(ctx, userID); err != nil {
			return err
		}
		cred.FailedAttempts = 0
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PINHash), []byte(proof)); err != nil {
		if err := s.repo.RecordFailedAttempt(ctx, userID, s.maxAttempts, now.Add(s.lockDuration)); err != nil {
			return err
		}
		zap.L().Warn("支付密码校验失败",
			zap.Int64("user_id", userID),
			zap.Int("failed_attempts", cred.FailedAttempts+1),
		)
		if cred.FailedAttempts+1 >= s.maxAttempts {
			return ErrPINLocked
		}
		return ErrPINInvalid
	}

	if cred.FailedAttempts > 0 {
		return s.repo.ResetFailedAttempts(ctx, userID)
	}
	return nil
}

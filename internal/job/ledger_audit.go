package job

import (
	"context"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/ledger"
	"walletpay/internal/metrics"
	"walletpay/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerAuditJob 定时核对每个钱包的余额与流水
// 不一致只告警不修复，修复必须人工确认
type LedgerAuditJob struct {
	store      ledger.Store
	walletRepo *repository.WalletRepository
	schedule   string
	batchSize  int
	cron       *cron.Cron
}

type AuditReport struct {
	Checked    int
	Mismatches []*ledger.AuditResult
}

func NewLedgerAuditJob(db *gorm.DB, cfg *config.Config, store ledger.Store) *LedgerAuditJob {
	schedule := cfg.Jobs.AuditSchedule
	if schedule == "" {
		schedule = "@every 1h"
	}
	batchSize := cfg.Jobs.AuditBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &LedgerAuditJob{
		store:      store,
		walletRepo: repository.NewWalletRepository(db),
		schedule:   schedule,
		batchSize:  batchSize,
	}
}

// Start 注册定时任务并阻塞到 ctx 结束
func (j *LedgerAuditJob) Start(ctx context.Context) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			zap.L().Error("[LedgerAuditJob] 审计失败", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	zap.L().Info("[LedgerAuditJob] 账本审计任务启动", zap.String("schedule", j.schedule))
	j.cron.Start()

	<-ctx.Done()
	// 等正在执行的一轮结束
	<-j.cron.Stop().Done()
	zap.L().Info("[LedgerAuditJob] 任务退出")
	return nil
}

func (j *LedgerAuditJob) RunOnce(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}
	var after int64

	for {
		ids, err := j.walletRepo.ListUserIDs(ctx, after, j.batchSize)
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			break
		}

		for _, userID := range ids {
			res, err := j.store.Audit(ctx, userID)
			if err != nil {
				zap.L().Error("[LedgerAuditJob] 审计钱包失败", zap.Int64("user_id", userID), zap.Error(err))
				continue
			}
			report.Checked++
			if !res.Consistent {
				report.Mismatches = append(report.Mismatches, res)
				zap.L().Error("[LedgerAuditJob] 余额与流水不一致",
					zap.Int64("user_id", userID),
					zap.Int64("balance", res.Balance),
					zap.Int64("completed_credits", res.CompletedCredits),
					zap.Int64("completed_debits", res.CompletedDebits),
					zap.Int64("pending_debits", res.PendingDebits),
				)
			}
		}
		after = ids[len(ids)-1]
	}

	metrics.AuditMismatches.Set(float64(len(report.Mismatches)))
	metrics.AuditLastRunUnix.Set(float64(time.Now().Unix()))
	zap.L().Info("[LedgerAuditJob] 审计完成",
		zap.Int("checked", report.Checked),
		zap.Int("mismatches", len(report.Mismatches)),
	)
	return report, nil
}

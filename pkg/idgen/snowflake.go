package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 出款单号、流水号都由这里生成：全局唯一、趋势递增。
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// 多实例部署时每个实例必须配置不同的 server.worker_id。
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

var (
	genMu            sync.RWMutex
	defaultGenerator *Snowflake
)

// Init 设置默认生成器的机器ID，启动时调用一次
func Init(workerID int64) error {
	s, err := NewSnowflake(workerID)
	if err != nil {
		return err
	}
	genMu.Lock()
	defaultGenerator = s
	genMu.Unlock()
	return nil
}

func generator() *Snowflake {
	genMu.RLock()
	g := defaultGenerator
	genMu.RUnlock()
	if g != nil {
		return g
	}

	genMu.Lock()
	defer genMu.Unlock()
	if defaultGenerator == nil {
		defaultGenerator = &Snowflake{workerID: 1}
	}
	return defaultGenerator
}

func NextID() int64 {
	return generator().Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	// 时钟回拨时沿用上一次的时间戳，靠序列号继续递增
	if now < s.timestamp {
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// 单号格式：前缀 + 日期 + 雪花ID
func generateNo(prefix string) string {
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("20060102"), NextID())
}

// GenerateRequestNo 生成出款单号
func GenerateRequestNo() string {
	return generateNo("WDR")
}

// GenerateTransactionNo 生成流水号
func GenerateTransactionNo() string {
	return generateNo("TXN")
}

// transferNamespace 出款 transferId 的 UUIDv5 命名空间，上线后不可修改
var transferNamespace = uuid.MustParse("6f1c2d52-8f0e-4c47-9a53-2b8a4d9e7c10")

// TransferIDFor 由出款单号确定性派生 transferId，同一单据任何时候重算结果都相同
func TransferIDFor(requestNo string) string {
	return uuid.NewSHA1(transferNamespace, []byte(requestNo)).String()
}

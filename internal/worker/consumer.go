// estate-crm/internal/worker/consumer.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"estate-crm/config"
	"estate-crm/internal/handlers"
	"estate-crm/internal/services"
	"estate-crm/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Reconciler обрабатывает одну транзакцию. В проде это движок сверки.
type Reconciler interface {
	Reconcile(ctx context.Context, transactionID uint) (*services.ReconcileResult, error)
}

// retryQueue хранит счётчик попыток и возвращает неудачные транзакции
// в очередь. Счётчик живёт в Redis, а не в памяти воркера, чтобы
// переживать рестарты.
type retryQueue interface {
	Requeue(ctx context.Context, transactionID uint) error
	IncrAttempts(ctx context.Context, transactionID uint) (int64, error)
	ResetAttempts(ctx context.Context, transactionID uint)
}

type redisRetryQueue struct {
	rdb *redis.Client
}

func (q *redisRetryQueue) Requeue(ctx context.Context, transactionID uint) error {
	return q.rdb.LPush(ctx, config.ReconcileQueueKey, strconv.FormatUint(uint64(transactionID), 10)).Err()
}

func (q *redisRetryQueue) IncrAttempts(ctx context.Context, transactionID uint) (int64, error) {
	return q.rdb.Incr(ctx, attemptsKey(transactionID)).Result()
}

func (q *redisRetryQueue) ResetAttempts(ctx context.Context, transactionID uint) {
	q.rdb.Del(ctx, attemptsKey(transactionID))
}

// Consumer разбирает очередь сверки: воркеры забирают ID транзакций из
// списка Redis и прогоняют их через движок. Очередь даёт at-least-once
// доставку, поэтому один и тот же ID может попасть к двум воркерам
// одновременно - корректность обеспечивает сам движок, здесь только
// транспорт и политика повторов.
type Consumer struct {
	DB     *gorm.DB
	RDB    *redis.Client
	Engine Reconciler
	Queue  retryQueue

	Workers     int
	MaxAttempts int
}

func NewConsumer(db *gorm.DB, rdb *redis.Client) *Consumer {
	c := &Consumer{
		DB:          db,
		RDB:         rdb,
		Engine:      services.NewReconciliationEngine(db),
		Workers:     2,
		MaxAttempts: 5,
	}
	if rdb != nil {
		c.Queue = &redisRetryQueue{rdb: rdb}
	}
	return c
}

// Run запускает воркеров и блокируется до отмены контекста.
func (c *Consumer) Run(ctx context.Context) {
	if c.RDB == nil {
		slog.Warn("Redis недоступен, очередь сверки не запущена. Транзакции обрабатываются только синхронно.")
		return
	}
	for i := 0; i < c.Workers; i++ {
		go c.loop(ctx, i)
	}
	<-ctx.Done()
}

func (c *Consumer) loop(ctx context.Context, workerID int) {
	slog.Info("Воркер сверки запущен", "worker", workerID)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Воркер сверки остановлен", "worker", workerID)
			return
		default:
		}

		// BRPOP с таймаутом, чтобы регулярно проверять отмену контекста.
		values, err := c.RDB.BRPop(ctx, 5*time.Second, config.ReconcileQueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Ошибка чтения очереди сверки", "worker", workerID, "error", err)
			time.Sleep(time.Second)
			continue
		}

		id, err := strconv.ParseUint(values[1], 10, 64)
		if err != nil {
			slog.Error("В очереди сверки оказался некорректный ID, запись отброшена", "value", values[1])
			continue
		}

		c.Process(ctx, uint(id))
	}
}

// Process выполняет одну попытку сверки и решает судьбу неудачных попыток:
// транзакция возвращается в очередь, пока не исчерпан лимит, затем
// помечается FAILED.
func (c *Consumer) Process(ctx context.Context, transactionID uint) {
	result, err := c.Engine.Reconcile(ctx, transactionID)
	if err == nil {
		if c.Queue != nil {
			c.Queue.ResetAttempts(ctx, transactionID)
		}
		handlers.NotifyReconcileOutcome(transactionID, result)
		return
	}

	if err == services.ErrTransactionNotFound {
		slog.Error("Транзакция из очереди не найдена в БД", "transaction_id", transactionID)
		return
	}

	if c.Queue == nil {
		slog.Error("Ошибка сверки без очереди, повтор невозможен", "transaction_id", transactionID, "error", err)
		return
	}

	attempts, incErr := c.Queue.IncrAttempts(ctx, transactionID)
	if incErr != nil {
		attempts = int64(c.MaxAttempts) // не смогли посчитать - не зацикливаемся
	}
	if attempts < int64(c.MaxAttempts) {
		slog.Warn("Сверка не удалась, транзакция возвращена в очередь",
			"transaction_id", transactionID, "attempt", attempts, "error", err)
		c.Queue.Requeue(ctx, transactionID)
		return
	}

	// Лимит исчерпан: фиксируем FAILED, дальше только ручной разбор.
	slog.Error("Сверка не удалась окончательно", "transaction_id", transactionID, "attempts", attempts, "error", err)
	c.Queue.ResetAttempts(ctx, transactionID)
	updErr := c.DB.Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", transactionID, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":         models.TransactionStatusFailed,
			"failure_reason": err.Error(),
		}).Error
	if updErr != nil {
		slog.Error("Не удалось пометить транзакцию как FAILED", "transaction_id", transactionID, "error", updErr)
	}
}

func attemptsKey(transactionID uint) string {
	return fmt.Sprintf("reconcile:attempts:%d", transactionID)
}

package orders

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// scanPageSize is the number of orders read per table request.
const scanPageSize = 25

// ProcessRequest is the scheduled event payload. Its content is ignored.
type ProcessRequest struct{}

// ProcessReport summarizes one batch run.
type ProcessReport struct {
	Scanned    int `json:"scanned"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Retried    int `json:"retried"`
}

// BatchProcessor dispatches a payment capture for every stored order.
type BatchProcessor struct {
	orders  OrderScanner
	invoker cloudfn.Invoker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBatchProcessor creates a BatchProcessor dispatching at most
// itemsPerSecond captures per second.
func NewBatchProcessor(orders OrderScanner, invoker cloudfn.Invoker, itemsPerSecond float64, burst int, logger *zap.Logger) *BatchProcessor {
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		orders:  orders,
		invoker: invoker,
		limiter: rate.NewLimiter(rate.Limit(itemsPerSecond), burst),
		logger:  logger,
	}
}

// Process scans the orders table and fires one capture-card-payment
// invocation per order without waiting for it. Orders without a payment
// reference are skipped. A dispatch that fails with a retryable error is
// tried once more after the next rate-limit slot. Cancelling ctx stops the scan.
func (b *BatchProcessor) Process(ctx context.Context, _ ProcessRequest) (*ProcessReport, error) {
	logger := cloudfn.Logger(ctx, b.logger)
	report := &ProcessReport{}

	err := b.orders.ScanPages(ctx, scanPageSize, func(orders []Order) error {
		for _, order := range orders {
			report.Scanned++
			if order.PaymentReference == "" {
				logger.Warn("order has no payment reference", zap.String("order_id", order.OrderID))
				report.Skipped++
				continue
			}
			err := b.dispatch(ctx, order)
			if err != nil && cloudfn.IsRetryable(err) && ctx.Err() == nil {
				logger.Warn("retrying capture dispatch", zap.String("order_id", order.OrderID), zap.Error(err))
				report.Retried++
				err = b.dispatch(ctx, order)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				logger.Error("dispatching capture failed", zap.String("order_id", order.OrderID), zap.Error(err))
				report.Failed++
				continue
			}
			report.Dispatched++
		}
		return nil
	})

	logger.Info("batch finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("retried", report.Retried))
	return report, err
}

func (b *BatchProcessor) dispatch(ctx context.Context, order Order) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.invoker.Invoke(ctx, string(cloudfn.FunctionCaptureCardPayment), CaptureRequest{
		PaymentReference: order.PaymentReference,
		OrderID:          order.OrderID,
	}, cloudfn.InvocationEvent)
	return err
}

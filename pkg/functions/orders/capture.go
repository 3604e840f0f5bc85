package orders

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// CaptureRequest asks for the payment of one order to be captured.
type CaptureRequest struct {
	PaymentReference string `json:"paymentReference" validate:"required"`
	OrderID          string `json:"orderId,omitempty"`
}

// CaptureResult confirms a capture.
type CaptureResult struct {
	PaymentReference string    `json:"paymentReference"`
	OrderID          string    `json:"orderId,omitempty"`
	Captured         bool      `json:"captured"`
	CapturedAt       time.Time `json:"capturedAt"`
}

// Capturer captures card payments.
type Capturer struct {
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewCapturer creates a Capturer. A nil logger discards output.
func NewCapturer(logger *zap.Logger) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{validate: validator.New(), logger: logger, now: time.Now}
}

// Capture records the capture of req's payment.
func (c *Capturer) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	result := &CaptureResult{
		PaymentReference: req.PaymentReference,
		OrderID:          req.OrderID,
		Captured:         true,
		CapturedAt:       c.now().UTC(),
	}
	cloudfn.Logger(ctx, c.logger).Info("card payment captured",
		zap.String("payment_reference", req.PaymentReference),
		zap.String("order_id", req.OrderID))
	return result, nil
}

package orders

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// PlacerSettings controls order intake.
type PlacerSettings struct {
	// APIKey must match the request's Authorization header.
	APIKey  string
	Enabled bool
	// Restaurants lists the restaurant ids accepting orders. Empty accepts any.
	Restaurants []string
}

// Placer accepts orders over HTTP.
type Placer struct {
	store     OrderStore
	publisher Publisher
	settings  PlacerSettings
	validate  *validator.Validate
	rules     []cloudfn.Rule[OrderRequest]
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// PlacerOption configures a Placer.
type PlacerOption func(*Placer)

func WithPlacerLogger(l *zap.Logger) PlacerOption {
	return func(p *Placer) {
		p.logger = l
	}
}

func WithPlacerClock(now func() time.Time) PlacerOption {
	return func(p *Placer) {
		p.now = now
	}
}

// WithIDGenerator replaces the UUID order id generator.
func WithIDGenerator(fn func() string) PlacerOption {
	return func(p *Placer) {
		p.newID = fn
	}
}

// NewPlacer creates a Placer.
func NewPlacer(store OrderStore, publisher Publisher, settings PlacerSettings, opts ...PlacerOption) *Placer {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	p := &Placer{
		store:     store,
		publisher: publisher,
		settings:  settings,
		validate:  validator.New(),
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	p.rules = p.orderRules()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Placer) orderRules() []cloudfn.Rule[OrderRequest] {
	return []cloudfn.Rule[OrderRequest]{
		cloudfn.NewRule("restaurant_allowed", "restaurant accepts orders", func(ctx context.Context, req OrderRequest) error {
			if len(p.settings.Restaurants) == 0 {
				return cloudfn.ErrSkipRule
			}
			for _, id := range p.settings.Restaurants {
				if id == req.RestaurantID {
					return nil
				}
			}
			return fmt.Errorf("restaurant %s does not accept orders", req.RestaurantID)
		}),
		cloudfn.NewRule("prices_non_negative", "item prices are not negative", func(ctx context.Context, req OrderRequest) error {
			for _, item := range req.Items {
				if item.Price.IsNegative() {
					return fmt.Errorf("item %s has a negative price", item.MenuItemID)
				}
			}
			return nil
		}),
		cloudfn.NewRule("prices_whole_cents", "item prices have at most two decimal places", func(ctx context.Context, req OrderRequest) error {
			for _, item := range req.Items {
				if !item.Price.Equal(item.Price.Round(2)) {
					return fmt.Errorf("item %s price %s is not a whole number of cents", item.MenuItemID, item.Price)
				}
			}
			return nil
		}),
	}
}

// Place handles a place-order request and responds with the new order id.
func (p *Placer) Place(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := cloudfn.Logger(ctx, p.logger)

	if !p.authorized(req) {
		logger.Info("request rejected: bad api key")
		return cloudfn.ErrorResponse(cloudfn.ErrPermission("invalid api key")), nil
	}
	if !p.settings.Enabled {
		return cloudfn.ErrorResponse(cloudfn.ErrUnavailable("ordering is currently disabled")), nil
	}

	order, err := p.decode(ctx, req)
	if err != nil {
		logger.Info("order rejected", zap.Error(err))
		return cloudfn.ErrorResponse(err), nil
	}
	logger = logger.With(zap.String("order_id", order.OrderID), zap.String("restaurant_id", order.RestaurantID))

	if err := p.store.Put(ctx, *order); err != nil {
		logger.Error("saving order failed", zap.Error(err))
		return cloudfn.ErrorResponse(cloudfn.ErrInternal("saving order failed").WithCause(err)), nil
	}

	event, err := json.Marshal(OrderEvent{
		EventType:    EventPlaced,
		OrderID:      order.OrderID,
		RestaurantID: order.RestaurantID,
		Total:        order.Total,
		PlacedAt:     order.PlacedAt,
	})
	if err != nil {
		return cloudfn.ErrorResponse(cloudfn.ErrInternal("encoding order event failed").WithCause(err)), nil
	}
	if err := p.publisher.Publish(ctx, order.RestaurantID, event); err != nil {
		logger.Error("publishing order event failed", zap.Error(err))
		return cloudfn.ErrorResponse(cloudfn.ErrInternal("publishing order event failed").WithCause(err)), nil
	}

	logger.Info("order placed", zap.String("total", order.Total))
	return cloudfn.JSONResponse(http.StatusOK, map[string]string{"orderId": order.OrderID}), nil
}

// decode parses, validates and prices the request body.
func (p *Placer) decode(ctx context.Context, req events.APIGatewayProxyRequest) (*Order, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, cloudfn.ErrValidation("body is not valid base64").WithCause(err)
		}
		body = decoded
	}

	var in OrderRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, cloudfn.ErrValidation("body is not a valid order").WithCause(err)
	}
	if err := p.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if report := cloudfn.RunRules(ctx, in.RestaurantID, in, p.rules); !report.Allowed() {
		return nil, cloudfn.ErrValidation(report.Reasons())
	}

	items := make([]OrderItem, 0, len(in.Items))
	for _, item := range in.Items {
		items = append(items, OrderItem{
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			Price:      item.Price.StringFixed(2),
		})
	}
	return &Order{
		OrderID:          p.newID(),
		RestaurantID:     in.RestaurantID,
		CustomerID:       in.CustomerID,
		PaymentReference: in.PaymentReference,
		Items:            items,
		Total:            Total(in.Items).StringFixed(2),
		PlacedAt:         p.now().UTC(),
	}, nil
}

func (p *Placer) authorized(req events.APIGatewayProxyRequest) bool {
	if p.settings.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header(req, "Authorization")), []byte(p.settings.APIKey)) == 1
}

// header looks a header up case-insensitively.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

package orders

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"

	"github.com/anirudhbiyani/cloud-functions/internal/config"
	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
	"github.com/anirudhbiyani/cloud-functions/pkg/providers/kafka"
)

func init() {
	cloudfn.MustRegister(cloudfn.Definition{
		Name:         cloudfn.FunctionPlaceOrder,
		Description:  "Accept a restaurant order",
		Trigger:      cloudfn.TriggerAPIGateway,
		Capabilities: []cloudfn.Capability{cloudfn.CapabilityHTTP},
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			cfg := deps.Config.Orders
			table, err := orderTable(deps)
			if err != nil {
				return nil, err
			}
			publisher, err := NewPublisher(deps, cfg.Stream)
			if err != nil {
				return nil, err
			}
			p := NewPlacer(table, publisher, PlacerSettings{
				APIKey:      cfg.APIKey,
				Enabled:     cfg.Enabled,
				Restaurants: cfg.Restaurants,
			}, WithPlacerLogger(deps.Logger))
			return cloudfn.NewFunction(cloudfn.FunctionPlaceOrder, p.Place), nil
		}),
	})

	cloudfn.MustRegister(cloudfn.Definition{
		Name:         cloudfn.FunctionCaptureCardPayment,
		Description:  "Capture the card payment of an order",
		Trigger:      cloudfn.TriggerInvoke,
		Capabilities: []cloudfn.Capability{cloudfn.CapabilityAsync},
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			return cloudfn.NewFunction(cloudfn.FunctionCaptureCardPayment, NewCapturer(deps.Logger).Capture), nil
		}),
	})

	cloudfn.MustRegister(cloudfn.Definition{
		Name:         cloudfn.FunctionProcessCardPayments,
		Description:  "Dispatch a payment capture for every stored order",
		Trigger:      cloudfn.TriggerSchedule,
		Capabilities: []cloudfn.Capability{cloudfn.CapabilityBatch},
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			cfg := deps.Config.Orders
			table, err := orderTable(deps)
			if err != nil {
				return nil, err
			}
			b := NewBatchProcessor(table, deps.Invoker, cfg.ItemsPerSecond, cfg.Burst, deps.Logger)
			return cloudfn.NewFunction(cloudfn.FunctionProcessCardPayments, b.Process), nil
		}),
	})
}

func orderTable(deps cloudfn.Dependencies) (*awsprovider.Table[Order], error) {
	name := deps.Config.Orders.TableName
	if name == "" {
		return nil, cloudfn.ErrValidation("orders.table_name is required")
	}
	return awsprovider.NewTable[Order](dynamodb.NewFromConfig(deps.AWS), name), nil
}

// NewPublisher returns the order stream publisher selected by cfg.Kind.
func NewPublisher(deps cloudfn.Dependencies, cfg config.StreamConfig) (Publisher, error) {
	switch cfg.Kind {
	case "kinesis":
		if cfg.Name == "" {
			return nil, cloudfn.ErrValidation("orders.stream.name is required for kinesis")
		}
		return awsprovider.NewKinesisStream(kinesis.NewFromConfig(deps.AWS), cfg.Name), nil
	case "kafka":
		producer, err := kafka.NewProducer(cfg.Brokers, cfg.Name)
		if err != nil {
			return nil, err
		}
		return producer, nil
	default:
		return NopPublisher{}, nil
	}
}

package janitor

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
)

func init() {
	cloudfn.MustRegister(cloudfn.Definition{
		Name:         cloudfn.FunctionStackSweeper,
		Description:  "Delete expired stacks that carry the janitor tag",
		Trigger:      cloudfn.TriggerSchedule,
		Capabilities: []cloudfn.Capability{cloudfn.CapabilityDryRun, cloudfn.CapabilityBatch},
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			s := NewSweeper(awsprovider.NewStackClientFromConfig(deps.AWS), SettingsFromConfig(deps.Config.Janitor), WithLogger(deps.Logger))
			return cloudfn.NewFunction(cloudfn.FunctionStackSweeper, s.Sweep), nil
		}),
	})

	cloudfn.MustRegister(cloudfn.Definition{
		Name:        cloudfn.FunctionStackStatus,
		Description: "Resolve the janitor status of a CloudFormation stack event",
		Trigger:     cloudfn.TriggerEventBridge,
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			records, err := NewRecordStore(deps)
			if err != nil {
				return nil, err
			}
			r := NewStatusRecorder(awsprovider.NewStackClientFromConfig(deps.AWS), records, SettingsFromConfig(deps.Config.Janitor), WithLogger(deps.Logger))
			return cloudfn.NewFunction(cloudfn.FunctionStackStatus, r.Record), nil
		}),
	})

	cloudfn.MustRegister(cloudfn.Definition{
		Name:        cloudfn.FunctionStackMonitor,
		Description: "Track janitor-enabled stacks with an expiration time",
		Trigger:     cloudfn.TriggerEventBridge,
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			records, err := NewRecordStore(deps)
			if err != nil {
				return nil, err
			}
			m := NewMonitor(records, SettingsFromConfig(deps.Config.Janitor), WithLogger(deps.Logger))
			return monitorFunction{m}, nil
		}),
	})

	cloudfn.MustRegister(cloudfn.Definition{
		Name:         cloudfn.FunctionStackReaper,
		Description:  "Delete stacks whose tracking record expired",
		Trigger:      cloudfn.TriggerDynamoDBStream,
		Capabilities: []cloudfn.Capability{cloudfn.CapabilityBatch},
		Factory: cloudfn.FactoryFunc(func(ctx context.Context, deps cloudfn.Dependencies) (cloudfn.Function, error) {
			records, err := NewRecordStore(deps)
			if err != nil {
				return nil, err
			}
			r := NewReaper(awsprovider.NewStackClientFromConfig(deps.AWS), records, SettingsFromConfig(deps.Config.Janitor), WithLogger(deps.Logger))
			return cloudfn.NewFunction(cloudfn.FunctionStackReaper, func(ctx context.Context, ev events.DynamoDBEvent) (*ReapReport, error) {
				return r.Reap(ctx, ev)
			}), nil
		}),
	})
}

// monitorFunction accepts both monitor payload shapes.
type monitorFunction struct {
	m *Monitor
}

func (f monitorFunction) Name() cloudfn.FunctionName {
	return cloudfn.FunctionStackMonitor
}

func (f monitorFunction) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	return f.m.Invoke(ctx, payload)
}

// NewRecordStore returns the DynamoDB record table when one is configured and
// a local file store otherwise.
func NewRecordStore(deps cloudfn.Dependencies) (cloudfn.RecordStore, error) {
	cfg := deps.Config.Janitor
	if cfg.TableName != "" {
		return awsprovider.NewRecordTable(dynamodb.NewFromConfig(deps.AWS), cfg.TableName), nil
	}
	path := cfg.StateFile
	if path == "" {
		path = cloudfn.DefaultStateStorePath()
	}
	return cloudfn.NewFileRecordStore(path)
}

package janitor

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
	awsprovider "github.com/anirudhbiyani/cloud-functions/pkg/providers/aws"
)

// ttlPrincipal is the principal DynamoDB reports for items removed by TTL expiry.
const ttlPrincipal = "dynamodb.amazonaws.com"

// ReapReport summarizes one batch of stream records.
type ReapReport struct {
	Deleted   []string `json:"deleted"`
	Retried   []string `json:"retried"`
	Abandoned []string `json:"abandoned"`
	Ignored   int      `json:"ignored"`
}

// Reaper deletes stacks whose tracking record expired out of the table.
type Reaper struct {
	stacks   StackAPI
	records  cloudfn.RecordStore
	settings Settings
	opts     options
}

// NewReaper creates a Reaper.
func NewReaper(stacks StackAPI, records cloudfn.RecordStore, settings Settings, opts ...Option) *Reaper {
	return &Reaper{stacks: stacks, records: records, settings: settings, opts: buildOptions(opts)}
}

// Reap handles a DynamoDB stream batch. Only removals performed by the TTL
// service are acted on; manual deletes and inserts are counted as ignored.
// A stack that cannot be deleted is tracked again with an incremented
// delete count until MaxDeleteAttempts is reached.
func (r *Reaper) Reap(ctx context.Context, ev events.DynamoDBEvent) (*ReapReport, error) {
	logger := cloudfn.Logger(ctx, r.opts.logger)
	report := &ReapReport{Deleted: []string{}, Retried: []string{}, Abandoned: []string{}}

	for _, record := range ev.Records {
		if !expiredByTTL(record) {
			report.Ignored++
			continue
		}
		rec, err := decodeRecord(record.Change.OldImage)
		if err != nil {
			logger.Warn("undecodable stream record", zap.String("event_id", record.EventID), zap.Error(err))
			report.Ignored++
			continue
		}
		r.reap(ctx, logger.With(zap.String("stack", rec.StackName)), *rec, report)
	}

	logger.Info("reap finished",
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("retried", len(report.Retried)),
		zap.Int("abandoned", len(report.Abandoned)),
		zap.Int("ignored", report.Ignored))
	return report, nil
}

func (r *Reaper) reap(ctx context.Context, logger *zap.Logger, rec cloudfn.JanitorRecord, report *ReapReport) {
	target := rec.StackID
	if target == "" {
		target = rec.StackName
	}

	err := r.stacks.DeleteStack(ctx, target)
	if err == nil || cloudfn.IsCategory(err, cloudfn.ErrCategoryNotFound) {
		logger.Info("expired stack deleted")
		report.Deleted = append(report.Deleted, rec.StackName)
		return
	}

	attempts := rec.DeleteCount + 1
	if attempts >= r.settings.MaxDeleteAttempts {
		logger.Error("giving up on stack", zap.Int("attempts", attempts), zap.Error(err))
		report.Abandoned = append(report.Abandoned, rec.StackName)
		return
	}

	rec.DeleteCount = attempts
	rec.ExpirationTime = r.opts.now().Add(r.settings.DeleteInterval).Unix()
	if perr := r.records.Put(ctx, rec); perr != nil {
		logger.Error("rescheduling stack deletion failed", zap.NamedError("delete_error", err), zap.Error(perr))
		report.Abandoned = append(report.Abandoned, rec.StackName)
		return
	}
	logger.Warn("stack deletion rescheduled", zap.Int("attempts", attempts), zap.Error(err))
	report.Retried = append(report.Retried, rec.StackName)
}

func expiredByTTL(record events.DynamoDBEventRecord) bool {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return false
	}
	id := record.UserIdentity
	return id != nil && id.Type == "Service" && id.PrincipalID == ttlPrincipal
}

func decodeRecord(image map[string]events.DynamoDBAttributeValue) (*cloudfn.JanitorRecord, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("stream record has no old image")
	}
	av, err := awsprovider.FromStreamImage(image)
	if err != nil {
		return nil, err
	}
	var rec cloudfn.JanitorRecord
	if err := awsprovider.UnmarshalStreamImage(av, &rec); err != nil {
		return nil, err
	}
	if rec.StackName == "" && rec.StackID == "" {
		return nil, fmt.Errorf("record identifies no stack")
	}
	return &rec, nil
}

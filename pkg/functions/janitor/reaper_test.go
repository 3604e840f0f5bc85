package janitor

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

func ttlRemoval(name, id string, deleteCount int) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   name,
		EventName: string(events.DynamoDBOperationTypeRemove),
		UserIdentity: &events.DynamoDBUserIdentity{
			Type:        "Service",
			PrincipalID: "dynamodb.amazonaws.com",
		},
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"stackName":      events.NewStringAttribute(name),
				"stackId":        events.NewStringAttribute(id),
				"expirationTime": events.NewNumberAttribute("1714560000"),
				"tags":           events.NewStringAttribute(`[{"key":"stackjanitor","value":"enabled"}]`),
				"deleteCount":    events.NewNumberAttribute(strconv.Itoa(deleteCount)),
			},
		},
	}
}

func TestReapDeletesExpiredStacks(t *testing.T) {
	stacks := &fakeStacks{}
	r := NewReaper(stacks, cloudfn.NewMemoryRecordStore(), testSettings(), fixedClock())

	report, err := r.Reap(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		ttlRemoval("web", webStackID, 0),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, report.Deleted)
	assert.Equal(t, []string{webStackID}, stacks.deleted)
}

func TestReapIgnoresManualRemovalsAndInserts(t *testing.T) {
	manual := ttlRemoval("web", webStackID, 0)
	manual.UserIdentity = nil
	insert := ttlRemoval("api", "arn:api", 0)
	insert.EventName = string(events.DynamoDBOperationTypeInsert)

	stacks := &fakeStacks{}
	r := NewReaper(stacks, cloudfn.NewMemoryRecordStore(), testSettings())
	report, err := r.Reap(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{manual, insert}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ignored)
	assert.Empty(t, stacks.deleted)
}

func TestReapMissingStackCountsAsDeleted(t *testing.T) {
	stacks := &fakeStacks{deleteErr: map[string]error{webStackID: cloudfn.ErrNotFound("stack", webStackID)}}
	r := NewReaper(stacks, cloudfn.NewMemoryRecordStore(), testSettings())

	report, err := r.Reap(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		ttlRemoval("web", webStackID, 0),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, report.Deleted)
}

func TestReapRetriesFailedDelete(t *testing.T) {
	ctx := context.Background()
	records := cloudfn.NewMemoryRecordStore()
	stacks := &fakeStacks{deleteErr: map[string]error{webStackID: cloudfn.ErrPermission("denied")}}
	r := NewReaper(stacks, records, testSettings(), fixedClock())

	report, err := r.Reap(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		ttlRemoval("web", webStackID, 1),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, report.Retried)

	rec, err := records.Get(ctx, cloudfn.RecordKey{StackName: "web", StackID: webStackID})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.DeleteCount)
	assert.Equal(t, testNow.Add(time.Hour).Unix(), rec.ExpirationTime)
}

func TestReapAbandonsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	records := cloudfn.NewMemoryRecordStore()
	stacks := &fakeStacks{deleteErr: map[string]error{webStackID: cloudfn.ErrPermission("denied")}}
	r := NewReaper(stacks, records, testSettings(), fixedClock())

	report, err := r.Reap(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		ttlRemoval("web", webStackID, 2),
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, report.Abandoned)

	_, lookupErr := records.Get(ctx, cloudfn.RecordKey{StackName: "web", StackID: webStackID})
	assert.True(t, cloudfn.IsCategory(lookupErr, cloudfn.ErrCategoryNotFound))
}

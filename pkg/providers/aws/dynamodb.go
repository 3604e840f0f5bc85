package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// DynamoDBAPI abstracts the DynamoDB item operations used by this module.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Table is a typed view over a DynamoDB table whose items marshal with
// dynamodbav struct tags.
type Table[T any] struct {
	api  DynamoDBAPI
	name string
}

// NewTable creates a typed table accessor.
func NewTable[T any](api DynamoDBAPI, name string) *Table[T] {
	return &Table[T]{api: api, name: name}
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

// Put writes item, replacing any existing item with the same key.
func (t *Table[T]) Put(ctx context.Context, item T) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return cloudfn.ErrValidation("item cannot be marshalled").WithCause(err)
	}
	_, err = t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: awssdk.String(t.name),
		Item:      av,
	})
	return classify(err, "PutItem", "item", t.name)
}

// Get reads the item identified by key. A missing item is a not-found error.
func (t *Table[T]) Get(ctx context.Context, key any) (*T, error) {
	k, err := attributevalue.MarshalMap(key)
	if err != nil {
		return nil, cloudfn.ErrValidation("key cannot be marshalled").WithCause(err)
	}
	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      awssdk.String(t.name),
		Key:            k,
		ConsistentRead: awssdk.Bool(true),
	})
	if err != nil {
		return nil, classify(err, "GetItem", "item", fmt.Sprint(key))
	}
	if len(out.Item) == 0 {
		return nil, cloudfn.ErrNotFound("item", fmt.Sprint(key))
	}
	var item T
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, cloudfn.ErrInternal("item cannot be decoded").WithCause(err)
	}
	return &item, nil
}

// Delete removes the item identified by key. Deleting a missing item succeeds.
func (t *Table[T]) Delete(ctx context.Context, key any) error {
	k, err := attributevalue.MarshalMap(key)
	if err != nil {
		return cloudfn.ErrValidation("key cannot be marshalled").WithCause(err)
	}
	_, err = t.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: awssdk.String(t.name),
		Key:       k,
	})
	return classify(err, "DeleteItem", "item", fmt.Sprint(key))
}

// ScanPages walks the whole table, pageSize items per request, and calls fn
// for each page. Returning an error from fn stops the scan.
func (t *Table[T]) ScanPages(ctx context.Context, pageSize int32, fn func(items []T) error) error {
	in := &dynamodb.ScanInput{TableName: awssdk.String(t.name)}
	if pageSize > 0 {
		in.Limit = awssdk.Int32(pageSize)
	}

	p := dynamodb.NewScanPaginator(t.api, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return classify(err, "Scan", "table", t.name)
		}
		var items []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return cloudfn.ErrInternal("scan page cannot be decoded").WithCause(err)
		}
		if err := fn(items); err != nil {
			return err
		}
	}
	return nil
}

// RecordTable is the DynamoDB-backed cloudfn.RecordStore. The table is keyed
// by stackName (hash) and stackId (range) with expirationTime as its TTL attribute.
type RecordTable struct {
	table *Table[cloudfn.JanitorRecord]
}

var _ cloudfn.RecordStore = (*RecordTable)(nil)

// NewRecordTable creates a record store over the named table.
func NewRecordTable(api DynamoDBAPI, name string) *RecordTable {
	return &RecordTable{table: NewTable[cloudfn.JanitorRecord](api, name)}
}

// Put implements cloudfn.RecordStore.
func (r *RecordTable) Put(ctx context.Context, rec cloudfn.JanitorRecord) error {
	return r.table.Put(ctx, rec)
}

// Get implements cloudfn.RecordStore.
func (r *RecordTable) Get(ctx context.Context, key cloudfn.RecordKey) (*cloudfn.JanitorRecord, error) {
	rec, err := r.table.Get(ctx, key)
	if cloudfn.IsCategory(err, cloudfn.ErrCategoryNotFound) {
		return nil, cloudfn.ErrNotFound("record", key.String())
	}
	return rec, err
}

// Delete implements cloudfn.RecordStore.
func (r *RecordTable) Delete(ctx context.Context, key cloudfn.RecordKey) error {
	return r.table.Delete(ctx, key)
}

// List implements cloudfn.RecordStore with a full table scan.
func (r *RecordTable) List(ctx context.Context, filter cloudfn.ListFilter) ([]cloudfn.JanitorRecord, error) {
	var recs []cloudfn.JanitorRecord
	err := r.table.ScanPages(ctx, 0, func(items []cloudfn.JanitorRecord) error {
		for _, rec := range items {
			if filter.Match(rec) {
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filter.Paginate(recs), nil
}


// UnmarshalStreamImage decodes a DynamoDB stream image into out using the
// same dynamodbav tags as the table accessors.
func UnmarshalStreamImage(image map[string]ddbtypes.AttributeValue, out any) error {
	if err := attributevalue.UnmarshalMap(image, out); err != nil {
		return cloudfn.ErrValidation("stream image cannot be decoded").WithCause(err)
	}
	return nil
}

package cloudfn

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// FunctionName identifies a deployable function.
type FunctionName string

const (
	FunctionStackSweeper        FunctionName = "stack-sweeper"
	FunctionStackStatus         FunctionName = "stack-status"
	FunctionStackMonitor        FunctionName = "stack-monitor"
	FunctionStackReaper         FunctionName = "stack-reaper"
	FunctionDistTagsGet         FunctionName = "dist-tags-get"
	FunctionDistTagsPut         FunctionName = "dist-tags-put"
	FunctionDistTagsDelete      FunctionName = "dist-tags-delete"
	FunctionGitHubAuthorizer    FunctionName = "github-authorizer"
	FunctionPlaceOrder          FunctionName = "place-order"
	FunctionCaptureCardPayment  FunctionName = "capture-card-payment"
	FunctionProcessCardPayments FunctionName = "process-card-payments"
	FunctionErrorReports        FunctionName = "error-reports"
)

// Trigger is the kind of event source a function is attached to.
type Trigger string

const (
	TriggerSchedule       Trigger = "schedule"
	TriggerEventBridge    Trigger = "eventbridge"
	TriggerDynamoDBStream Trigger = "dynamodb-stream"
	TriggerAPIGateway     Trigger = "api-gateway"
	TriggerAuthorizer     Trigger = "authorizer"
	TriggerInvoke         Trigger = "invoke"
)

// Capability represents an optional behavior a function supports.
type Capability string

const (
	// CapabilityDryRun indicates the function can report what it would change without changing it.
	CapabilityDryRun Capability = "dry_run"
	// CapabilityAsync indicates the function is normally invoked fire-and-forget.
	CapabilityAsync Capability = "async"
	// CapabilityHTTP indicates the function answers API Gateway proxy requests.
	CapabilityHTTP Capability = "http"
	// CapabilityBatch indicates the function walks a table or stream in batches.
	CapabilityBatch Capability = "batch"
)

// Tag is a key/value pair as CloudTrail reports it in request parameters.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags is an ordered list of stack tags.
type Tags []Tag

// Get returns the value of key and whether it was present.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Map returns the tags as a map. Later duplicates win.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		m[tag.Key] = tag.Value
	}
	return m
}

// TagsFromMap converts a map into Tags sorted by key.
func TagsFromMap(m map[string]string) Tags {
	tags := make(Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}

// UnmarshalJSON accepts both the CloudTrail casing (key/value) and the
// CloudFormation API casing (Key/Value).
func (t *Tag) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key        string `json:"key"`
		Value      string `json:"value"`
		UpperKey   string `json:"Key"`
		UpperValue string `json:"Value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Key, t.Value = raw.Key, raw.Value
	if t.Key == "" {
		t.Key = raw.UpperKey
	}
	if t.Value == "" {
		t.Value = raw.UpperValue
	}
	return nil
}

// Stack is a CloudFormation stack as seen by the janitor.
type Stack struct {
	Name      string            `json:"name"`
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// LastActivity returns the last update time, or the creation time for
// stacks that were never updated.
func (s Stack) LastActivity() time.Time {
	if s.UpdatedAt != nil && !s.UpdatedAt.IsZero() {
		return *s.UpdatedAt
	}
	return s.CreatedAt
}

// InProgress reports whether the stack is mid-operation.
func (s Stack) InProgress() bool {
	return strings.HasSuffix(s.Status, "_IN_PROGRESS")
}

// Stack status values the janitor cares about.
const (
	StackStatusDeleteComplete = "DELETE_COMPLETE"
)

// CloudTrail event names for CloudFormation stack calls.
const (
	EventCreateStack = "CreateStack"
	EventUpdateStack = "UpdateStack"
	EventDeleteStack = "DeleteStack"
)

// StackEvent is the EventBridge envelope of a CloudTrail-recorded CloudFormation API call.
type StackEvent struct {
	Version    string      `json:"version,omitempty"`
	ID         string      `json:"id,omitempty"`
	DetailType string      `json:"detail-type,omitempty"`
	Source     string      `json:"source,omitempty"`
	Account    string      `json:"account,omitempty"`
	Time       time.Time   `json:"time,omitempty"`
	Region     string      `json:"region,omitempty"`
	Detail     StackDetail `json:"detail"`
}

// StackDetail is the CloudTrail record inside a StackEvent.
type StackDetail struct {
	EventName         string                 `json:"eventName"`
	EventTime         time.Time              `json:"eventTime"`
	UserIdentity      map[string]interface{} `json:"userIdentity,omitempty"`
	RequestParameters StackRequestParameters `json:"requestParameters"`
	ResponseElements  *StackResponseElements `json:"responseElements,omitempty"`
}

// StackRequestParameters holds the CreateStack/UpdateStack arguments that
// matter for tracking.
type StackRequestParameters struct {
	StackName string `json:"stackName"`
	Tags      Tags   `json:"tags,omitempty"`
}

type StackResponseElements struct {
	StackID string `json:"stackId,omitempty"`
}

// StackName returns the stack name the call was made with. Calls made with a
// stack ARN are reduced to the name embedded in it.
func (e StackEvent) StackName() string {
	name := e.Detail.RequestParameters.StackName
	if n, ok := StackNameFromARN(name); ok {
		return n
	}
	return name
}

// StackNameFromARN extracts NAME from arn:aws:cloudformation:REGION:ACCOUNT:stack/NAME/UUID.
func StackNameFromARN(arn string) (string, bool) {
	if !IsStackARN(arn) {
		return "", false
	}
	parts := strings.Split(arn, "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IsStackARN reports whether s is a CloudFormation stack ARN.
func IsStackARN(s string) bool {
	return strings.HasPrefix(s, "arn:") && strings.Contains(s, ":stack/")
}

// StackID prefers the id returned by CloudFormation and falls back to the
// request's stack name, which is an ARN for DeleteStack calls made by id.
func (e StackEvent) StackID() string {
	if e.Detail.ResponseElements != nil && e.Detail.ResponseElements.StackID != "" {
		return e.Detail.ResponseElements.StackID
	}
	return e.Detail.RequestParameters.StackName
}

// JanitorStatus is the tracking decision derived from a stack's tags.
type JanitorStatus string

const (
	JanitorEnabled  JanitorStatus = "enabled"
	JanitorDisabled JanitorStatus = "disabled"
)

// JanitorRecord tracks a stack scheduled for deletion.
type JanitorRecord struct {
	StackName string `json:"stackName" dynamodbav:"stackName"`
	StackID   string `json:"stackId" dynamodbav:"stackId"`
	// ExpirationTime is a Unix timestamp in seconds.
	ExpirationTime int64  `json:"expirationTime" dynamodbav:"expirationTime"`
	Tags           string `json:"tags" dynamodbav:"tags"`
	DeleteCount    int    `json:"deleteCount" dynamodbav:"deleteCount"`
}

// Key returns the primary key of the record.
func (r JanitorRecord) Key() RecordKey {
	return RecordKey{StackName: r.StackName, StackID: r.StackID}
}

// Expiration returns ExpirationTime as a time.Time.
func (r JanitorRecord) Expiration() time.Time {
	return time.Unix(r.ExpirationTime, 0).UTC()
}

// RecordKey is the primary key of a JanitorRecord.
type RecordKey struct {
	StackName string `json:"stackName" dynamodbav:"stackName"`
	StackID   string `json:"stackId" dynamodbav:"stackId"`
}

// String implements fmt.Stringer.
func (k RecordKey) String() string {
	return k.StackName + "/" + k.StackID
}

// InvocationType selects synchronous or fire-and-forget invocation.
type InvocationType string

const (
	InvocationRequestResponse InvocationType = "RequestResponse"
	InvocationEvent           InvocationType = "Event"
)

// Severity indicates how serious a failed check is.
type Severity string

const (
	// SeverityWarning checks are reported but never block.
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// rank orders severities; unknown severities rank as errors.
func (s Severity) rank() int {
	if s == SeverityWarning {
		return 0
	}
	return 1
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// CheckStatus indicates the result of a check.
type CheckStatus string

const (
	CheckStatusPassed  CheckStatus = "passed"
	CheckStatusFailed  CheckStatus = "failed"
	CheckStatusSkipped CheckStatus = "skipped"
)

// Check is the result of evaluating one rule.
type Check struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Status   CheckStatus            `json:"status"`
	Severity Severity               `json:"severity"`
	Reason   string                 `json:"reason,omitempty"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

// Report contains the results of running a rule set against one subject.
type Report struct {
	Subject     string        `json:"subject"`
	Checks      []Check       `json:"checks"`
	Summary     ReportSummary `json:"summary"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// ReportSummary provides aggregate statistics.
type ReportSummary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Allowed bool `json:"allowed"`
}

// Allowed returns true unless a check of error severity or worse failed.
func (r *Report) Allowed() bool {
	for _, check := range r.Checks {
		if check.Status == CheckStatusFailed && check.Severity.AtLeast(SeverityError) {
			return false
		}
	}
	return true
}

// FailedChecks returns only the checks that failed.
func (r *Report) FailedChecks() []Check {
	var failed []Check
	for _, check := range r.Checks {
		if check.Status == CheckStatusFailed {
			failed = append(failed, check)
		}
	}
	return failed
}

// Reasons joins the reasons of all failed checks.
func (r *Report) Reasons() string {
	var reasons []string
	for _, check := range r.FailedChecks() {
		reason := check.Reason
		if reason == "" {
			reason = check.Name
		}
		reasons = append(reasons, reason)
	}
	return strings.Join(reasons, "; ")
}

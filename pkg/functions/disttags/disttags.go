// Package disttags serves npm dist-tag reads and writes for a private registry
// whose package documents live in object storage under <package>/index.json.
package disttags

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// ProtectedTag cannot be removed.
const ProtectedTag = "latest"

// ObjectStore holds package documents.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// PublicRegistry answers dist-tag lookups for packages not held privately.
type PublicRegistry interface {
	DistTags(ctx context.Context, name string) (map[string]string, error)
}

// Action names an audited change.
type Action string

const (
	ActionSet    Action = "dist-tag:set"
	ActionRemove Action = "dist-tag:remove"
)

// AuditEntry describes one dist-tag change and who made it.
type AuditEntry struct {
	Action  Action    `json:"action"`
	Package string    `json:"package"`
	Tag     string    `json:"tag"`
	Version string    `json:"version,omitempty"`
	User    string    `json:"user,omitempty"`
	Avatar  string    `json:"avatar,omitempty"`
	Time    time.Time `json:"time"`
}

// AuditLog records dist-tag changes.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Handlers implements the dist-tag API Gateway handlers.
type Handlers struct {
	store  ObjectStore
	public PublicRegistry
	audit  AuditLog
	logger *zap.Logger
	now    func() time.Time
}

// Option configures Handlers.
type Option func(*Handlers)

// WithAuditLog sets where changes are recorded. The default discards them.
func WithAuditLog(a AuditLog) Option {
	return func(h *Handlers) {
		h.audit = a
	}
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handlers) {
		h.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) {
		h.now = now
	}
}

// New creates the dist-tag handlers.
func New(store ObjectStore, public PublicRegistry, opts ...Option) *Handlers {
	h := &Handlers{
		store:  store,
		public: public,
		audit:  NopAuditLog{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// documentKey returns the storage key of a package document.
func documentKey(name string) string {
	return name + "/index.json"
}

// pathParam returns a URL-decoded path parameter. Scoped package names arrive
// as @scope%2fname.
func pathParam(req events.APIGatewayProxyRequest, key string) (string, error) {
	raw := strings.TrimSpace(req.PathParameters[key])
	if raw == "" {
		return "", cloudfn.ErrValidation(fmt.Sprintf("missing %s", key))
	}
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", cloudfn.ErrValidation(fmt.Sprintf("malformed %s", key)).WithCause(err)
	}
	return v, nil
}

// document is a package document. Every field other than dist-tags is kept
// verbatim so a write never drops data the registry stored.
type document struct {
	fields   map[string]json.RawMessage
	distTags map[string]string
}

func parseDocument(data []byte) (*document, error) {
	doc := &document{fields: map[string]json.RawMessage{}, distTags: map[string]string{}}
	if err := json.Unmarshal(data, &doc.fields); err != nil {
		return nil, cloudfn.ErrInternal("package document is malformed").WithCause(err)
	}
	if doc.fields == nil {
		return nil, cloudfn.ErrInternal("package document is not an object")
	}
	if raw, ok := doc.fields["dist-tags"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc.distTags); err != nil {
			return nil, cloudfn.ErrInternal("package dist-tags are malformed").WithCause(err)
		}
	}
	return doc, nil
}

func (d *document) encode() ([]byte, error) {
	tags, err := json.Marshal(d.distTags)
	if err != nil {
		return nil, err
	}
	d.fields["dist-tags"] = tags
	return json.Marshal(d.fields)
}

// failure is the body of an unsuccessful write.
type failure struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// success is the body of a successful write.
type success struct {
	OK       bool              `json:"ok"`
	ID       string            `json:"id"`
	DistTags map[string]string `json:"dist-tags"`
}

func writeFailure(err error) events.APIGatewayProxyResponse {
	return cloudfn.JSONResponse(cloudfn.HTTPStatus(err), failure{OK: false, Error: cloudfn.PublicMessage(err)})
}

// NopAuditLog discards audit entries.
type NopAuditLog struct{}

// Record implements AuditLog.
func (NopAuditLog) Record(context.Context, AuditEntry) error { return nil }

// Publisher sends a message to a topic.
type Publisher interface {
	Publish(ctx context.Context, subject, message string) error
}

// maxSubjectLen is the longest subject SNS accepts.
const maxSubjectLen = 100

// TopicAuditLog publishes audit entries as JSON to a notification topic.
type TopicAuditLog struct {
	topic Publisher
}

// NewTopicAuditLog creates an AuditLog backed by topic.
func NewTopicAuditLog(topic Publisher) *TopicAuditLog {
	return &TopicAuditLog{topic: topic}
}

// Record implements AuditLog.
func (a *TopicAuditLog) Record(ctx context.Context, entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	subject := truncateSubject(fmt.Sprintf("%s %s@%s", entry.Action, entry.Package, entry.Tag))
	return a.topic.Publish(ctx, subject, string(data))
}

// truncateSubject cuts s to maxSubjectLen bytes without splitting a rune.
func truncateSubject(s string) string {
	if len(s) <= maxSubjectLen {
		return s
	}
	cut := maxSubjectLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

package disttags

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, cloudfn.ErrNotFound("object", key)
	}
	return data, nil
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	return nil
}

type fakePublic struct {
	tags map[string]map[string]string
}

func (f fakePublic) DistTags(ctx context.Context, name string) (map[string]string, error) {
	tags, ok := f.tags[name]
	if !ok {
		return nil, cloudfn.ErrNotFound("package", name)
	}
	return tags, nil
}

type recordingAudit struct {
	entries []AuditEntry
}

func (r *recordingAudit) Record(ctx context.Context, entry AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const scopedDoc = `{"name":"@acme/widget","versions":{"1.0.0":{},"1.1.0":{}},"dist-tags":{"latest":"1.0.0","beta":"1.1.0"}}`

func newTestHandlers(store *memStore, audit AuditLog) *Handlers {
	public := fakePublic{tags: map[string]map[string]string{"left-pad": {"latest": "1.3.0"}}}
	return New(store, public, WithAuditLog(audit), WithClock(func() time.Time { return fixedTime }))
}

func request(name, tag, body string) events.APIGatewayProxyRequest {
	params := map[string]string{"name": name}
	if tag != "" {
		params["tag"] = tag
	}
	return events.APIGatewayProxyRequest{
		PathParameters: params,
		Body:           body,
		RequestContext: events.APIGatewayProxyRequestContext{
			Authorizer: map[string]interface{}{"username": "octocat", "avatar": "https://avatars/octocat"},
		},
	}
}

func decode(t *testing.T, resp events.APIGatewayProxyResponse) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	return body
}

func TestGetFromStorage(t *testing.T) {
	store := newMemStore()
	store.objects["@acme/widget/index.json"] = []byte(scopedDoc)
	h := newTestHandlers(store, &recordingAudit{})

	resp, err := h.Get(context.Background(), request("@acme%2fwidget", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"latest":"1.0.0","beta":"1.1.0"}`, resp.Body)
}

func TestGetFallsBackToPublicRegistry(t *testing.T) {
	h := newTestHandlers(newMemStore(), &recordingAudit{})

	resp, err := h.Get(context.Background(), request("left-pad", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"latest":"1.3.0"}`, resp.Body)
}

func TestGetUnknownPackage(t *testing.T) {
	h := newTestHandlers(newMemStore(), &recordingAudit{})

	resp, err := h.Get(context.Background(), request("nope", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "not found")
}

func TestGetStorageFailure(t *testing.T) {
	store := newMemStore()
	store.getErr = cloudfn.ErrPermission("access denied")
	h := newTestHandlers(store, &recordingAudit{})

	resp, err := h.Get(context.Background(), request("left-pad", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestPutSetsTagAndPreservesDocument(t *testing.T) {
	store := newMemStore()
	store.objects["@acme/widget/index.json"] = []byte(scopedDoc)
	audit := &recordingAudit{}
	h := newTestHandlers(store, audit)

	resp, err := h.Put(context.Background(), request("@acme%2fwidget", "next", `"1.1.0"`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"id":"@acme/widget","dist-tags":{"latest":"1.0.0","beta":"1.1.0","next":"1.1.0"}}`, resp.Body)

	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(store.objects["@acme/widget/index.json"], &stored))
	assert.Equal(t, "@acme/widget", stored["name"])
	assert.Contains(t, stored["versions"], "1.1.0")
	assert.Equal(t, "1.1.0", stored["dist-tags"].(map[string]interface{})["next"])

	require.Len(t, audit.entries, 1)
	assert.Equal(t, AuditEntry{
		Action: ActionSet, Package: "@acme/widget", Tag: "next", Version: "1.1.0",
		User: "octocat", Avatar: "https://avatars/octocat", Time: fixedTime,
	}, audit.entries[0])
}

func TestPutAcceptsVersionObject(t *testing.T) {
	store := newMemStore()
	store.objects["@acme/widget/index.json"] = []byte(scopedDoc)
	h := newTestHandlers(store, &recordingAudit{})

	resp, err := h.Put(context.Background(), request("@acme%2fwidget", "latest", `{"version":"1.1.0"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1.1.0", decode(t, resp)["dist-tags"].(map[string]interface{})["latest"])
}

func TestPutFailures(t *testing.T) {
	tests := []struct {
		name   string
		req    events.APIGatewayProxyRequest
		putErr error
		status int
	}{
		{"missing tag", request("@acme%2fwidget", "", `"1.0.0"`), nil, http.StatusBadRequest},
		{"empty body", request("@acme%2fwidget", "beta", ``), nil, http.StatusBadRequest},
		{"blank version", request("@acme%2fwidget", "beta", `{"version":" "}`), nil, http.StatusBadRequest},
		{"unknown package", request("ghost", "beta", `"1.0.0"`), nil, http.StatusNotFound},
		{"write failure", request("@acme%2fwidget", "beta", `"1.0.0"`), cloudfn.ErrNetwork("s3 down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.objects["@acme/widget/index.json"] = []byte(scopedDoc)
			store.putErr = tt.putErr
			audit := &recordingAudit{}

			resp, err := newTestHandlers(store, audit).Put(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp)
			assert.Equal(t, false, body["ok"])
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, audit.entries)
		})
	}
}

func TestDeleteTag(t *testing.T) {
	store := newMemStore()
	store.objects["@acme/widget/index.json"] = []byte(scopedDoc)
	audit := &recordingAudit{}
	h := newTestHandlers(store, audit)

	resp, err := h.Delete(context.Background(), request("@acme%2fwidget", "beta", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"id":"@acme/widget","dist-tags":{"latest":"1.0.0"}}`, resp.Body)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, ActionRemove, audit.entries[0].Action)

	resp, err = h.Delete(context.Background(), request("@acme%2fwidget", "beta", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteLatestIsRejected(t *testing.T) {
	store := newMemStore()
	store.objects["@acme/widget/index.json"] = []byte(scopedDoc)
	h := newTestHandlers(store, &recordingAudit{})

	resp, err := h.Delete(context.Background(), request("@acme%2fwidget", "latest", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(store.objects["@acme/widget/index.json"]), `"latest":"1.0.0"`)
}

type recordingTopic struct {
	subject, message string
}

func (r *recordingTopic) Publish(ctx context.Context, subject, message string) error {
	r.subject, r.message = subject, message
	return nil
}

func TestTopicAuditLog(t *testing.T) {
	topic := &recordingTopic{}
	err := NewTopicAuditLog(topic).Record(context.Background(), AuditEntry{
		Action: ActionSet, Package: "left-pad", Tag: "latest", Version: "1.3.0", Time: fixedTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "dist-tag:set left-pad@latest", topic.subject)
	assert.JSONEq(t, `{"action":"dist-tag:set","package":"left-pad","tag":"latest","version":"1.3.0","time":"2024-05-01T12:00:00Z"}`, topic.message)
}

func TestMalformedStoredDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"null document", `null`},
		{"array document", `[{"dist-tags":{"latest":"1.0.0"}}]`},
		{"string document", `"left-pad"`},
		{"non-object dist-tags", `{"name":"left-pad","dist-tags":["1.0.0"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.objects["left-pad/index.json"] = []byte(tt.doc)
			audit := &recordingAudit{}
			h := newTestHandlers(store, audit)

			resp, err := h.Get(context.Background(), request("left-pad", "", ""))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			resp, err = h.Put(context.Background(), request("left-pad", "beta", `"1.1.0"`))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, false, decode(t, resp)["ok"])

			resp, err = h.Delete(context.Background(), request("left-pad", "beta", ""))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			assert.Equal(t, tt.doc, string(store.objects["left-pad/index.json"]))
			assert.Empty(t, audit.entries)
		})
	}
}

func TestTopicAuditLogSubjectKeepsRunesWhole(t *testing.T) {
	topic := &recordingTopic{}
	// "dist-tag:set " is 13 bytes and each "é" is 2, so byte 100 falls inside a rune.
	pkg := strings.Repeat("é", 60)
	err := NewTopicAuditLog(topic).Record(context.Background(), AuditEntry{
		Action: ActionSet, Package: pkg, Tag: "latest", Version: "1.0.0", Time: fixedTime,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(topic.subject), maxSubjectLen)
	assert.True(t, utf8.ValidString(topic.subject))
	assert.True(t, strings.HasPrefix(topic.subject, "dist-tag:set éé"))
	assert.Equal(t, 99, len(topic.subject))
}

package disttags

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// Put points a dist-tag at a version. The body is the version as a JSON
// string, as sent by `npm dist-tag add`, or an object with a version field.
func (h *Handlers) Put(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	name, tag, err := nameAndTag(req)
	if err != nil {
		return writeFailure(err), nil
	}
	version, err := parseVersion(req)
	if err != nil {
		return writeFailure(err), nil
	}

	return h.update(ctx, req, AuditEntry{Action: ActionSet, Package: name, Tag: tag, Version: version},
		func(doc *document) error {
			doc.distTags[tag] = version
			return nil
		}), nil
}

// Delete removes a dist-tag. The latest tag cannot be removed.
func (h *Handlers) Delete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	name, tag, err := nameAndTag(req)
	if err != nil {
		return writeFailure(err), nil
	}
	if tag == ProtectedTag {
		return writeFailure(cloudfn.ErrValidation(fmt.Sprintf("the %s tag cannot be removed", ProtectedTag))), nil
	}

	return h.update(ctx, req, AuditEntry{Action: ActionRemove, Package: name, Tag: tag},
		func(doc *document) error {
			if _, ok := doc.distTags[tag]; !ok {
				return cloudfn.ErrNotFound("dist-tag", tag)
			}
			delete(doc.distTags, tag)
			return nil
		}), nil
}

// update reads the package document, applies change, writes it back and
// records the audit entry.
func (h *Handlers) update(ctx context.Context, req events.APIGatewayProxyRequest, entry AuditEntry, change func(*document) error) events.APIGatewayProxyResponse {
	logger := cloudfn.Logger(ctx, h.logger).With(
		zap.String("package", entry.Package),
		zap.String("tag", entry.Tag),
		zap.String("action", string(entry.Action)))

	key := documentKey(entry.Package)
	data, err := h.store.Get(ctx, key)
	if err != nil {
		if !cloudfn.IsCategory(err, cloudfn.ErrCategoryNotFound) {
			logger.Error("reading package document failed", zap.Error(err))
			err = cloudfn.ErrInternal("reading package document failed").WithCause(err)
		}
		return writeFailure(err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		logger.Error("stored package document is unreadable", zap.Error(err))
		return writeFailure(err)
	}
	if err := change(doc); err != nil {
		return writeFailure(err)
	}

	out, err := doc.encode()
	if err != nil {
		return writeFailure(cloudfn.ErrInternal("encoding package document failed").WithCause(err))
	}
	if err := h.store.Put(ctx, key, out, "application/json"); err != nil {
		logger.Error("writing package document failed", zap.Error(err))
		return writeFailure(cloudfn.ErrInternal("writing package document failed").WithCause(err))
	}

	entry.User = cloudfn.AuthorizerString(req, "username")
	entry.Avatar = cloudfn.AuthorizerString(req, "avatar")
	entry.Time = h.now().UTC()
	if err := h.audit.Record(ctx, entry); err != nil {
		logger.Warn("recording audit entry failed", zap.Error(err))
	}

	logger.Info("dist-tags updated", zap.String("user", entry.User), zap.String("version", entry.Version))
	return cloudfn.JSONResponse(http.StatusOK, success{OK: true, ID: entry.Package, DistTags: doc.distTags})
}

func nameAndTag(req events.APIGatewayProxyRequest) (string, string, error) {
	name, err := pathParam(req, "name")
	if err != nil {
		return "", "", err
	}
	tag, err := pathParam(req, "tag")
	if err != nil {
		return "", "", err
	}
	return name, tag, nil
}

func parseVersion(req events.APIGatewayProxyRequest) (string, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return "", cloudfn.ErrValidation("body is not valid base64").WithCause(err)
		}
		body = decoded
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", cloudfn.ErrValidation("missing version")
	}

	var version string
	if err := json.Unmarshal(body, &version); err != nil {
		var obj struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", cloudfn.ErrValidation("body must be a version string").WithCause(err)
		}
		version = obj.Version
	}
	if version = strings.TrimSpace(version); version == "" {
		return "", cloudfn.ErrValidation("missing version")
	}
	return version, nil
}

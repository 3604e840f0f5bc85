package disttags

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"
)

// Get returns a package's dist-tags. Packages missing from storage are looked
// up in the public registry; a package found in neither is a 404.
func (h *Handlers) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	logger := cloudfn.Logger(ctx, h.logger)

	name, err := pathParam(req, "name")
	if err != nil {
		return cloudfn.ErrorResponse(err), nil
	}
	logger = logger.With(zap.String("package", name))

	data, err := h.store.Get(ctx, documentKey(name))
	switch {
	case err == nil:
		doc, err := parseDocument(data)
		if err != nil {
			logger.Error("stored package document is unreadable", zap.Error(err))
			return cloudfn.ErrorResponse(err), nil
		}
		return cloudfn.JSONResponse(http.StatusOK, doc.distTags), nil
	case cloudfn.IsCategory(err, cloudfn.ErrCategoryNotFound):
		// fall through to the public registry
	default:
		logger.Error("reading package document failed", zap.Error(err))
		return cloudfn.JSONResponse(http.StatusInternalServerError, map[string]string{"error": err.Error()}), nil
	}

	tags, err := h.public.DistTags(ctx, name)
	if err != nil {
		logger.Info("package not found in public registry", zap.Error(err))
		return cloudfn.JSONResponse(http.StatusNotFound, map[string]string{"error": err.Error()}), nil
	}
	return cloudfn.JSONResponse(http.StatusOK, tags), nil
}

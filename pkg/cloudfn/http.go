package cloudfn

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// JSONResponse builds an API Gateway proxy response with a JSON body.
func JSONResponse(status int, body any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"response is not serializable"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}

// ErrorResponse builds a JSON error response whose status follows the error category.
func ErrorResponse(err error) events.APIGatewayProxyResponse {
	return JSONResponse(HTTPStatus(err), map[string]string{"error": PublicMessage(err)})
}

// PublicMessage returns the message safe to show a caller. Internal causes are hidden.
func PublicMessage(err error) string {
	if CategoryOf(err) == ErrCategoryInternal {
		return http.StatusText(http.StatusInternalServerError)
	}
	var fnErr *FunctionError
	if errors.As(err, &fnErr) {
		return fnErr.Message
	}
	return err.Error()
}

// AuthorizerString reads a string value placed in the request context by a custom authorizer.
func AuthorizerString(req events.APIGatewayProxyRequest, key string) string {
	if req.RequestContext.Authorizer == nil {
		return ""
	}
	if v, ok := req.RequestContext.Authorizer[key].(string); ok {
		return v
	}
	return ""
}

package optimizer

import (
	"fmt"
	"net/http"
)

// Response is transport neutral. Header names are lower case. A base64
// encoded body must be decoded before it is written to a client.
type Response struct {
	StatusCode      int
	Headers         map[string]string
	Body            string
	IsBase64Encoded bool
}

func textResponse(status int, body string) Response {
	maxAge := 300
	if status >= http.StatusInternalServerError {
		maxAge = 60
	}
	return Response{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":  "text/plain",
			"cache-control": fmt.Sprintf("public, max-age=%d", maxAge),
		},
		Body: body,
	}
}

func badRequest() Response          { return textResponse(http.StatusBadRequest, "bad request") }
func forbidden() Response           { return textResponse(http.StatusForbidden, "forbidden") }
func notFound() Response            { return textResponse(http.StatusNotFound, "not found") }
func methodNotAllowed() Response    { return textResponse(http.StatusMethodNotAllowed, "method not allowed") }
func internalServerError() Response { return textResponse(http.StatusInternalServerError, "internal server error") }

// retryLater tells the client to come back once the persisted copy is served
// from the processed bucket.
func retryLater() Response {
	return Response{
		StatusCode: http.StatusServiceUnavailable,
		Headers: map[string]string{
			"retry-after":   "1",
			"cache-control": "no-cache, no-store",
		},
	}
}

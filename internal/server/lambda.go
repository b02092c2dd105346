package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirmapper/internal/config"
	"github.com/ehr/fhirmapper/internal/platform/fhir"
	"github.com/ehr/fhirmapper/internal/platform/logging"
	"github.com/ehr/fhirmapper/internal/platform/middleware"
)

// ProxyHandler is the signature aws-lambda-go expects for API Gateway proxy
// integrations.
type ProxyHandler func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// LambdaHandler serves API Gateway proxy events through h. When route is
// non-empty every event is dispatched to that path, so a function bound to a
// single operation works regardless of the stage or resource path.
func LambdaHandler(h http.Handler, route string) ProxyHandler {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		req, err := RequestFromEvent(ctx, event, route)
		if err != nil {
			body, _ := json.Marshal(fhir.ValidationOutcome("body", err.Error()))
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusBadRequest,
				Headers:    map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON},
				Body:       string(body),
			}, nil
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return ResponseFromRecorder(rec), nil
	}
}

// RequestFromEvent converts an API Gateway proxy event into an
// *http.Request. Multi-value headers and query parameters win over their
// single-value forms when both are present.
func RequestFromEvent(ctx context.Context, event events.APIGatewayProxyRequest, route string) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}

	path := event.Path
	if route != "" {
		path = route
	}
	if path == "" {
		path = "/"
	}

	query := url.Values{}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	for k, v := range event.QueryStringParameters {
		if _, ok := query[k]; !ok {
			query.Set(k, v)
		}
	}

	method := event.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	u := url.URL{Path: path, RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, vs := range event.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range event.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if rid := event.RequestContext.RequestID; rid != "" && req.Header.Get(middleware.RequestIDHeader) == "" {
		req.Header.Set(middleware.RequestIDHeader, rid)
	}
	if ip := event.RequestContext.Identity.SourceIP; ip != "" {
		req.RemoteAddr = ip + ":0"
	}
	req.ContentLength = int64(len(body))
	return req, nil
}

// ResponseFromRecorder converts a recorded response into an API Gateway
// proxy response.
func ResponseFromRecorder(rec *httptest.ResponseRecorder) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode:        rec.Code,
		Headers:           make(map[string]string),
		MultiValueHeaders: make(map[string][]string),
		Body:              rec.Body.String(),
	}
	for k, vs := range rec.Header() {
		if len(vs) == 1 {
			resp.Headers[k] = vs[0]
			continue
		}
		resp.MultiValueHeaders[k] = append([]string(nil), vs...)
	}
	return resp
}

// NewLambda loads configuration from the environment and returns a proxy
// handler bound to route. The container lives for the whole execution
// environment, so connections are reused across invocations.
func NewLambda(ctx context.Context, route string) (ProxyHandler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.UseConsoleLog(), cfg.LogLevel)

	c, err := NewContainer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return LambdaHandler(c.Echo(), route), nil
}

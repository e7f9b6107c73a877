package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartSpanOpensTrace(t *testing.T) {
	tracer := New("shell", zap.NewNop())

	span, ctx := tracer.StartSpan(context.Background(), "stage-assets")
	require.NotEmpty(t, span.TraceID)
	require.NotEmpty(t, span.SpanID)
	assert.Empty(t, span.ParentID)
	assert.Equal(t, span.TraceID, GetTraceID(ctx))
	assert.Equal(t, span.SpanID, GetSpanID(ctx))
}

func TestStartSpanInheritsParent(t *testing.T) {
	tracer := New("shell", zap.NewNop())

	parent, ctx := tracer.StartSpan(context.Background(), "restart")
	child, _ := tracer.StartSpan(ctx, "probe")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tracer := New("shell", zap.NewNop())
	span, ctx := tracer.StartSpan(context.Background(), "forward")

	headers := map[string]string{}
	InjectTraceContext(ctx, headers)
	traceID, spanID := ExtractTraceContext(headers)

	assert.Equal(t, span.TraceID, traceID)
	assert.Equal(t, span.SpanID, spanID)
}

func TestHTTPMiddlewareSetsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("shell", zap.NewNop())

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	assert.NotEmpty(t, w.Header().Get("X-Span-ID"))
}

func TestHTTPMiddlewareContinuesClientTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("shell", zap.NewNop())

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Trace-ID", "req_01TESTTRACE")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req_01TESTTRACE", w.Header().Get("X-Trace-ID"))
}

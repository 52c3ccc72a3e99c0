// Package dispatch routes inbound requests to the handler code a module
// registered for its own path prefix. A module failure is converted into a
// structured error response and never crashes the host response pipeline.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyonweb/module-runtime/internal/metrics"
	"github.com/halcyonweb/module-runtime/internal/registry"
	"github.com/halcyonweb/module-runtime/pkg/utils"
)

// Result is the host-level outcome of a dispatch. When Raw is set the
// module response passes through verbatim; otherwise Body is written as
// the JSON envelope.
type Result struct {
	Status int
	Raw    *registry.Response
	Body   map[string]interface{}
}

// Dispatcher forwards requests to registered module handlers
type Dispatcher struct {
	logger *logrus.Logger

	metricsManager *metrics.Manager
}

// NewDispatcher creates a dispatcher
func NewDispatcher(metricsManager *metrics.Manager) *Dispatcher {
	return &Dispatcher{
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
	}
}

// Dispatch resolves the module's handler for the request method, falling
// back to the module's default handler, and invokes it. Handler panics and
// errors become structured 5xx payloads.
func (d *Dispatcher) Dispatch(ctx context.Context, moduleID string, req *registry.Request) *Result {
	start := time.Now()

	if moduleID == "" {
		return d.finish(moduleID, "missing_id", start, errorResult(
			http.StatusBadRequest, utils.ErrCodeValidation, "module id is required", ""))
	}

	routes, ok := registry.GetRoutes(moduleID)
	if !ok {
		return d.finish(moduleID, "not_found", start, errorResult(
			http.StatusNotFound, utils.ErrCodeNotFound,
			fmt.Sprintf("module %q has no handler", moduleID), ""))
	}

	handler, ok := routes.Resolve(req.Method)
	if !ok {
		return d.finish(moduleID, "not_found", start, errorResult(
			http.StatusNotFound, utils.ErrCodeNotFound,
			fmt.Sprintf("module %q has no handler for %s", moduleID, req.Method), ""))
	}

	result := d.invoke(ctx, moduleID, handler, req)

	status := "success"
	if result.Status >= http.StatusInternalServerError {
		status = "error"
	}
	return d.finish(moduleID, status, start, result)
}

// invoke runs the handler with panic recovery
func (d *Dispatcher) invoke(ctx context.Context, moduleID string, handler registry.HandlerFunc, req *registry.Request) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			trace := string(buf[:n])

			d.logger.Error("Module handler panicked",
				"module", moduleID, "method", req.Method, "panic", r)

			result = errorResult(http.StatusInternalServerError, utils.ErrCodeDispatch,
				fmt.Sprintf("module %q handler panicked: %v", moduleID, r), trace)
		}
	}()

	value, err := handler(ctx, req)
	if err != nil {
		d.logger.Error("Module handler failed",
			"module", moduleID, "method", req.Method, "error", err)

		trace := ""
		if appErr, ok := err.(*utils.AppError); ok {
			trace = appErr.StackTrace
		}
		return errorResult(http.StatusInternalServerError, utils.ErrCodeDispatch, err.Error(), trace)
	}

	if raw, ok := value.(*registry.Response); ok {
		if raw.StatusCode == 0 {
			raw.StatusCode = http.StatusOK
		}
		return &Result{Status: raw.StatusCode, Raw: raw}
	}

	return &Result{
		Status: http.StatusOK,
		Body:   map[string]interface{}{"ok": true, "data": value},
	}
}

func (d *Dispatcher) finish(moduleID, status string, start time.Time, result *Result) *Result {
	if d.metricsManager != nil {
		label := moduleID
		if label == "" {
			label = "unknown"
		}
		d.metricsManager.GetPrometheusMetrics().RecordDispatch(label, status, time.Since(start))
	}
	return result
}

func errorResult(status int, code, message, trace string) *Result {
	body := map[string]interface{}{
		"ok":    false,
		"code":  code,
		"error": message,
	}
	if trace != "" {
		body["trace"] = trace
	}
	return &Result{Status: status, Body: body}
}

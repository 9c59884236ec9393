package restyutil

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"routine-desk/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_request  = "resty.request"
	report_response = "resty.response"
)

// Output receives a rendered request/response pair per message id.
type Output interface {
	Write(id string, contents string)
}

type instrumentCtx struct {
	tel       telemetry.API
	tracer    trace.Tracer
	output    Output
	idcounter *uint64
}

type messageCtxKeyType int

var messageCtxKey messageCtxKeyType

type messageCtx struct {
	id    string
	start time.Time
}

// InstrumentClient traces every request made through client and reports it
// to tel, output may be nil, otherwise every response is dumped into it.
func InstrumentClient(client *resty.Client, tel telemetry.API, output Output) {
	var idcounter uint64
	i := instrumentCtx{
		tel:       tel,
		tracer:    otel.Tracer("routine-desk/lib/restyutil"),
		output:    output,
		idcounter: &idcounter,
	}
	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

func (i instrumentCtx) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx, _ := i.tracer.Start(req.Context(), fmt.Sprintf("http %s", req.Method))

	id := strconv.FormatUint(atomic.AddUint64(i.idcounter, 1), 10)
	ctx = context.WithValue(ctx, messageCtxKey, messageCtx{id: id, start: time.Now()})
	i.tel.ReportDebug(report_request, "id", id, "method", req.Method, "url", req.URL)

	req.SetContext(ctx)
	return nil
}

func (i instrumentCtx) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(
		attribute.String("http.method", res.Request.Method),
		attribute.String("http.url", res.Request.URL),
		attribute.Int("http.status_code", res.StatusCode()),
	)
	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
	}

	msg, ok := ctx.Value(messageCtxKey).(messageCtx)
	if !ok {
		return nil
	}
	i.tel.ReportDebug(report_response, "id", msg.id, "status", res.Status(), "took", time.Since(msg.start).String())
	if i.output != nil {
		i.output.Write(msg.id, FormatHttpMessage(res))
	}
	return nil
}

func (i instrumentCtx) onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	defer span.End()
	span.RecordError(err)
	span.SetStatus(codes.Error, "request failed")

	i.tel.ReportBroken(report_response, err, req.Method, req.URL)
}

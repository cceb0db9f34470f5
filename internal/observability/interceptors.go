package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/globe-engine/internal/logging"
)

const requestIDMetadataKey = "x-request-id"

// RequestUnaryServerInterceptor attaches a request-scoped logger to the
// context, taking request_id from inbound metadata when present. It tags the
// active server span with rpc attributes and the request id, and logs each
// call at debug level.
func RequestUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.WithID(ctx, logging.RequestScope, vals[0])
			}
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		ctx, log := logging.Scoped(ctx, logging.RequestScope, base.With(logging.String("method", fullMethod)))

		service, method := splitFullMethod(fullMethod)
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(fullMethod, "/")),
			attribute.String("request_id", logging.IDFromContext(ctx, logging.RequestScope)),
		)

		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		log.Debug(ctx, "rpc handled",
			logging.String("code", status.Code(err).String()),
			logging.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

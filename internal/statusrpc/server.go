// Package statusrpc serves the standard gRPC health protocol for a running
// solver so that orchestrators can probe it.
package statusrpc

import (
	"context"
	"fmt"
	"net"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/vlasov-sim/internal/logging"
)

const tracerName = "github.com/signalsfoundry/vlasov-sim/internal/statusrpc"

// SolverService is the health service name reporting whether steps are
// being taken.
const SolverService = "vlasov.Solver"

// Server is a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// New builds a server whose solver status starts as NOT_SERVING.
func New(log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		grpc: grpc.NewServer(grpc.ChainUnaryInterceptor(
			LoggingUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
		)),
		health: health.NewServer(),
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(SolverService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "serving gRPC health", logging.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// SetServing flips the solver status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SolverService, status)
}

// Stop marks every service NOT_SERVING and drains open RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// LoggingUnaryServerInterceptor attaches a logger annotated with the RPC
// method to the request context.
func LoggingUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		reqLog := base.With(logging.String("method", info.FullMethod))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Debug(ctx, "rpc failed", logging.Err(err))
		}
		return resp, err
	}
}

// TracingUnaryServerInterceptor wraps each RPC in a server span.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := splitMethod(info.FullMethod)
		ctx, span := tracer.Start(ctx, fmt.Sprintf("RPC/%s/%s", service, method), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		return resp, err
	}
}

// splitMethod parses "/package.Service/Method", returning "unknown" for any
// part it cannot find.
func splitMethod(fullMethod string) (string, string) {
	parts := strings.SplitN(strings.TrimPrefix(fullMethod, "/"), "/", 2)
	service, method := "unknown", "unknown"
	if len(parts) > 0 && parts[0] != "" {
		service = parts[0]
	}
	if len(parts) == 2 && parts[1] != "" {
		method = parts[1]
	}
	return service, method
}

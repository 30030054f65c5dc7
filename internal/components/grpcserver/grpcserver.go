// Package grpcserver implements a gRPC server component, adapted to
// this module's runtime-discovered dependency model: it resolves logging
// via bc.FindComponent instead of a static Dependencies() list, and drops
// the earlier package-level RegisterService/snapshot registry in favor of
// RegisterFuncs passed directly to Factory, since there is no global
// registrar here for other packages to call into before construction.
package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Config mirrors grpc_server.Config.
type Config struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	Address          string        `yaml:"address" json:"address"`
	MaxRecvMsgSize   int           `yaml:"max_recv_msg_size" json:"max_recv_msg_size"`
	MaxSendMsgSize   int           `yaml:"max_send_msg_size" json:"max_send_msg_size"`
	GracefulTimeout  time.Duration `yaml:"graceful_timeout" json:"graceful_timeout"`
	EnableReflection bool          `yaml:"enable_reflection" json:"enable_reflection"`
	EnableHealth     bool          `yaml:"enable_health" json:"enable_health"`
}

func applyDefaults(cfg *Config) {
	if cfg.Address == "" {
		cfg.Address = ":50051"
	}
	if cfg.MaxRecvMsgSize == 0 {
		cfg.MaxRecvMsgSize = 4 << 20
	}
	if cfg.MaxSendMsgSize == 0 {
		cfg.MaxSendMsgSize = 4 << 20
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
}

// RegisterFunc registers application services against the server before it
// starts serving. Callers wanting to expose an RPC pass one to Factory
// and FindComponent(consts.ComponentGRPCServer) later for
// anything else they need from the running server.
type RegisterFunc func(s *grpc.Server) error

// Server owns the grpc.Server and its health endpoint.
type Server struct {
	cfg       Config
	logger    logging.Logger
	server    *grpc.Server
	healthSrv *health.Server
	started   bool
}

// traceMetaKeys lists the inbound metadata keys searched for a trace id
// before one is generated, matching traceInterceptor.
var traceMetaKeys = []string{"trace-id", "trace_id", "traceid", "x-trace-id", "request-id"}

// Factory decodes Config, resolves the logging dependency, registers the
// supplied RegisterFuncs, and starts Serve in the background, matching a
// Start() pattern of a detached goroutine.
func Factory(section *config.ComponentSection, registerFuncs ...RegisterFunc) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("grpcserver: component disabled")
		}
		applyDefaults(&cfg)

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("grpcserver: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("grpcserver: logging component has unexpected type %T", loggerComp)
		}

		s := &Server{cfg: cfg, logger: logger}

		unaryInts := []grpc.UnaryServerInterceptor{
			s.traceInterceptor(),
			s.loggingInterceptor(),
			s.recoveryInterceptor(),
		}
		opts := []grpc.ServerOption{
			grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
			grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
			grpc.ChainUnaryInterceptor(unaryInts...),
		}
		s.server = grpc.NewServer(opts...)

		if cfg.EnableHealth {
			s.healthSrv = health.NewServer()
			healthpb.RegisterHealthServer(s.server, s.healthSrv)
			s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		}
		if cfg.EnableReflection {
			reflection.Register(s.server)
		}

		for _, r := range registerFuncs {
			if err := r(s.server); err != nil {
				return nil, fmt.Errorf("grpcserver: service register failed: %w", err)
			}
		}

		lis, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("grpcserver: listen: %w", err)
		}

		go func() {
			logger.Info(context.Background(), "grpcserver listening", zap.String("address", cfg.Address))
			if err := s.server.Serve(lis); err != nil {
				logger.Error(context.Background(), "grpcserver serve error", zap.Error(err))
			}
		}()

		s.started = true
		return s, nil
	}
}

// traceInterceptor pulls a trace id from inbound metadata, generating one
// if absent, and echoes it back in the response header.
func (s *Server) traceInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var traceID string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			for _, k := range traceMetaKeys {
				if vals := md.Get(k); len(vals) > 0 && vals[0] != "" {
					traceID = vals[0]
					break
				}
			}
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx = context.WithValue(ctx, consts.KeyTraceID, traceID)
		_ = grpc.SetHeader(ctx, metadata.Pairs("trace-id", traceID))
		return handler(ctx, req)
	}
}

func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		resp, err = handler(ctx, req)
		dur := time.Since(start)
		st := status.Code(err)
		if err != nil {
			s.logger.Error(ctx, "grpc_access",
				zap.String("method", info.FullMethod),
				zap.Duration("dur", dur),
				zap.String("grpc_status", st.String()),
				zap.Error(err),
			)
		} else {
			s.logger.Info(ctx, "grpc_access",
				zap.String("method", info.FullMethod),
				zap.Duration("dur", dur),
				zap.String("grpc_status", st.String()),
			)
		}
		return resp, err
	}
}

func (s *Server) recoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(ctx, "panic recovered", zap.Any("panic", r), zap.String("method", info.FullMethod))
				err = status.Errorf(grpcCodes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// HealthServer exposes the grpc health server so callers can flip serving
// status for readiness gating, if EnableHealth was set.
func (s *Server) HealthServer() *health.Server { return s.healthSrv }

// ClearComponent stops accepting new RPCs and waits for in-flight ones to
// finish up to GracefulTimeout, then forces the stop.
func (s *Server) ClearComponent() {
	if !s.started || s.server == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info(context.Background(), "grpcserver stopped gracefully")
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn(context.Background(), "grpcserver graceful timeout exceeded, forcing")
		s.server.Stop()
	}
	s.started = false
}

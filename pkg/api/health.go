package api

import (
	"errors"
	"net"

	"github.com/cuemby/rover/pkg/log"
	"github.com/cuemby/rover/pkg/statebus"
	"github.com/cuemby/rover/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService exposes module health through the standard gRPC health
// protocol. Each module is a service name and is SERVING only while the
// supervisor classifies it healthy. The empty service name reflects the
// whole controller and stops serving while the emergency stop is latched.
type HealthService struct {
	health *health.Server
	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewHealthService creates the gRPC health service and follows the
// emergency stop on bus
func NewHealthService(bus *statebus.Bus) *HealthService {
	logger := log.WithComponent("grpc")
	hs := &HealthService{
		health: health.NewServer(),
		logger: logger,
	}
	hs.grpc = grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	healthpb.RegisterHealthServer(hs.grpc, hs.health)

	hs.setSystem(true)
	if bus != nil {
		if _, active := bus.EmergencyStop(); active {
			hs.setSystem(false)
		}
		bus.Subscribe(types.NamespaceSystemStatus, func(_, key string, value interface{}) {
			if active, ok := statebus.IsEmergencyStop(key, value); ok {
				hs.setSystem(!active)
			}
		})
	}
	return hs
}

func (hs *HealthService) setSystem(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.health.SetServingStatus("", st)
}

// SetModuleHealth implements supervisor.HealthSink
func (hs *HealthService) SetModuleHealth(h types.ModuleHealth) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.Status == types.ModuleStatusHealthy {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus(h.ModuleName, st)
}

// RemoveModule implements supervisor.HealthSink
func (hs *HealthService) RemoveModule(name string) {
	hs.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
}

// Serve serves on lis until Stop
func (hs *HealthService) Serve(lis net.Listener) error {
	err := hs.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Start listens on addr and serves in the background
func (hs *HealthService) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := hs.Serve(lis); err != nil {
			hs.logger.Error().Err(err).Msg("gRPC server failed")
		}
	}()
	hs.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health service listening")
	return nil
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (hs *HealthService) Stop() {
	hs.health.Shutdown()
	hs.grpc.GracefulStop()
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/coldcall/internal/coldcall"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the unary RPC served by a remote generation service.
// Request and response are google.protobuf.Struct values: the request carries
// instruction, temperature, max_tokens and model; the response carries text.
const GenerateMethod = "/coldcall.generation.v1.TextGenerator/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMissingText              = errors.New("generation response has no text field")
	errNotServing               = errors.New("generation service not serving")
)

// GRPCBackend forwards generation to a remote service.
type GRPCBackend struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	addr    string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// GRPCConfig holds connection tuning for the remote generator.
type GRPCConfig struct {
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGRPCConfig returns default connection tuning.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGRPCBackend connects to the generation service at cfg.Addr with default tuning.
func NewGRPCBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*GRPCBackend, error) {
	return NewGRPCBackendWithConfig(ctx, cfg, DefaultGRPCConfig(), logger)
}

// NewGRPCBackendWithConfig connects to the generation service and waits until
// the connection is ready so a bad address fails at startup.
func NewGRPCBackendWithConfig(ctx context.Context, cfg Config, gcfg GRPCConfig, logger *slog.Logger) (*GRPCBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: generator address is required", ErrMissingCredential)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                gcfg.KeepaliveTime,
			Timeout:             gcfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	}
	opts = append(opts, gcfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generator at %s: %w", cfg.Addr, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, gcfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generator at %s not ready: %w", cfg.Addr, err)
	}

	logger.Info("Connected to generation service", "address", cfg.Addr)

	return &GRPCBackend{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		addr:    cfg.Addr,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Generate invokes GenerateMethod.
func (b *GRPCBackend) Generate(ctx context.Context, req coldcall.GenerationRequest) (string, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	in, err := structpb.NewStruct(map[string]any{
		"instruction": req.Instruction,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"model":       b.model,
	})
	if err != nil {
		return "", fmt.Errorf("encode generation request: %w", err)
	}

	out := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return "", fmt.Errorf("generate rpc: %w", err)
	}

	text, ok := out.GetFields()["text"]
	if !ok {
		return "", errMissingText
	}
	return text.GetStringValue(), nil
}

// Health checks the standard gRPC health service of the generator.
func (b *GRPCBackend) Health(ctx context.Context) error {
	resp, err := b.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Name returns provider:address.
func (b *GRPCBackend) Name() string {
	return ProviderGRPC + ":" + b.addr
}

// Close closes the gRPC connection.
func (b *GRPCBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Close(); err != nil {
		b.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

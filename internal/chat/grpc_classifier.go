package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Intent classifier service names. Payloads are google.protobuf.Struct:
// request {"text": string}, response {"intent": string}.
const (
	ClassifierServiceName = "cypherguy.intent.v1.IntentClassifier"
	classifyMethod        = "/" + ClassifierServiceName + "/Classify"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCClassifierConfig holds configuration for the gRPC classifier client.
type GRPCClassifierConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCClassifierConfig returns default configuration for addr.
func DefaultGRPCClassifierConfig(addr string) GRPCClassifierConfig {
	return GRPCClassifierConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCClassifier is a TextClassifier backed by a remote intent service.
type GRPCClassifier struct {
	conn   *grpc.ClientConn
	cfg    GRPCClassifierConfig
	logger *slog.Logger
}

// NewGRPCClassifier connects to the classifier at cfg.Address and fails fast
// when it is not reachable within cfg.ConnectTimeout.
func NewGRPCClassifier(cfg GRPCClassifierConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to intent classifier at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("intent classifier at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("connected to intent classifier", "address", cfg.Address)
	return &GRPCClassifier{conn: conn, cfg: cfg, logger: logger}, nil
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

// Classify implements TextClassifier.
func (c *GRPCClassifier) Classify(ctx context.Context, text string) (domain.Category, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return "", fmt.Errorf("encode classify request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNoIntent
		}
		c.logger.Warn("classify call failed", "error", err)
		return "", fmt.Errorf("classify request failed: %w", err)
	}

	intent := domain.Category(resp.GetFields()["intent"].GetStringValue())
	if !intent.Valid() {
		return "", fmt.Errorf("%w: %q", ErrNoIntent, intent)
	}
	return intent, nil
}

// Close closes the gRPC connection.
func (c *GRPCClassifier) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// classifierService is the handler type of the intent service.
type classifierService interface {
	classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type classifierServer struct {
	backend TextClassifier
}

func (s *classifierServer) classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	text := req.GetFields()["text"].GetStringValue()
	if text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	intent, err := s.backend.Classify(ctx, text)
	if errors.Is(err, ErrNoIntent) {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return structpb.NewStruct(map[string]any{"intent": string(intent)})
}

func classifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(classifierService).classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: classifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(classifierService).classify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ClassifierServiceName,
	HandlerType: (*classifierService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cypherguy/intent/v1/intent.proto",
}

// RegisterClassifierServer exposes backend as the intent service on s.
func RegisterClassifierServer(s grpc.ServiceRegistrar, backend TextClassifier) {
	s.RegisterService(&classifierServiceDesc, &classifierServer{backend: backend})
}

package grpcclient

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/idcompare/internal/facematch"
	"github.com/example/idcompare/internal/logging"
)

// CompareMethod is the unary RPC served by the face embedding service. Both
// request and response are google.protobuf.Struct messages.
const CompareMethod = "/facematch.v1.FaceMatcher/Compare"

const maxMessageSize = 32 << 20

// DialFaceMatcher returns a ready-to-use gRPC client for the face embedding service.
func DialFaceMatcher(ctx context.Context, addr string, callTimeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (facematch.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(maxMessageSize),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
		),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_matcher", "", err)
		logger.Error("failed to dial face matcher", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewFaceMatcher(conn, callTimeout, logger), conn, nil
}

// NewFaceMatcher wraps an existing connection.
func NewFaceMatcher(conn grpc.ClientConnInterface, callTimeout time.Duration, logger *zap.Logger) facematch.Client {
	return &grpcFaceMatcher{conn: conn, timeout: callTimeout, logger: logger.Named("face_matcher")}
}

type grpcFaceMatcher struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

func (g *grpcFaceMatcher) Compare(ctx context.Context, requestID string, imageA, imageB []byte) (*facematch.Result, error) {
	req, err := structpb.NewStruct(map[string]any{
		"request_id": requestID,
		"image_a":    base64.StdEncoding.EncodeToString(imageA),
		"image_b":    base64.StdEncoding.EncodeToString(imageB),
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.build_request", requestID, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, CompareMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.compare_faces", requestID, err)
		g.logger.Error("face matcher call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	fields := resp.GetFields()
	return &facematch.Result{
		Detected:   fields["detected"].GetBoolValue(),
		Similarity: fields["similarity"].GetNumberValue(),
		Message:    fields["message"].GetStringValue(),
	}, nil
}

package scorer

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region methods
// Full gRPC method names served by a remote scoring backend. Both exchange
// google.protobuf.Struct messages.
const (
	PredictMethod = "/persona.scoring.v1.Predictor/Predict"
	ScoreMethod   = "/persona.scoring.v1.Optimizer/Score"
)

// #endregion methods

// #region client-struct
// GRPCClient talks to a remote predictor/optimizer. It implements both
// Predictor and Scorer.
type GRPCClient struct {
	conn   *grpc.ClientConn
	invoke grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewGRPCClient creates a client for the backend at addr. The connection is lazy.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, invoke: conn}, nil
}

// NewGRPCClientWithConn wraps an existing connection. Used for testing
// without a real server.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{invoke: cc}
}

// #endregion constructor

// #region close
// Close shuts down the owned gRPC connection, if any.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region predict
// Predict sends the feature vector and model id; the reply carries
// "metrics" (struct of numbers) and "confidence".
func (c *GRPCClient) Predict(ctx context.Context, modelID string, v feature.Vector) (Prediction, error) {
	resp, err := c.call(ctx, PredictMethod, modelID, v)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict rpc: %w", err)
	}
	fields := resp.GetFields()
	conf := 1.0
	if cv, ok := fields["confidence"]; ok {
		conf = clamp01(cv.GetNumberValue())
	}
	return Prediction{Metrics: decodeMetrics(fields["metrics"]), Confidence: conf}, nil
}

// #endregion predict

// #region score
// Score asks the optimizer backend for its metrics.
func (c *GRPCClient) Score(ctx context.Context, v feature.Vector) (Metrics, error) {
	resp, err := c.call(ctx, ScoreMethod, "", v)
	if err != nil {
		return nil, fmt.Errorf("score rpc: %w", err)
	}
	return decodeMetrics(resp.GetFields()["metrics"]), nil
}

// #endregion score

// #region helpers
func (c *GRPCClient) call(ctx context.Context, method, modelID string, v feature.Vector) (*structpb.Struct, error) {
	feats, err := structpb.NewStruct(map[string]any(v))
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"features": structpb.NewStructValue(feats),
	}}
	if modelID != "" {
		req.Fields["model_id"] = structpb.NewStringValue(modelID)
	}
	resp := &structpb.Struct{}
	if err := c.invoke.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeMetrics(val *structpb.Value) Metrics {
	out := Metrics{}
	for name, m := range val.GetStructValue().GetFields() {
		if _, ok := m.GetKind().(*structpb.Value_NumberValue); !ok {
			continue
		}
		n := m.GetNumberValue()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			continue
		}
		out[name] = n
	}
	return out
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// #endregion helpers

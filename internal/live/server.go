package live

import (
	"encoding/json"
	"fmt"
	"log/slog"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"limitwatch/internal/domain"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "limitwatch.v1.LiveViews"

const watchMethod = "/" + ServiceName + "/Watch"

// Message types carried in the "type" field of each streamed Struct.
const (
	MessageView   = "view"
	MessageStatus = "status"
	MessageChange = "change"
)

// wireMessage is the JSON shape of every Struct on the Watch stream.
type wireMessage struct {
	Type   string               `json:"type"`
	View   *domain.ViewSnapshot `json:"view,omitempty"`
	Status *domain.Status       `json:"status,omitempty"`
	Change *domain.Change       `json:"change,omitempty"`
}

type watchServer interface {
	Watch(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*watchServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "limitwatch/v1/live.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(watchServer).Watch(req, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Server implements the Watch gRPC endpoint.
type Server struct {
	model   *Model
	bufSize int
	log     *slog.Logger
}

// NewServer creates a gRPC service backed by the given Model.
func NewServer(model *Model, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{model: model, bufSize: 4096, log: log.With("component", "grpc")}
}

// NewGRPCServer returns a grpc.Server instrumented with Prometheus
// interceptors.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	return grpc.NewServer(opts...)
}

// RegisterGRPC registers the service on gs and initializes its metrics.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
	grpc_prometheus.Register(gs)
}

// Watch sends every view and the current status, then streams change
// events until the client goes away or the model closes.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	subID, views, status, ch := s.model.Watch(s.bufSize)
	defer s.model.Unsubscribe(subID)

	for i := range views {
		if err := send(stream, wireMessage{Type: MessageView, View: &views[i]}); err != nil {
			return err
		}
	}
	if err := send(stream, wireMessage{Type: MessageStatus, Status: &status}); err != nil {
		return err
	}

	s.log.Info("grpc client subscribed", "subID", subID, "views", len(views))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(stream, wireMessage{Type: MessageChange, Change: &c}); err != nil {
				return err
			}
		}
	}
}

func send(stream grpc.ServerStreamingServer[structpb.Struct], m wireMessage) error {
	st, err := toStruct(m)
	if err != nil {
		return err
	}
	return stream.Send(st)
}

func toStruct(m wireMessage) (*structpb.Struct, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

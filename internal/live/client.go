package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"limitwatch/internal/domain"
)

// Client connects to a LiveViews gRPC server and populates a local Model,
// providing an automatic mirror of the server-side model.
type Client struct {
	addr  string
	model *Model
	log   *slog.Logger
}

// NewClient creates a client targeting the given gRPC address.
func NewClient(addr string, model *Model, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{addr: addr, model: model, log: log}
}

// Sync connects to the gRPC server and mirrors its views into the local
// model. It blocks until ctx is cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context) error {
	conn, err := grpc.NewClient(c.addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to live view stream", "addr", c.addr)

	var views []domain.ViewSnapshot
	synced := false
	for {
		st := new(structpb.Struct)
		err := stream.RecvMsg(st)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving message: %w", err)
		}

		m, err := fromStruct(st)
		if err != nil {
			c.log.Warn("skipping malformed message", "error", err)
			continue
		}
		switch m.Type {
		case MessageView:
			if m.View != nil {
				views = append(views, *m.View)
			}
		case MessageStatus:
			// The status message ends the initial state.
			if !synced {
				c.model.Reset(views)
				synced = true
			}
			if m.Status != nil {
				c.model.Publish(domain.Change{Kind: domain.ChangeStatus, Status: m.Status, At: m.Status.At})
			}
		case MessageChange:
			if m.Change != nil {
				c.model.Publish(*m.Change)
			}
		default:
			c.log.Debug("ignoring message", "type", m.Type)
		}
	}
}

func fromStruct(st *structpb.Struct) (wireMessage, error) {
	var m wireMessage
	raw, err := protojson.Marshal(st)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}

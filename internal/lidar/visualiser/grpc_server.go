package visualiser

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lidarfusion.v1.FrameService"

// StreamFramesMethod is the full method name of the frame stream.
const StreamFramesMethod = "/" + ServiceName + "/StreamFrames"

// MaxMsgSize bounds one encoded frame on both ends of the stream. Full
// resolution fused frames exceed gRPC's 4MB default.
const MaxMsgSize = 64 * 1024 * 1024

// FrameServiceServer is the server API for the frame stream. Each message on
// the stream is one frame encoded with EncodeSnapshot.
type FrameServiceServer interface {
	StreamFrames(*emptypb.Empty, FrameService_StreamFramesServer) error
}

// FrameService_StreamFramesServer is the server side of StreamFrames.
type FrameService_StreamFramesServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type frameServiceStreamFramesServer struct {
	grpc.ServerStream
}

func (x *frameServiceStreamFramesServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FrameServiceServer).StreamFrames(m, &frameServiceStreamFramesServer{stream})
}

// FrameServiceDesc describes the frame stream service for grpc.Server.
var FrameServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "lidarfusion/v1/frames.proto",
}

// RegisterService registers srv on s.
func RegisterService(s grpc.ServiceRegistrar, srv FrameServiceServer) {
	s.RegisterService(&FrameServiceDesc, srv)
}

// Server streams snapshots from a FrameStore.
type Server struct {
	store      *FrameStore
	stride     int
	maxClients int32
	clients    atomic.Int32
}

var _ FrameServiceServer = (*Server)(nil)

// NewServer creates a Server reading from store. stride decimates streamed
// points; maxClients of zero means unlimited.
func NewServer(store *FrameStore, stride, maxClients int) *Server {
	return &Server{store: store, stride: stride, maxClients: int32(maxClients)}
}

// Clients returns the number of connected streams.
func (s *Server) Clients() int { return int(s.clients.Load()) }

// StreamFrames sends the latest snapshot and then every newer one until the
// client goes away. A slow client skips versions rather than queueing them.
func (s *Server) StreamFrames(_ *emptypb.Empty, stream FrameService_StreamFramesServer) error {
	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	if s.maxClients > 0 && n > s.maxClients {
		return status.Errorf(codes.ResourceExhausted, "too many clients (%d)", s.maxClients)
	}
	logf("[gRPC] client connected (%d active)", n)

	ctx := stream.Context()
	var last uint64
	for {
		snap, err := s.store.Wait(ctx, last)
		if err != nil {
			logf("[gRPC] client disconnected: %v", err)
			return status.FromContextError(err).Err()
		}
		if err := stream.Send(wrapperspb.Bytes(EncodeSnapshot(snap, s.stride))); err != nil {
			return err
		}
		last = snap.Version
	}
}

// Subscribe opens a frame stream on cc and calls fn for every decoded
// snapshot until the stream ends, ctx is done, or fn returns an error.
// Frames up to MaxMsgSize are accepted; opts may override that.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, fn func(Snapshot) error, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.MaxCallRecvMsgSize(MaxMsgSize)}, opts...)
	stream, err := cc.NewStream(ctx, &FrameServiceDesc.Streams[0], StreamFramesMethod, opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		m := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		snap, err := DecodeSnapshot(m.GetValue())
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// BookingServiceName is the fully qualified gRPC service name. Messages are
// google.protobuf.Struct values whose fields mirror the HTTP JSON bodies.
const BookingServiceName = "mobibook.booking.v1.BookingService"

// BookingServer is the server side of BookingServiceName.
type BookingServer interface {
	Reserve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Reschedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListSlots(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	AuditTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// BookingRPC implements BookingServer on top of Backend.
type BookingRPC struct {
	backend *Backend
}

func NewBookingRPC(backend *Backend) *BookingRPC {
	return &BookingRPC{backend: backend}
}

// RegisterBookingServer registers srv on s.
func RegisterBookingServer(s grpc.ServiceRegistrar, srv BookingServer) {
	s.RegisterService(&bookingServiceDesc, srv)
}

func (r *BookingRPC) Reserve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reserveRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	booking, err := r.backend.reserve(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(booking)
}

func (r *BookingRPC) Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req transitionRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	booking, err := r.backend.transition(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(booking)
}

func (r *BookingRPC) Reschedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rescheduleRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, err
	}
	booking, err := r.backend.reschedule(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(booking)
}

func (r *BookingRPC) GetBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var q bookingQuery
	if err := decodeStruct(in, &q); err != nil {
		return nil, err
	}
	booking, err := r.backend.booking(ctx, q)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(booking)
}

func (r *BookingRPC) ListSlots(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var q slotQuery
	if err := decodeStruct(in, &q); err != nil {
		return nil, err
	}
	list, err := r.backend.listSlots(ctx, q)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(map[string]any{"slots": list})
}

func (r *BookingRPC) AuditTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var q bookingQuery
	if err := decodeStruct(in, &q); err != nil {
		return nil, err
	}
	entries, err := r.backend.auditTrail(ctx, q.BookingID)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(map[string]any{"entries": entries})
}

// decodeStruct copies a Struct into a JSON-tagged request type.
func decodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func unaryMethod(name string, call func(BookingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + BookingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BookingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BookingServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: BookingServiceName,
	HandlerType: (*BookingServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Reserve", BookingServer.Reserve),
		unaryMethod("Transition", BookingServer.Transition),
		unaryMethod("Reschedule", BookingServer.Reschedule),
		unaryMethod("GetBooking", BookingServer.GetBooking),
		unaryMethod("ListSlots", BookingServer.ListSlots),
		unaryMethod("AuditTrail", BookingServer.AuditTrail),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mobibook/booking/v1/booking.proto",
}

// BookingClient calls BookingServiceName with JSON-shaped values.
type BookingClient struct {
	cc grpc.ClientConnInterface
}

func NewBookingClient(cc grpc.ClientConnInterface) *BookingClient {
	return &BookingClient{cc: cc}
}

// Call encodes in as a Struct, invokes method and decodes the reply into out.
// out may be nil.
func (c *BookingClient) Call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	req, err := encodeStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BookingServiceName+"/"+method, req, resp, opts...); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return json.Unmarshal(raw, out)
}

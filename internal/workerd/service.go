// Package workerd serves the LG worker over gRPC.
package workerd

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// Service and method names. Messages are encoded with the JSON codec from
// the transport package, so no generated stubs are involved.
const (
	ServiceName    = "lgworker.v1.TemplateWorker"
	DispatchMethod = "/" + ServiceName + "/Dispatch"
	StatusMethod   = "/" + ServiceName + "/Status"
)

// StatusRequest is the (empty) Status request.
type StatusRequest struct{}

// StatusResponse reports daemon health.
type StatusResponse struct {
	Version       string    `json:"version"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"started_at"`
	ActiveStreams int       `json:"active_streams"`
	TotalStreams  int64     `json:"total_streams"`
	Answered      int64     `json:"answered"`
	RateLimited   int64     `json:"rate_limited"`
}

// TemplateWorkerServer is the service implementation registered with gRPC.
type TemplateWorkerServer interface {
	Dispatch(stream grpc.ServerStream) error
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
}

// ServiceDesc describes the TemplateWorker service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TemplateWorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Dispatch",
			Handler:       dispatchHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "lgworker/v1/worker",
}

// RegisterTemplateWorkerServer registers srv on s.
func RegisterTemplateWorkerServer(s grpc.ServiceRegistrar, srv TemplateWorkerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func dispatchHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TemplateWorkerServer).Dispatch(stream)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TemplateWorkerServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: StatusMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TemplateWorkerServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

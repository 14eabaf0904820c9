// Hand-maintained equivalent of what protoc-gen-go-grpc would emit for
// logrpc.proto's LogHandlerRpc service.
package logrpcpb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	LogHandlerRpc_SendConfigChangeCmd_FullMethodName = "/logrpcpb.LogHandlerRpc/SendConfigChangeCmd"
	LogHandlerRpc_GetPalfStat_FullMethodName         = "/logrpcpb.LogHandlerRpc/GetPalfStat"
)

// LogHandlerRpcClient is the client API for LogHandlerRpc service.
type LogHandlerRpcClient interface {
	SendConfigChangeCmd(ctx context.Context, in *ConfigChangeCmdReq, opts ...grpc.CallOption) (*ConfigChangeCmdResp, error)
	GetPalfStat(ctx context.Context, in *GetStatReq, opts ...grpc.CallOption) (*GetStatResp, error)
}

type logHandlerRpcClient struct {
	cc *grpc.ClientConn
}

func NewLogHandlerRpcClient(cc *grpc.ClientConn) LogHandlerRpcClient {
	return &logHandlerRpcClient{cc: cc}
}

func (c *logHandlerRpcClient) SendConfigChangeCmd(ctx context.Context, in *ConfigChangeCmdReq, opts ...grpc.CallOption) (*ConfigChangeCmdResp, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(ConfigChangeCmdResp)
	if err := c.cc.Invoke(ctx, LogHandlerRpc_SendConfigChangeCmd_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *logHandlerRpcClient) GetPalfStat(ctx context.Context, in *GetStatReq, opts ...grpc.CallOption) (*GetStatResp, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	out := new(GetStatResp)
	if err := c.cc.Invoke(ctx, LogHandlerRpc_GetPalfStat_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LogHandlerRpcServer is the server API for LogHandlerRpc service.
type LogHandlerRpcServer interface {
	SendConfigChangeCmd(context.Context, *ConfigChangeCmdReq) (*ConfigChangeCmdResp, error)
	GetPalfStat(context.Context, *GetStatReq) (*GetStatResp, error)
}

// UnimplementedLogHandlerRpcServer embeds this in concrete server types for
// forward compatibility, the way teacher's storagepb.UnimplementedStorageServer does.
type UnimplementedLogHandlerRpcServer struct{}

func (UnimplementedLogHandlerRpcServer) SendConfigChangeCmd(context.Context, *ConfigChangeCmdReq) (*ConfigChangeCmdResp, error) {
	return nil, errUnimplemented("SendConfigChangeCmd")
}

func (UnimplementedLogHandlerRpcServer) GetPalfStat(context.Context, *GetStatReq) (*GetStatResp, error) {
	return nil, errUnimplemented("GetPalfStat")
}

func errUnimplemented(method string) error {
	return &unimplementedError{method: method}
}

type unimplementedError struct{ method string }

func (e *unimplementedError) Error() string { return "logrpcpb: method not implemented: " + e.method }

func RegisterLogHandlerRpcServer(s grpc.ServiceRegistrar, srv LogHandlerRpcServer) {
	s.RegisterService(&LogHandlerRpc_ServiceDesc, srv)
}

func _LogHandlerRpc_SendConfigChangeCmd_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ConfigChangeCmdReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogHandlerRpcServer).SendConfigChangeCmd(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LogHandlerRpc_SendConfigChangeCmd_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogHandlerRpcServer).SendConfigChangeCmd(ctx, req.(*ConfigChangeCmdReq))
	}
	return interceptor(ctx, in, info, handler)
}

func _LogHandlerRpc_GetPalfStat_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetStatReq)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LogHandlerRpcServer).GetPalfStat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LogHandlerRpc_GetPalfStat_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LogHandlerRpcServer).GetPalfStat(ctx, req.(*GetStatReq))
	}
	return interceptor(ctx, in, info, handler)
}

// LogHandlerRpc_ServiceDesc is the grpc.ServiceDesc for LogHandlerRpc service.
var LogHandlerRpc_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "logrpcpb.LogHandlerRpc",
	HandlerType: (*LogHandlerRpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendConfigChangeCmd",
			Handler:    _LogHandlerRpc_SendConfigChangeCmd_Handler,
		},
		{
			MethodName: "GetPalfStat",
			Handler:    _LogHandlerRpc_GetPalfStat_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "logrpc.proto",
}

package creditrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "credit.v1.CreditService"

const (
	methodGetBalance  = "GetBalance"
	methodGrant       = "Grant"
	methodCanSpend    = "CanSpend"
	methodSpend       = "Spend"
	methodListEntries = "ListEntries"
	methodReconcile   = "Reconcile"
	methodRepair      = "Repair"
	methodBulkScan    = "BulkScan"
)

// CreditServiceServer is implemented by the ledger gRPC server.
type CreditServiceServer interface {
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	Grant(context.Context, *GrantRequest) (*MutationResponse, error)
	CanSpend(context.Context, *CanSpendRequest) (*CanSpendResponse, error)
	Spend(context.Context, *SpendRequest) (*MutationResponse, error)
	ListEntries(context.Context, *ListEntriesRequest) (*ListEntriesResponse, error)
	Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error)
	Repair(context.Context, *RepairRequest) (*RepairResponse, error)
	BulkScan(context.Context, *BulkScanRequest) (*BulkScanResponse, error)
}

// UnimplementedCreditServiceServer answers codes.Unimplemented for every method.
type UnimplementedCreditServiceServer struct{}

func (UnimplementedCreditServiceServer) GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}

func (UnimplementedCreditServiceServer) Grant(context.Context, *GrantRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Grant not implemented")
}

func (UnimplementedCreditServiceServer) CanSpend(context.Context, *CanSpendRequest) (*CanSpendResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CanSpend not implemented")
}

func (UnimplementedCreditServiceServer) Spend(context.Context, *SpendRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Spend not implemented")
}

func (UnimplementedCreditServiceServer) ListEntries(context.Context, *ListEntriesRequest) (*ListEntriesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListEntries not implemented")
}

func (UnimplementedCreditServiceServer) Reconcile(context.Context, *ReconcileRequest) (*ReconcileResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Reconcile not implemented")
}

func (UnimplementedCreditServiceServer) Repair(context.Context, *RepairRequest) (*RepairResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Repair not implemented")
}

func (UnimplementedCreditServiceServer) BulkScan(context.Context, *BulkScanRequest) (*BulkScanResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BulkScan not implemented")
}

// RegisterCreditServiceServer attaches server to registrar.
func RegisterCreditServiceServer(registrar grpc.ServiceRegistrar, server CreditServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

// ServiceDesc describes credit.v1.CreditService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, CreditServiceServer.GetBalance)},
		{MethodName: methodGrant, Handler: unaryHandler(methodGrant, CreditServiceServer.Grant)},
		{MethodName: methodCanSpend, Handler: unaryHandler(methodCanSpend, CreditServiceServer.CanSpend)},
		{MethodName: methodSpend, Handler: unaryHandler(methodSpend, CreditServiceServer.Spend)},
		{MethodName: methodListEntries, Handler: unaryHandler(methodListEntries, CreditServiceServer.ListEntries)},
		{MethodName: methodReconcile, Handler: unaryHandler(methodReconcile, CreditServiceServer.Reconcile)},
		{MethodName: methodRepair, Handler: unaryHandler(methodRepair, CreditServiceServer.Repair)},
		{MethodName: methodBulkScan, Handler: unaryHandler(methodBulkScan, CreditServiceServer.BulkScan)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credit/v1/credit.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler[Request any, Response any](method string, call func(CreditServiceServer, context.Context, *Request) (*Response, error)) grpc.MethodHandler {
	return func(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(server.(CreditServiceServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, request interface{}) (interface{}, error) {
			return call(server.(CreditServiceServer), ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}

package creditrpc

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

func TestCodecIsRegistered(test *testing.T) {
	test.Parallel()
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		test.Fatalf("expected %q codec to be registered", CodecName)
	}
	payload, err := codec.Marshal(&SpendRequest{UserID: "user-1", Amount: 3})
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"user_id":"user-1","amount":3}` {
		test.Fatalf("unexpected payload %s", payload)
	}
}

func TestCodecRejectsMalformedPayload(test *testing.T) {
	test.Parallel()
	var request GrantRequest
	if err := (Codec{}).Unmarshal([]byte(`{"amount":"ten"}`), &request); err == nil {
		test.Fatalf("expected unmarshal error")
	}
	if err := (Codec{}).Unmarshal(nil, &request); err != nil {
		test.Fatalf("empty payload should decode to zero value, got %v", err)
	}
}

func TestServiceDescCoversEveryMethod(test *testing.T) {
	test.Parallel()
	expected := map[string]bool{
		methodGetBalance: true, methodGrant: true, methodCanSpend: true, methodSpend: true,
		methodListEntries: true, methodReconcile: true, methodRepair: true, methodBulkScan: true,
	}
	if len(ServiceDesc.Methods) != len(expected) {
		test.Fatalf("expected %d methods, got %d", len(expected), len(ServiceDesc.Methods))
	}
	for _, method := range ServiceDesc.Methods {
		if !expected[method.MethodName] {
			test.Fatalf("unexpected method %s", method.MethodName)
		}
	}
}

func TestUnaryHandlerRunsInterceptor(test *testing.T) {
	test.Parallel()
	handler := unaryHandler(methodCanSpend, CreditServiceServer.CanSpend)
	decode := func(target interface{}) error {
		target.(*CanSpendRequest).UserID = "user-1"
		return nil
	}
	var seenMethod string
	interceptor := func(ctx context.Context, request interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		seenMethod = info.FullMethod
		return next(ctx, request)
	}
	_, err := handler(UnimplementedCreditServiceServer{}, context.Background(), decode, interceptor)
	if status.Code(err) != codes.Unimplemented {
		test.Fatalf("expected Unimplemented, got %v", err)
	}
	if seenMethod != "/credit.v1.CreditService/CanSpend" {
		test.Fatalf("unexpected full method %q", seenMethod)
	}
}

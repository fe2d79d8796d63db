package creditrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls credit.v1.CreditService over an existing connection.
type Client struct {
	connection grpc.ClientConnInterface
}

// NewClient wraps connection.
func NewClient(connection grpc.ClientConnInterface) *Client {
	return &Client{connection: connection}
}

func (client *Client) invoke(ctx context.Context, method string, request interface{}, response interface{}, options ...grpc.CallOption) error {
	options = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, options...)
	return client.connection.Invoke(ctx, fullMethod(method), request, response, options...)
}

func (client *Client) GetBalance(ctx context.Context, request *BalanceRequest, options ...grpc.CallOption) (*BalanceResponse, error) {
	response := new(BalanceResponse)
	if err := client.invoke(ctx, methodGetBalance, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Grant(ctx context.Context, request *GrantRequest, options ...grpc.CallOption) (*MutationResponse, error) {
	response := new(MutationResponse)
	if err := client.invoke(ctx, methodGrant, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

// CanSpend is advisory; Spend re-checks atomically.
func (client *Client) CanSpend(ctx context.Context, request *CanSpendRequest, options ...grpc.CallOption) (*CanSpendResponse, error) {
	response := new(CanSpendResponse)
	if err := client.invoke(ctx, methodCanSpend, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Spend(ctx context.Context, request *SpendRequest, options ...grpc.CallOption) (*MutationResponse, error) {
	response := new(MutationResponse)
	if err := client.invoke(ctx, methodSpend, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) ListEntries(ctx context.Context, request *ListEntriesRequest, options ...grpc.CallOption) (*ListEntriesResponse, error) {
	response := new(ListEntriesResponse)
	if err := client.invoke(ctx, methodListEntries, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Reconcile(ctx context.Context, request *ReconcileRequest, options ...grpc.CallOption) (*ReconcileResponse, error) {
	response := new(ReconcileResponse)
	if err := client.invoke(ctx, methodReconcile, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Repair(ctx context.Context, request *RepairRequest, options ...grpc.CallOption) (*RepairResponse, error) {
	response := new(RepairResponse)
	if err := client.invoke(ctx, methodRepair, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) BulkScan(ctx context.Context, request *BulkScanRequest, options ...grpc.CallOption) (*BulkScanResponse, error) {
	response := new(BulkScanResponse)
	if err := client.invoke(ctx, methodBulkScan, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

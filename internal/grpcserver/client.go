package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dial opens a plaintext connection to target and waits until it is ready.
func Dial(ctx context.Context, target string, options ...grpc.DialOption) (*grpc.ClientConn, error) {
	options = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, options...)
	conn, err := grpc.NewClient(target, options...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", target, err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("grpc dial %s: %w", target, err)
	}
	return conn, nil
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}

// StockClient calls StockService over an established connection.
type StockClient struct {
	conn grpc.ClientConnInterface
}

// NewStockClient wraps conn.
func NewStockClient(conn grpc.ClientConnInterface) *StockClient {
	return &StockClient{conn: conn}
}

func (client *StockClient) AddStock(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodAddStock, request, options...)
}

func (client *StockClient) UpdateStock(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodUpdateStock, request, options...)
}

func (client *StockClient) DeleteStock(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodDeleteStock, request, options...)
}

func (client *StockClient) QueryAvailability(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodQueryAvailability, request, options...)
}

func (client *StockClient) GetSummary(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodGetSummary, request, options...)
}

func (client *StockClient) invoke(ctx context.Context, method string, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	if request == nil {
		request = &structpb.Struct{}
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(method), request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

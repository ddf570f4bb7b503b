package grpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "lifeblox.stock.v1.StockService"

	methodAddStock          = "AddStock"
	methodUpdateStock       = "UpdateStock"
	methodDeleteStock       = "DeleteStock"
	methodQueryAvailability = "QueryAvailability"
	methodGetSummary        = "GetSummary"

	messageStockAdded   = "Blood stock added successfully"
	messageStockUpdated = "Blood stock updated successfully"
	messageStockDeleted = "Blood stock deleted successfully"
	messageAccepted     = "ok"
)

// LedgerService is the subset of ledger.Service exposed over gRPC.
type LedgerService interface {
	AddStock(ctx context.Context, bankID ledger.BankID, input ledger.StockInput) (ledger.StockBatch, error)
	UpdateStock(ctx context.Context, bankID ledger.BankID, batchID ledger.BatchID, units ledger.Units, expiresAt time.Time) (ledger.StockBatch, error)
	DeleteStock(ctx context.Context, bankID ledger.BankID, batchID ledger.BatchID) error
	AccountView(ctx context.Context, bankID ledger.BankID) (ledger.AccountView, error)
	QueryAvailability(ctx context.Context, filter ledger.AvailabilityFilter) ([]ledger.AvailabilityMatch, error)
}

// StockService is the server contract registered under ServiceName.
type StockService interface {
	AddStock(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	UpdateStock(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	DeleteStock(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	QueryAvailability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	GetSummary(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// StockServiceServer exposes the stock ledger over gRPC.
type StockServiceServer struct {
	stockService LedgerService
}

// NewStockServiceServer constructs a gRPC server for the ledger service.
func NewStockServiceServer(stockService LedgerService) *StockServiceServer {
	return &StockServiceServer{stockService: stockService}
}

// Register attaches server to registrar.
func Register(registrar grpc.ServiceRegistrar, server StockService) {
	registrar.RegisterService(&stockServiceDesc, server)
}

func (server *StockServiceServer) AddStock(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	bankID, err := bankIDFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	fields := newRequestFields(request)
	units, err := fields.units("units")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	expiresAt, err := ledger.ParseExpiry(fields.text("expiryDate"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	input, err := ledger.NewStockInput(fields.text("bloodComponent"), fields.text("bloodType"), fields.text("city"), units.Int64(), expiresAt)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	batch, operationError := server.stockService.AddStock(ctx, bankID, input)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newResponse(messageStockAdded, map[string]any{"stock": batchValue(batch)})
}

func (server *StockServiceServer) UpdateStock(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	bankID, err := bankIDFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	fields := newRequestFields(request)
	batchID, err := ledger.NewBatchID(fields.text("id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	units, err := fields.units("units")
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	expiresAt, err := ledger.ParseExpiry(fields.text("expiryDate"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	batch, operationError := server.stockService.UpdateStock(ctx, bankID, batchID, units, expiresAt)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newResponse(messageStockUpdated, map[string]any{"stock": batchValue(batch)})
}

func (server *StockServiceServer) DeleteStock(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	bankID, err := bankIDFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	batchID, err := ledger.NewBatchID(newRequestFields(request).text("id"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if operationError := server.stockService.DeleteStock(ctx, bankID, batchID); operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newResponse(messageStockDeleted, nil)
}

func (server *StockServiceServer) QueryAvailability(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := newRequestFields(request)
	filter, err := ledger.NewAvailabilityFilter(fields.text("bloodComponent"), fields.text("bloodType"), fields.text("city"))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	matches, operationError := server.stockService.QueryAvailability(ctx, filter)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	banks := make([]any, 0, len(matches))
	for _, match := range matches {
		banks = append(banks, availabilityValue(match))
	}
	return newResponse(messageAccepted, map[string]any{"bloodBanks": banks})
}

func (server *StockServiceServer) GetSummary(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	bankID, err := bankIDFromContext(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	view, operationError := server.stockService.AccountView(ctx, bankID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	batches := make([]any, 0, len(view.Batches))
	for _, batch := range view.Batches {
		batches = append(batches, batchValue(batch))
	}
	return newResponse(messageAccepted, map[string]any{
		"bankInfo":           publicInfoValue(view.Info),
		"bloodStock":         summaryValue(view.Summary),
		"detailedBloodStock": batches,
	})
}

func mapToGRPCError(source error) error {
	result := ledger.NewResult(source, "")
	switch result.Category {
	case ledger.CategoryUnauthorized:
		return status.Error(codes.Unauthenticated, result.Message)
	case ledger.CategoryNotFound:
		return status.Error(codes.NotFound, result.Message)
	case ledger.CategoryInvalidInput:
		return status.Error(codes.InvalidArgument, result.Message)
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	return status.Error(codes.Internal, result.Message)
}

func unaryHandler(method string, call func(StockService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := dec(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StockService), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StockService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

var stockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StockService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodAddStock, Handler: unaryHandler(methodAddStock, StockService.AddStock)},
		{MethodName: methodUpdateStock, Handler: unaryHandler(methodUpdateStock, StockService.UpdateStock)},
		{MethodName: methodDeleteStock, Handler: unaryHandler(methodDeleteStock, StockService.DeleteStock)},
		{MethodName: methodQueryAvailability, Handler: unaryHandler(methodQueryAvailability, StockService.QueryAvailability)},
		{MethodName: methodGetSummary, Handler: unaryHandler(methodGetSummary, StockService.GetSummary)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lifeblox/stock/v1/stock.proto",
}

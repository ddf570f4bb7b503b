package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	bufconnSize    = 1 << 20
	testSigningKey = "grpc-secret"
	testIssuer     = "tauth"
)

type grpcHarness struct {
	client  *StockClient
	service *ledger.Service
}

func startStockClient(test *testing.T) *grpcHarness {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/lifeblox.db"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	store := gormstore.New(db)
	if err := store.Migrate(context.Background()); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	service, err := ledger.NewService(store, time.Now, ledger.WithPasswordCost(bcrypt.MinCost))
	if err != nil {
		test.Fatalf("ledger service init failed: %v", err)
	}
	authenticator, err := NewAuthenticator(testSigningKey, testIssuer)
	if err != nil {
		test.Fatalf("authenticator init failed: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(LoggingInterceptor(zap.NewNop()), authenticator.UnaryInterceptor()))
	Register(grpcServer, NewStockServiceServer(service))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	conn, err := Dial(waitCtx, "passthrough:///bufnet", grpc.WithContextDialer(dialer))
	if err != nil {
		test.Fatalf("gRPC client failed to connect: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return &grpcHarness{client: NewStockClient(conn), service: service}
}

func (harness *grpcHarness) registerBank(test *testing.T, email string, city ledger.City) string {
	test.Helper()
	account, err := harness.service.RegisterBank(context.Background(), ledger.Registration{
		Profile: ledger.Profile{
			Name:          "Bank " + email,
			Hospital:      "City Hospital",
			Category:      "Government",
			ContactPerson: "Desk",
			Email:         email,
			ContactNo:     "080-1111",
			LicenseNo:     "LIC-" + email,
			Address:       "MG Road",
			Pincode:       "560001",
			City:          city,
		},
		Password: "secret123",
	})
	if err != nil {
		test.Fatalf("register bank: %v", err)
	}
	return account.ID.String()
}

func bearerContext(test *testing.T, userID string, signingKey string, roles ...string) context.Context {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:    userID,
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), metadataAuthorization, "Bearer "+signed)
}

func mustStruct(test *testing.T, values map[string]any) *structpb.Struct {
	test.Helper()
	request, err := structpb.NewStruct(values)
	if err != nil {
		test.Fatalf("struct: %v", err)
	}
	return request
}

func summaryOf(test *testing.T, response *structpb.Struct, bloodType string) float64 {
	test.Helper()
	stock := response.GetFields()["bloodStock"].GetStructValue()
	if stock == nil {
		test.Fatalf("response has no bloodStock: %v", response)
	}
	value, ok := stock.GetFields()[bloodType]
	if !ok {
		test.Fatalf("bloodStock missing %s", bloodType)
	}
	return value.GetNumberValue()
}

func TestStockServiceRoundTrip(test *testing.T) {
	harness := startStockClient(test)
	bankID := harness.registerBank(test, "grpc@example.com", ledger.CityBangalore)
	ctx := bearerContext(test, bankID, testSigningKey, roleBloodBank)
	expiry := time.Now().UTC().Add(7 * 24 * time.Hour).Format(time.RFC3339)

	first, err := harness.client.AddStock(ctx, mustStruct(test, map[string]any{
		"bloodComponent": "Whole Blood", "bloodType": "O+", "city": "Bangalore", "units": 10, "expiryDate": expiry,
	}))
	if err != nil {
		test.Fatalf("add stock: %v", err)
	}
	if first.GetFields()["message"].GetStringValue() != messageStockAdded {
		test.Fatalf("unexpected add response %v", first)
	}
	firstID := first.GetFields()["stock"].GetStructValue().GetFields()["id"].GetStringValue()
	second, err := harness.client.AddStock(ctx, mustStruct(test, map[string]any{
		"bloodComponent": "Whole Blood", "bloodType": "O+", "city": "Bangalore", "units": "5", "expiryDate": expiry,
	}))
	if err != nil {
		test.Fatalf("add stock: %v", err)
	}
	secondID := second.GetFields()["stock"].GetStructValue().GetFields()["id"].GetStringValue()

	summary, err := harness.client.GetSummary(ctx, nil)
	if err != nil {
		test.Fatalf("get summary: %v", err)
	}
	if got := summaryOf(test, summary, "O+"); got != 15 {
		test.Fatalf("expected O+ 15, got %v", got)
	}

	if _, err := harness.client.UpdateStock(ctx, mustStruct(test, map[string]any{"id": firstID, "units": 3, "expiryDate": expiry})); err != nil {
		test.Fatalf("update stock: %v", err)
	}
	if _, err := harness.client.DeleteStock(ctx, mustStruct(test, map[string]any{"id": secondID})); err != nil {
		test.Fatalf("delete stock: %v", err)
	}
	summary, err = harness.client.GetSummary(ctx, nil)
	if err != nil {
		test.Fatalf("get summary: %v", err)
	}
	if got := summaryOf(test, summary, "O+"); got != 3 {
		test.Fatalf("expected O+ 3, got %v", got)
	}

	found, err := harness.client.QueryAvailability(context.Background(), mustStruct(test, map[string]any{"bloodType": "O+", "city": "Bangalore"}))
	if err != nil {
		test.Fatalf("query availability: %v", err)
	}
	banks := found.GetFields()["bloodBanks"].GetListValue().GetValues()
	if len(banks) != 1 {
		test.Fatalf("expected one bank, got %d", len(banks))
	}
	if total := banks[0].GetStructValue().GetFields()["totalUnits"].GetNumberValue(); total != 3 {
		test.Fatalf("expected 3 available units, got %v", total)
	}
}

func TestStockServiceStatusCodes(test *testing.T) {
	harness := startStockClient(test)
	owner := harness.registerBank(test, "owner@example.com", ledger.CityMumbai)
	other := harness.registerBank(test, "other@example.com", ledger.CityMumbai)
	ownerCtx := bearerContext(test, owner, testSigningKey, roleBloodBank)
	otherCtx := bearerContext(test, other, testSigningKey, roleBloodBank)
	expiry := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	created, err := harness.client.AddStock(ownerCtx, mustStruct(test, map[string]any{
		"bloodComponent": "Single Platelet", "bloodType": "AB-", "city": "Mumbai", "units": 2, "expiryDate": expiry,
	}))
	if err != nil {
		test.Fatalf("add stock: %v", err)
	}
	batchID := created.GetFields()["stock"].GetStructValue().GetFields()["id"].GetStringValue()

	testCases := []struct {
		name         string
		call         func() error
		expectedCode codes.Code
	}{
		{name: "no token", call: func() error {
			_, err := harness.client.GetSummary(context.Background(), nil)
			return err
		}, expectedCode: codes.Unauthenticated},
		{name: "wrong signing key", call: func() error {
			_, err := harness.client.GetSummary(bearerContext(test, owner, "other-key", roleBloodBank), nil)
			return err
		}, expectedCode: codes.Unauthenticated},
		{name: "missing role", call: func() error {
			_, err := harness.client.GetSummary(bearerContext(test, owner, testSigningKey, "admin"), nil)
			return err
		}, expectedCode: codes.Unauthenticated},
		{name: "fractional units", call: func() error {
			_, err := harness.client.AddStock(ownerCtx, mustStruct(test, map[string]any{
				"bloodComponent": "Whole Blood", "bloodType": "A+", "city": "Mumbai", "units": 1.5, "expiryDate": expiry,
			}))
			return err
		}, expectedCode: codes.InvalidArgument},
		{name: "negative units", call: func() error {
			_, err := harness.client.UpdateStock(ownerCtx, mustStruct(test, map[string]any{"id": batchID, "units": -4, "expiryDate": expiry}))
			return err
		}, expectedCode: codes.InvalidArgument},
		{name: "missing batch id", call: func() error {
			_, err := harness.client.DeleteStock(ownerCtx, mustStruct(test, map[string]any{}))
			return err
		}, expectedCode: codes.InvalidArgument},
		{name: "foreign batch", call: func() error {
			_, err := harness.client.DeleteStock(otherCtx, mustStruct(test, map[string]any{"id": batchID}))
			return err
		}, expectedCode: codes.NotFound},
		{name: "unknown bank", call: func() error {
			_, err := harness.client.GetSummary(bearerContext(test, "ghost", testSigningKey, roleBloodBank), nil)
			return err
		}, expectedCode: codes.NotFound},
		{name: "bad filter", call: func() error {
			_, err := harness.client.QueryAvailability(context.Background(), mustStruct(test, map[string]any{"city": "Paris"}))
			return err
		}, expectedCode: codes.InvalidArgument},
	}
	for _, testCase := range testCases {
		err := testCase.call()
		if status.Code(err) != testCase.expectedCode {
			test.Fatalf("%s: expected %s, got %v", testCase.name, testCase.expectedCode, err)
		}
	}

	summary, err := harness.client.GetSummary(ownerCtx, nil)
	if err != nil {
		test.Fatalf("get summary: %v", err)
	}
	if got := summaryOf(test, summary, "AB-"); got != 2 {
		test.Fatalf("expected owner stock untouched, got %v", got)
	}
}

func TestMapToGRPCError(test *testing.T) {
	testCases := []struct {
		name         string
		err          error
		expectedCode codes.Code
	}{
		{name: "unauthorized", err: ledger.ErrUnauthorized, expectedCode: codes.Unauthenticated},
		{name: "unknown batch", err: ledger.WrapError("service", "stock", "lookup", ledger.ErrUnknownBatch), expectedCode: codes.NotFound},
		{name: "invalid units", err: ledger.ErrInvalidUnits, expectedCode: codes.InvalidArgument},
		{name: "storage", err: ledger.StorageError("store", "account", "save", errors.New("disk full")), expectedCode: codes.Internal},
		{name: "canceled", err: context.Canceled, expectedCode: codes.Canceled},
	}
	for _, testCase := range testCases {
		mapped := mapToGRPCError(testCase.err)
		if status.Code(mapped) != testCase.expectedCode {
			test.Fatalf("%s: expected %s, got %s", testCase.name, testCase.expectedCode, status.Code(mapped))
		}
	}
	if message := status.Convert(mapToGRPCError(ledger.StorageError("store", "account", "save", errors.New("disk full")))).Message(); message != "Server error occurred" {
		test.Fatalf("internal detail leaked: %q", message)
	}
}

func TestNewAuthenticatorRequiresConfig(test *testing.T) {
	if _, err := NewAuthenticator("", testIssuer); err == nil {
		test.Fatalf("expected error for missing key")
	}
	if _, err := NewAuthenticator(testSigningKey, " "); err == nil {
		test.Fatalf("expected error for missing issuer")
	}
}

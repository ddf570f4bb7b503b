package grpcserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	metadataAuthorization = "authorization"
	bearerPrefix          = "bearer "
	roleBloodBank         = "blood_bank"
)

type claimsContextKey struct{}

// Authenticator verifies session tokens presented as bearer credentials.
type Authenticator struct {
	signingKey []byte
	issuer     string
	public     map[string]bool
}

// NewAuthenticator validates the signing configuration.
func NewAuthenticator(signingKey string, issuer string) (*Authenticator, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, fmt.Errorf("grpc auth: signing key is required")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("grpc auth: issuer is required")
	}
	return &Authenticator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		public:     map[string]bool{fullMethod(methodQueryAvailability): true},
	}, nil
}

// UnaryInterceptor rejects calls to bank-scoped methods without a valid
// blood_bank session and stores the claims on the context.
func (authenticator *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if authenticator.public[info.FullMethod] {
			return handler(ctx, req)
		}
		claims, err := authenticator.authenticate(ctx)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		return handler(context.WithValue(ctx, claimsContextKey{}, claims), req)
	}
}

func (authenticator *Authenticator) authenticate(ctx context.Context) (*sessionvalidator.Claims, error) {
	incoming, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: missing metadata", ledger.ErrUnauthorized)
	}
	values := incoming.Get(metadataAuthorization)
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: missing bearer token", ledger.ErrUnauthorized)
	}
	raw := strings.TrimSpace(values[0])
	if len(raw) <= len(bearerPrefix) || !strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		return nil, fmt.Errorf("%w: malformed authorization header", ledger.ErrUnauthorized)
	}
	claims := &sessionvalidator.Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw[len(bearerPrefix):]), claims, func(token *jwt.Token) (any, error) {
		return authenticator.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(authenticator.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnauthorized, err)
	}
	for _, role := range claims.GetUserRoles() {
		if role == roleBloodBank {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("%w: %s role required", ledger.ErrUnauthorized, roleBloodBank)
}

func bankIDFromContext(ctx context.Context) (ledger.BankID, error) {
	claims, ok := ctx.Value(claimsContextKey{}).(*sessionvalidator.Claims)
	if !ok || claims == nil {
		return ledger.BankID{}, fmt.Errorf("%w: no session", ledger.ErrUnauthorized)
	}
	bankID, err := ledger.NewBankID(claims.GetUserID())
	if err != nil {
		return ledger.BankID{}, fmt.Errorf("%w: session carries no bank id", ledger.ErrUnauthorized)
	}
	return bankID, nil
}

// LoggingInterceptor logs each call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, req)
		logger.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(started)),
		)
		return response, err
	}
}

package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation  string
	BankID     BankID
	BatchID    BatchID
	BloodType  BloodType
	Units      Units
	Attempts   int
	Reconciled bool
	Status     string
	Error      error
}

// CacheLookup is the outcome of AvailabilityCache.Get. Generation names the
// cache state the lookup observed, hit or miss.
type CacheLookup struct {
	Matches    []AvailabilityMatch
	Found      bool
	Generation int64
}

// AvailabilityCache stores availability results keyed by filter. Put stores
// under the generation returned by the preceding Get, so a result computed
// from a read that raced an Invalidate is never served afterwards.
type AvailabilityCache interface {
	Get(ctx context.Context, filter AvailabilityFilter) (CacheLookup, error)
	Put(ctx context.Context, generation int64, filter AvailabilityFilter, matches []AvailabilityMatch) error
	Invalidate(ctx context.Context) error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// Repeated options add loggers.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithMaxAttempts bounds the optimistic read-modify-write retries.
func WithMaxAttempts(attempts int) ServiceOption {
	return func(service *Service) {
		service.maxAttempts = attempts
	}
}

// WithIDGenerator overrides batch and bank id generation.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		service.newID = generate
	}
}

// WithAvailabilityCache serves availability queries through cache.
func WithAvailabilityCache(cache AvailabilityCache) ServiceOption {
	return func(service *Service) {
		service.cache = cache
	}
}

// WithPasswordCost sets the bcrypt cost used at registration.
func WithPasswordCost(cost int) ServiceOption {
	return func(service *Service) {
		service.passwordCost = cost
	}
}

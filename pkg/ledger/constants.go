package ledger

const (
	operationAddStock     = "add_stock"
	operationUpdateStock  = "update_stock"
	operationDeleteStock  = "delete_stock"
	operationRegisterBank = "register_bank"
	operationAuthenticate = "authenticate_bank"
	operationSweepExpired = "sweep_expired"
	operationCacheRead    = "availability_cache_read"
	operationCacheWrite   = "availability_cache_write"
	operationCacheEvict   = "availability_cache_evict"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultMaxAttempts  = 5
	defaultPasswordCost = 10

	mostNeededUnknown = "Unknown"
)

package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldAccount    = "account"
	FieldPeriod     = "period"
	FieldTier       = "tier"
	FieldReward     = "reward"
	FieldStreak     = "streak"
	FieldBalance    = "balance"
	FieldVaultID    = "vault_id"
	FieldJobID      = "job_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentRecords   = "records"
	ComponentLedger    = "ledger"
	ComponentPolicy    = "policy"
	ComponentEngine    = "engine"
	ComponentVault     = "vault"
	ComponentStorage   = "storage"
	ComponentEvents    = "events"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpList     = "list"
	OpEvaluate = "evaluate"
	OpCredit   = "credit"
	OpDebit    = "debit"
	OpDeposit  = "deposit"
	OpValidate = "validate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithAccount adds the account key
func (f LogFields) WithAccount(account string) LogFields {
	f[FieldAccount] = account
	return f
}

// WithEvaluation adds the fields an evaluation outcome produces
func (f LogFields) WithEvaluation(account string, period int64, tier int, reward, streak int64) LogFields {
	f[FieldAccount] = account
	f[FieldPeriod] = period
	f[FieldTier] = tier
	f[FieldReward] = reward
	f[FieldStreak] = streak
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

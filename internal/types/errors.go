package types

import "errors"

// ErrorKind classifies a failure per the error taxonomy: transient external,
// permanent external, validation, logic, configuration, or cancellation.
type ErrorKind string

const (
	KindTransientRPC   ErrorKind = "transient_rpc"
	KindPermanentRPC   ErrorKind = "permanent_rpc"
	KindRelay          ErrorKind = "relay"
	KindOracle         ErrorKind = "oracle"
	KindValidation     ErrorKind = "validation"
	KindLogic          ErrorKind = "logic"
	KindConfiguration  ErrorKind = "configuration"
	KindCancellation   ErrorKind = "cancellation"
)

// CoreError is a structured failure value carrying a kind and a cause chain.
// Validation-kind errors are expected negatives and are never logged at
// error level; everything else follows the propagation policy in §7.
type CoreError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *CoreError) Unwrap() error { return e.Cause }

func NewError(kind ErrorKind, code, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// IsValidation reports whether err is an expected negative rejection that
// should not be logged at error level.
func IsValidation(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == KindValidation
	}
	return false
}

// Sentinel validation/negative-result codes, per §4.6-4.8 and §7.
var (
	ErrPoolUnknown             = NewError(KindValidation, "PoolUnknown", "pool not known to the state cache", nil)
	ErrInsufficientLiquidity   = NewError(KindValidation, "InsufficientLiquidity", "pool liquidity below minimum", nil)
	ErrPriceImpactTooSmall     = NewError(KindValidation, "PriceImpactTooSmall", "victim price impact below threshold", nil)
	ErrUnprofitableAfterGas    = NewError(KindValidation, "UnprofitableAfterGas", "net profit below minimum after gas", nil)
	ErrLowSuccessProbability   = NewError(KindValidation, "LowSuccessProbability", "success probability below minimum", nil)
	ErrPositionHealthy         = NewError(KindValidation, "PositionHealthy", "lending position is not liquidatable", nil)
	ErrDebtBelowThreshold      = NewError(KindValidation, "DebtBelowThreshold", "debt balance is zero or below threshold", nil)
	ErrNonceStale              = NewError(KindLogic, "NonceStale", "signer nonce advanced since bundle assembly began", nil)
	ErrSignatureFailure        = NewError(KindLogic, "SignatureFailure", "transaction signing failed", nil)
	ErrEncodingFailure         = NewError(KindLogic, "EncodingFailure", "ABI encoding failed", nil)
	ErrUnknownToken            = NewError(KindConfiguration, "UnknownToken", "token address not in the known set", nil)
	ErrUnknownRouter           = NewError(KindConfiguration, "UnknownRouter", "router address not in the known set", nil)
	ErrMissingAPIKey           = NewError(KindConfiguration, "MissingApiKey", "required API key is not configured", nil)
	ErrCancelled               = NewError(KindCancellation, "Cancelled", "operation cancelled", nil)
	ErrOracleDeviationTooHigh  = NewError(KindOracle, "OracleDeviationTooHigh", "feed deviation exceeds configured bound", nil)
	ErrInsufficientOracleData  = NewError(KindOracle, "InsufficientOracleData", "fewer fresh sources than min_sources", nil)
	ErrOracleStale             = NewError(KindTransientRPC, "OracleStale", "price feed round older than max_staleness_s", nil)
	ErrRelayUnavailable        = NewError(KindTransientRPC, "RelayUnavailable", "relay endpoint unreachable", nil)
	ErrRelayRejected           = NewError(KindRelay, "RelayRejected", "relay explicitly rejected the bundle", nil)
	ErrRPCTimeout              = NewError(KindTransientRPC, "RpcTimeout", "rpc call exceeded its deadline", nil)
	ErrRPCUnavailable          = NewError(KindTransientRPC, "RpcUnavailable", "rpc endpoint unreachable", nil)
	ErrRPCProtocolError        = NewError(KindPermanentRPC, "RpcProtocolError", "rpc returned a protocol-level error", nil)
)

// Wrap returns a new CoreError of the same kind/code with cause attached,
// leaving the sentinel untouched.
func Wrap(sentinel *CoreError, cause error) *CoreError {
	return &CoreError{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Cause: cause}
}

package engine

import "errors"

// Failure reasons surfaced by mutating operations. The string is the reason
// name callers are expected to show verbatim; each one implies a different
// corrective action.
var (
	ErrNotOwner            = errors.New("NotOwner")
	ErrNotWhitelisted      = errors.New("NotWhitelisted")
	ErrPresalePaused       = errors.New("PresalePaused")
	ErrPresaleAlreadyEnded = errors.New("PresaleAlreadyEnded")
	ErrPresaleNotEnded     = errors.New("PresaleNotEnded")
	ErrAlreadyEnded        = errors.New("AlreadyEnded")
	ErrNoNextPhase         = errors.New("NoNextPhase")
	ErrZeroPayment         = errors.New("ZeroPayment")
	ErrInvalidPhase        = errors.New("InvalidPhase")
	ErrPhaseDeadlinePassed = errors.New("PhaseDeadlinePassed")
	ErrPhaseCapExceeded    = errors.New("PhaseCapExceeded")
	ErrOracleUnavailable   = errors.New("OracleUnavailable")
	ErrTransferFailed      = errors.New("TransferFailed")
	ErrNothingClaimable    = errors.New("NothingClaimable")

	// Validation reasons for admin inputs.
	ErrCannotBeZero    = errors.New("CannotBeZero")
	ErrZeroAddress     = errors.New("ZeroAddress")
	ErrCapBelowSold    = errors.New("CapBelowSold")
	ErrInvalidSchedule = errors.New("InvalidSchedule")

	// SlippageExceeded fails a native purchase closed when the oracle-implied
	// USD cost is above the caller-supplied bound.
	ErrSlippageExceeded = errors.New("SlippageExceeded")

	// ExceedsUnsold bounds WithdrawUnsold to inventory not owed to buyers.
	ErrExceedsUnsold = errors.New("ExceedsUnsold")
)

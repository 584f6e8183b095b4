// Package errs defines the sentinel error taxonomy shared by every kernel
// subsystem. All operational failures returned by the ledger, order book,
// matching engine, and production engine are one of these sentinels (or wrap
// one), so callers can branch with errors.Is instead of string matching.
package errs

import "errors"

var (
	// ErrInsufficientStock is returned when consume_goods would take a
	// stock's free quantity below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientReserved is returned when a sale completion needs more
	// than is currently reserved for sale.
	ErrInsufficientReserved = errors.New("insufficient reserved quantity")

	// ErrInsufficientCash is returned when a debit would take an entity's
	// cash below zero outside the bailout pathway.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrInsufficientFree is returned when a reservation request exceeds
	// free (unreserved) quantity.
	ErrInsufficientFree = errors.New("insufficient free quantity")

	// ErrUnknownEntity, ErrUnknownCommodity, ErrUnknownOrder, and
	// ErrUnknownBuilding indicate a lookup by id found nothing. Under
	// healthy invariants these never originate from inside the kernel;
	// seeing one means a collaborator passed a stale or foreign id.
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrUnknownCommodity = errors.New("unknown commodity")
	ErrUnknownOrder     = errors.New("unknown order")
	ErrUnknownBuilding  = errors.New("unknown building")

	// ErrInvalidQuantity, ErrInvalidPrice, and ErrInvalidCapacity reject a
	// command at the boundary before any state is touched.
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidCapacity = errors.New("invalid capacity")

	// ErrInvariantViolation marks an internal consistency check failing
	// (stock bookkeeping, order-book sort order or id->index sync). With
	// Config.DebugAssertions enabled the kernel panics on it and recovers
	// only at the tick-scheduler boundary, aborting that tick; otherwise it
	// is logged via Logger.Error and the tick's result stands as computed.
	ErrInvariantViolation = errors.New("invariant violation")
)

// KernelError wraps a sentinel with the operation and subject that failed,
// giving log lines and test assertions something concrete to key on while
// still satisfying errors.Is against the wrapped sentinel.
type KernelError struct {
	Op        string // e.g. "ledger.consume_goods"
	EntityID  uint64
	Commodity uint64
	Err       error
}

func (e *KernelError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// Wrap attaches an operation name to a sentinel error for logging and
// debugging. EntityID and Commodity are left zero for callers that do not
// have one or both handy; use WrapEntity/WrapCommodity when they do.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &KernelError{Op: op, Err: err}
}

// WrapEntity attaches an operation name and owning entity id to a sentinel.
func WrapEntity(op string, entityID uint64, err error) error {
	if err == nil {
		return nil
	}
	return &KernelError{Op: op, EntityID: entityID, Err: err}
}

// WrapCommodity attaches an operation name, entity id, and commodity id to a
// sentinel, the shape most ledger and order-book failures need.
func WrapCommodity(op string, entityID, commodityID uint64, err error) error {
	if err == nil {
		return nil
	}
	return &KernelError{Op: op, EntityID: entityID, Commodity: commodityID, Err: err}
}

/*
status.go - Charge status state machine

PURPOSE:
  A charge log's status is an explicit enumerated state with a transition
  table, not a free string compared by equality. The single legal path is

      pending -> {completed | rejected | failed}

  and every terminal state is absorbing. The guard that rejects a
  transition out of a terminal state is the at-most-once protection for
  the balance credit: the same bank-watcher callback may arrive more than
  once, and re-approval must be rejected, not re-applied.

SEE ALSO:
  - engine/charge.go: Funnels every settlement (callback, admin, sweep)
    through this table
  - store/sqlite: Enforces the same guard with a compare-and-set UPDATE
*/
package ledger

// ChargeStatus is the lifecycle state of a ChargeLog.
type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeCompleted ChargeStatus = "completed"
	ChargeRejected  ChargeStatus = "rejected"
	ChargeFailed    ChargeStatus = "failed"
)

// transitions encodes the legal edges of the charge lifecycle.
var transitions = map[ChargeStatus][]ChargeStatus{
	ChargePending:   {ChargeCompleted, ChargeRejected, ChargeFailed},
	ChargeCompleted: {},
	ChargeRejected:  {},
	ChargeFailed:    {},
}

// Valid reports whether s is a known status value.
func (s ChargeStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s is an absorbing state.
func (s ChargeStatus) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether s -> to is a legal edge.
func (s ChargeStatus) CanTransition(to ChargeStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

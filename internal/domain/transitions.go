package domain

// transitions is the authoritative edge set for the payment state machine.
// Anything not listed here is an illegal transition.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:         {PaymentStatusAwaitingPayment},
	PaymentStatusAwaitingPayment: {PaymentStatusFundsCaptured, PaymentStatusFailed, PaymentStatusCanceled},
	PaymentStatusFundsCaptured:   {PaymentStatusSettling, PaymentStatusCompleted},
	PaymentStatusSettling:        {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:       {PaymentStatusRefunded},
}

// rank orders statuses along the happy path so webhook reconciliation can
// tell "already past this" apart from "would move backwards".
var rank = map[PaymentStatus]int{
	PaymentStatusCreated:         0,
	PaymentStatusAwaitingPayment: 1,
	PaymentStatusFundsCaptured:   2,
	PaymentStatusSettling:        3,
	PaymentStatusCompleted:       4,
	PaymentStatusFailed:          4,
	PaymentStatusCanceled:        4,
	PaymentStatusRefunded:        5,
}

func CanTransition(from, to PaymentStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func IsTerminal(s PaymentStatus) bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

// AtOrPast reports whether current already equals target or sits further
// along the lifecycle than target.
func AtOrPast(current, target PaymentStatus) bool {
	if current == target {
		return true
	}
	return rank[current] >= rank[target]
}

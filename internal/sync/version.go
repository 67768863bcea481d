package sync

// Decision is the verdict of the version conflict detector.
type Decision int

const (
	// Apply means the mutation may be written.
	Apply Decision = iota + 1
	// Conflict means the client is strictly behind the stored version.
	Conflict
	// NotFound means an update or delete addressed a record the caller
	// cannot see.
	NotFound
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Decide compares the stored version of a record with the version the
// client last saw. A nil stored version means no record exists; a nil client
// version is treated as 0. Creates always apply; duplicate detection happens
// before the decision.
func Decide(stored, client *int64, op OperationType) Decision {
	if op == OpCreate {
		return Apply
	}
	if stored == nil {
		return NotFound
	}
	var cv int64
	if client != nil {
		cv = *client
	}
	if *stored > cv {
		return Conflict
	}
	return Apply
}

// NextVersion returns the version written by a successful mutation. The
// server counter is the only source: a client claiming a future version
// never causes versions to be skipped.
func NextVersion(stored int64) int64 {
	return stored + 1
}

package transaction

// State is the lifecycle state of a transaction. Null, Pending and
// Validating are live; everything else is terminal.
type State int

const (
	StateNull State = iota
	StatePending
	StateValidating
	StateSuccess
	StateFailure
	StateNoServers
	StateTimeout
	StateAttemptsMaxReached
	StateInvalidReply
	StateResources
	StateAborted
	StateDNSSECFailed
)

// IsLive reports whether the transaction is still in progress.
func (s State) IsLive() bool {
	return s == StateNull || s == StatePending || s == StateValidating
}

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StatePending:
		return "pending"
	case StateValidating:
		return "validating"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateNoServers:
		return "no-servers"
	case StateTimeout:
		return "timeout"
	case StateAttemptsMaxReached:
		return "attempts-max-reached"
	case StateInvalidReply:
		return "invalid-reply"
	case StateResources:
		return "resources"
	case StateAborted:
		return "aborted"
	case StateDNSSECFailed:
		return "dnssec-failed"
	}
	return "unknown"
}

// AnswerSource records where a completed transaction's answer came from.
type AnswerSource int

const (
	SourceNone AnswerSource = iota
	SourceNetwork
	SourceCache
	SourceZone
	SourceTrustAnchor
)

// String returns the lowercase source name.
func (s AnswerSource) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceCache:
		return "cache"
	case SourceZone:
		return "zone"
	case SourceTrustAnchor:
		return "trust-anchor"
	}
	return "none"
}

// DNSSECResult is the outcome of validating a transaction's answer.
type DNSSECResult int

const (
	DNSSECIndeterminate DNSSECResult = iota // validation not yet run
	DNSSECValidated
	DNSSECNoSignature
	DNSSECBogus
	DNSSECFailedAuxiliary // an auxiliary key fetch failed
)

// String returns the lowercase result name.
func (r DNSSECResult) String() string {
	switch r {
	case DNSSECValidated:
		return "validated"
	case DNSSECNoSignature:
		return "no-signature"
	case DNSSECBogus:
		return "bogus"
	case DNSSECFailedAuxiliary:
		return "failed-auxiliary"
	}
	return "indeterminate"
}

// Cacheable says which part of a received answer may enter the cache.
// Per RFC 4795 Section 2.9 only the answer section is cacheable unless
// the message is authenticated, in which case everything is.
type Cacheable int

const (
	CacheableNone Cacheable = iota
	CacheableAnswerSection
	CacheableAll
)

// DNSSECMode selects how a scope treats DNSSEC.
type DNSSECMode int

const (
	// DNSSECNo disables validation entirely.
	DNSSECNo DNSSECMode = iota

	// DNSSECTrust accepts the upstream's AD bit without validating.
	DNSSECTrust

	// DNSSECYes validates locally via the chain of trust.
	DNSSECYes
)

// String returns the lowercase mode name.
func (m DNSSECMode) String() string {
	switch m {
	case DNSSECTrust:
		return "trust"
	case DNSSECYes:
		return "yes"
	}
	return "no"
}

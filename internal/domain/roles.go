package domain

// Mode is the monetization mode fixed for a session at creation.
type Mode string

const (
	// ModeFreePoolUnmetered sessions are never billed and never request a deposit.
	ModeFreePoolUnmetered Mode = "free_pool_unmetered"
	// ModeFreePoolCapped sessions are free up to FreeMessageLimit messages, then billed.
	ModeFreePoolCapped Mode = "free_pool_capped"
	// ModePaid sessions are billed after the per-participant intro allowance.
	ModePaid Mode = "paid"
)

// UnlimitedFreeMessages marks a FreeMessageLimit with no cap.
const UnlimitedFreeMessages = -1

// MonetizationRoles is the role decision for a session. It is computed once
// when the session opens and never changes afterwards.
type MonetizationRoles struct {
	PayerID string `json:"payer_id"`
	// EarnerID is empty when the platform is the economic beneficiary.
	EarnerID         string `json:"earner_id,omitempty"`
	WordsPerToken    int    `json:"words_per_token"`
	Mode             Mode   `json:"mode"`
	NeedsEscrow      bool   `json:"needs_escrow"`
	FreeMessageLimit int    `json:"free_message_limit"`
}

// PlatformEarns reports whether billed tokens are retained by the platform.
func (r MonetizationRoles) PlatformEarns() bool {
	return r.EarnerID == ""
}

// Validate checks the structural constraints of a role decision.
func (r MonetizationRoles) Validate() error {
	if r.PayerID == "" {
		return newInvalidRoles("payer_id is required")
	}
	if r.EarnerID == r.PayerID {
		return newInvalidRoles("payer and earner must differ")
	}
	if r.WordsPerToken <= 0 {
		return newInvalidRoles("words_per_token must be positive")
	}
	switch r.Mode {
	case ModeFreePoolUnmetered:
		if r.FreeMessageLimit != UnlimitedFreeMessages {
			return newInvalidRoles("unmetered mode requires an unlimited free message limit")
		}
	case ModeFreePoolCapped:
		if r.FreeMessageLimit <= 0 {
			return newInvalidRoles("capped mode requires a positive free message limit")
		}
	case ModePaid:
		if r.FreeMessageLimit != 0 {
			return newInvalidRoles("paid mode has no free pool limit")
		}
	default:
		return newInvalidRoles("unknown mode " + string(r.Mode))
	}
	if r.NeedsEscrow != (r.Mode == ModePaid) {
		return newInvalidRoles("needs_escrow must be set iff mode is paid")
	}
	return nil
}

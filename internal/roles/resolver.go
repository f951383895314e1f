// Package roles decides who pays and who earns in a two-party conversation.
package roles

import (
	"fmt"

	"github.com/ashureev/chatpay/internal/domain"
)

// Policy holds the constants the decision table depends on.
type Policy struct {
	PremiumWordsPerToken  int
	StandardWordsPerToken int
	// FreePoolCap is the message allowance of a FreePoolCapped session.
	FreePoolCap int
	// MinFreePoolAccountAgeDays is the account age below which free-pool is never granted.
	MinFreePoolAccountAgeDays int
}

// DefaultPolicy returns the reference policy values.
func DefaultPolicy() Policy {
	return Policy{
		PremiumWordsPerToken:      7,
		StandardWordsPerToken:     11,
		FreePoolCap:               50,
		MinFreePoolAccountAgeDays: 5,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.PremiumWordsPerToken <= 0 || p.StandardWordsPerToken <= 0 {
		return fmt.Errorf("words per token must be positive")
	}
	if p.PremiumWordsPerToken >= p.StandardWordsPerToken {
		return fmt.Errorf("premium words per token (%d) must be below standard (%d)",
			p.PremiumWordsPerToken, p.StandardWordsPerToken)
	}
	if p.FreePoolCap <= 0 {
		return fmt.Errorf("free pool cap must be positive")
	}
	if p.MinFreePoolAccountAgeDays < 0 {
		return fmt.Errorf("minimum account age cannot be negative")
	}
	return nil
}

// Resolver evaluates the role decision table.
type Resolver struct {
	policy Policy
}

// NewResolver creates a resolver for the given policy.
func NewResolver(policy Policy) *Resolver {
	return &Resolver{policy: policy}
}

// Resolve returns the roles for a conversation between a and b started by
// initiatorID. Rules are evaluated in priority order and the first match wins:
//
//  1. exactly one influencer earner (badge and earnOnChat) earns, the other pays
//  2. a male/female pair: the male pays; the female earns if she opted in,
//     otherwise the platform earns and free-pool eligibility is evaluated for her
//  3. exactly one earnOnChat participant earns; both opted in means the
//     initiator pays; neither means the initiator pays, the platform earns
//     and free-pool eligibility is evaluated for the receiver
//
// Resolve has no side effects. It fails only for malformed participant input.
func (r *Resolver) Resolve(a, b domain.ParticipantContext, initiatorID string) (domain.MonetizationRoles, error) {
	if a.UserID == "" || b.UserID == "" {
		return domain.MonetizationRoles{}, fmt.Errorf("%w: participant user id is required", domain.ErrInvalidParticipants)
	}
	if a.UserID == b.UserID {
		return domain.MonetizationRoles{}, fmt.Errorf("%w: participants must differ", domain.ErrInvalidParticipants)
	}
	if initiatorID != a.UserID && initiatorID != b.UserID {
		return domain.MonetizationRoles{}, fmt.Errorf("%w: initiator %q is not a participant", domain.ErrInvalidParticipants, initiatorID)
	}

	initiator, receiver := a, b
	if initiatorID == b.UserID {
		initiator, receiver = b, a
	}

	// Rule 1: influencer override.
	if initiator.IsInfluencerEarner() != receiver.IsInfluencerEarner() {
		if initiator.IsInfluencerEarner() {
			return r.paid(receiver, initiator), nil
		}
		return r.paid(initiator, receiver), nil
	}

	// Rule 2: male/female pair.
	if male, female, ok := mixedPair(initiator, receiver); ok {
		if female.EarnOnChat {
			return r.paid(male, female), nil
		}
		return r.platform(male, female), nil
	}

	// Rule 3: earnOnChat.
	switch {
	case initiator.EarnOnChat && !receiver.EarnOnChat:
		return r.paid(receiver, initiator), nil
	case receiver.EarnOnChat && !initiator.EarnOnChat:
		return r.paid(initiator, receiver), nil
	case initiator.EarnOnChat && receiver.EarnOnChat:
		return r.paid(initiator, receiver), nil
	default:
		return r.platform(initiator, receiver), nil
	}
}

func mixedPair(x, y domain.ParticipantContext) (male, female domain.ParticipantContext, ok bool) {
	switch {
	case x.Gender == domain.GenderMale && y.Gender == domain.GenderFemale:
		return x, y, true
	case x.Gender == domain.GenderFemale && y.Gender == domain.GenderMale:
		return y, x, true
	default:
		return domain.ParticipantContext{}, domain.ParticipantContext{}, false
	}
}

// paid builds a Paid decision with earner receiving the billed tokens.
func (r *Resolver) paid(payer, earner domain.ParticipantContext) domain.MonetizationRoles {
	return domain.MonetizationRoles{
		PayerID:       payer.UserID,
		EarnerID:      earner.UserID,
		WordsPerToken: r.rate(earner.IsPremiumTier),
		Mode:          domain.ModePaid,
		NeedsEscrow:   true,
	}
}

// platform builds a decision where the platform earns and wouldBe, who opted
// out of earning, is checked for free-pool eligibility.
func (r *Resolver) platform(payer, wouldBe domain.ParticipantContext) domain.MonetizationRoles {
	roles := domain.MonetizationRoles{
		PayerID:       payer.UserID,
		WordsPerToken: r.rate(false),
	}
	roles.Mode, roles.FreeMessageLimit = r.freePool(wouldBe)
	roles.NeedsEscrow = roles.Mode == domain.ModePaid
	return roles
}

// freePool is rule 4.
func (r *Resolver) freePool(p domain.ParticipantContext) (domain.Mode, int) {
	if p.AccountAgeDays < r.policy.MinFreePoolAccountAgeDays {
		return domain.ModePaid, 0
	}
	switch p.Popularity {
	case domain.PopularityLow:
		return domain.ModeFreePoolUnmetered, domain.UnlimitedFreeMessages
	case domain.PopularityMid:
		return domain.ModeFreePoolCapped, r.policy.FreePoolCap
	default:
		return domain.ModePaid, 0
	}
}

func (r *Resolver) rate(premiumEarner bool) int {
	if premiumEarner {
		return r.policy.PremiumWordsPerToken
	}
	return r.policy.StandardWordsPerToken
}

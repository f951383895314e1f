// Package domain contains core domain types for the chat monetization engine.
package domain

// Gender is the coarse gender category used by the role decision table.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUnspecified Gender = "unspecified"
)

// Popularity is the popularity tier supplied by the profile service.
type Popularity string

const (
	PopularityLow  Popularity = "low"
	PopularityMid  Popularity = "mid"
	PopularityHigh Popularity = "high"
)

// ParticipantContext is the trusted, per-call view of one chat participant.
// It is never persisted by the engine.
type ParticipantContext struct {
	UserID          string     `json:"user_id"`
	Gender          Gender     `json:"gender"`
	EarnOnChat      bool       `json:"earn_on_chat"`
	InfluencerBadge bool       `json:"influencer_badge"`
	IsPremiumTier   bool       `json:"is_premium_tier"`
	Popularity      Popularity `json:"popularity"`
	AccountAgeDays  int        `json:"account_age_days"`
}

// IsInfluencerEarner reports whether the participant qualifies for the influencer override.
func (p ParticipantContext) IsInfluencerEarner() bool {
	return p.InfluencerBadge && p.EarnOnChat
}

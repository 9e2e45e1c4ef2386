package entitlements

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierDayPass Tier = "daypass"
	TierMember  Tier = "member"
)

// NormalizeTier maps arbitrary input to a known tier, defaulting to free.
func NormalizeTier(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(TierMember):
		return TierMember
	case string(TierDayPass):
		return TierDayPass
	default:
		return TierFree
	}
}

// TierRank orders tiers so that merge and reconcile logic never downgrades.
func TierRank(tier Tier) int {
	switch NormalizeTier(string(tier)) {
	case TierMember:
		return 2
	case TierDayPass:
		return 1
	default:
		return 0
	}
}

// Entitlement is the read-side view of a subject's access level. It carries
// the stored status and end date; whether it is currently active is always
// derived at read time, never trusted from storage.
type Entitlement struct {
	Tier    Tier
	Status  string
	EndDate *time.Time
}

// ActiveAt derives liveness from the stored state. A nil EndDate with an
// active status means the provider manages the cadence and "active" stands on
// its own; otherwise the end date decides, even when no job has flipped the
// stored status yet.
func (e Entitlement) ActiveAt(now time.Time) bool {
	if e.Status != "active" {
		return false
	}
	if e.EndDate == nil {
		return true
	}
	return e.EndDate.After(now)
}

// Active reports liveness at the current time.
func (e Entitlement) Active() bool {
	return e.ActiveAt(time.Now())
}

// CanAccessEpisode is the page gate: the first previewLimit episodes (indexes
// 0..previewLimit-1) are always readable, everything after requires an active
// entitlement. Pure so callers can run it per episode with one fetched
// entitlement.
func CanAccessEpisode(index, previewLimit int, active bool) bool {
	if index < previewLimit {
		return true
	}
	return active
}

package tier

type Tier string

const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierProMax Tier = "promax"
)

// Limits is the per-tier resource quota. A negative limit means unlimited.
type Limits struct {
	Sites      int
	Categories int
	Tags       int
}

func ForTier(t Tier) Limits {
	switch t {
	case TierProMax:
		return Limits{Sites: -1, Categories: -1, Tags: -1}
	case TierPro:
		return Limits{Sites: 2000, Categories: 100, Tags: 200}
	default:
		return Limits{Sites: 100, Categories: 10, Tags: 20}
	}
}

func Normalize(raw string) Tier {
	switch Tier(raw) {
	case TierFree, TierPro, TierProMax:
		return Tier(raw)
	default:
		return TierFree
	}
}

// Remaining reports how many more entities may be created given the limit
// and the current count. Unlimited tiers report a negative value.
func Remaining(limit, current int) int {
	if limit < 0 {
		return -1
	}
	remaining := limit - current
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Allows reports whether creating n more entities stays within the limit.
func Allows(limit, current, n int) bool {
	if limit < 0 {
		return true
	}
	return current+n <= limit
}

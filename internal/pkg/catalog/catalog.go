package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/mkang-dev/ToonGate/internal/pkg/entitlements"
)

const (
	CurrencyKRW = "KRW"
	CurrencyUSD = "USD"
)

const (
	CadenceOneTime = "one_time"
	CadenceWeekly  = "weekly"
)

const (
	// DayPassWindow is how long a one-time pass stays valid after the grant.
	DayPassWindow = 24 * time.Hour
	// MemberCycle is one billing cycle for the recurring membership.
	MemberCycle = 7 * 24 * time.Hour
)

// Price is a regional price in minor currency units.
type Price struct {
	Amount   int64
	Currency string
}

// Plan is static configuration: every plan carries a price for both regions.
type Plan struct {
	Name     string
	Tier     entitlements.Tier
	Cadence  string
	Domestic Price
	Overseas Price
}

var plans = map[string]Plan{
	"membership": {
		Name:     "membership",
		Tier:     entitlements.TierMember,
		Cadence:  CadenceWeekly,
		Domestic: Price{Amount: 3000, Currency: CurrencyKRW},
		Overseas: Price{Amount: 299, Currency: CurrencyUSD},
	},
	"daypass": {
		Name:     "daypass",
		Tier:     entitlements.TierDayPass,
		Cadence:  CadenceOneTime,
		Domestic: Price{Amount: 5000, Currency: CurrencyKRW},
		Overseas: Price{Amount: 499, Currency: CurrencyUSD},
	},
}

// GetPlan returns the plan with the price for the caller's region, or nil for
// unknown plan names. Unknown names are a client error, not a system fault.
func GetPlan(name string, isDomestic bool) (*Plan, *Price) {
	p, ok := plans[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, nil
	}
	price := p.Overseas
	if isDomestic {
		price = p.Domestic
	}
	return &p, &price
}

// IsRecurring reports whether the plan bills on a cadence.
func (p *Plan) IsRecurring() bool {
	return p.Cadence != CadenceOneTime
}

// GrantWindow is the entitlement window a successful payment buys.
func (p *Plan) GrantWindow() time.Duration {
	if p.Tier == entitlements.TierDayPass {
		return DayPassWindow
	}
	return MemberCycle
}

// FormatPrice renders a minor-unit amount for display. KRW has no minor unit,
// USD has two decimal places.
func FormatPrice(amount int64, currency string) string {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case CurrencyKRW:
		return fmt.Sprintf("%s원", groupDigits(amount))
	case CurrencyUSD:
		return fmt.Sprintf("$%d.%02d", amount/100, amount%100)
	default:
		return fmt.Sprintf("%d %s", amount, currency)
	}
}

func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

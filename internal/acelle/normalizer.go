package acelle

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/seventic/acelle-sync/internal/domain"
)

// Field aliases per canonical statistic. Acelle payloads come in several
// shapes (standard, v2, direct API, cached row) and the same metric shows
// up under different names; the first alias found wins. The legacy
// tracking-log shape uses yet another naming scheme, tried first when the
// caller knows the source is a tracking log.
var (
	subscriberKeys = []string{"subscriber_count", "subscribers_count", "subscriberCount", "total"}
	deliveredKeys  = []string{"delivered_count", "deliveredCount", "delivered"}
	openKeys       = []string{"open_count", "openCount", "opens"}
	uniqOpenKeys   = []string{"uniq_open_count", "unique_open_count", "uniqOpenCount", "uniq_opens"}
	clickKeys      = []string{"click_count", "clickCount", "clicked_count", "clicks"}
	unsubKeys      = []string{"unsubscribe_count", "unsubscribeCount", "unsubscribed_count", "unsubscribes"}
	abuseKeys      = []string{"abuse_complaint_count", "abuse_feedback_count", "feedbackCount", "complaints"}

	deliveredRateKeys = []string{"delivered_rate", "deliveredRate", "delivery_rate"}
	uniqOpenRateKeys  = []string{"uniq_open_rate", "unique_open_rate", "uniqOpenRate", "open_rate"}
	clickRateKeys     = []string{"click_rate", "clickRate", "clicked_rate"}

	softBounceKeys = []string{"soft_bounce_count", "softBounceCount", "soft_bounce"}
	hardBounceKeys = []string{"hard_bounce_count", "hardBounceCount", "hard_bounce"}
	bounceKeys     = []string{"bounce_count", "bounceCount", "bounced_count"}

	legacyAliases = map[string][]string{
		"subscriber": {"subscribers"},
		"delivered":  {"delivery_success"},
		"open":       {"open"},
		"uniqOpen":   {"uniq_open"},
		"click":      {"click"},
		"unsub":      {"unsubscribe"},
		"abuse":      {"complaint", "abuse"},
		"softBounce": {"soft_bounce"},
		"hardBounce": {"hard_bounce"},
		"bounce":     {"bounce"},
	}
)

// NormalizeStatistics converts a raw statistics payload of any known shape
// into the canonical record. It never fails: missing or malformed fields
// degrade to zero so one bad campaign cannot block a sync batch. Rates in
// the output are always on a 0-100 scale.
func NormalizeStatistics(raw map[string]any, legacy bool) domain.Statistics {
	var s domain.Statistics
	if len(raw) == 0 {
		return s
	}

	keys := func(legacyName string, standard []string) []string {
		if legacy {
			return append(append([]string{}, legacyAliases[legacyName]...), standard...)
		}
		return standard
	}

	s.SubscriberCount = pickCount(raw, keys("subscriber", subscriberKeys))
	s.DeliveredCount = pickCount(raw, keys("delivered", deliveredKeys))
	s.OpenCount = pickCount(raw, keys("open", openKeys))
	s.UniqOpenCount = pickCount(raw, keys("uniqOpen", uniqOpenKeys))
	s.ClickCount = pickCount(raw, keys("click", clickKeys))
	s.UnsubscribeCount = pickCount(raw, keys("unsub", unsubKeys))
	s.AbuseComplaintCount = pickCount(raw, keys("abuse", abuseKeys))

	s.DeliveredRate = pickRate(raw, deliveredRateKeys, s.DeliveredCount, s.SubscriberCount)
	s.UniqOpenRate = pickRate(raw, uniqOpenRateKeys, s.UniqOpenCount, s.DeliveredCount)
	s.ClickRate = pickRate(raw, clickRateKeys, s.ClickCount, s.DeliveredCount)

	s.SoftBounceCount, s.HardBounceCount, s.BounceCount = normalizeBounces(raw, legacy, keys)

	return s
}

// normalizeBounces accepts the three bounce representations: a flat total,
// flat soft/hard counts, or a nested object with soft/hard/total. The
// output always satisfies bounce_count = soft + hard when any breakdown is
// known; a lone total keeps soft=hard=0.
func normalizeBounces(raw map[string]any, legacy bool, keys func(string, []string) []string) (soft, hard, total int64) {
	soft = pickCount(raw, keys("softBounce", softBounceKeys))
	hard = pickCount(raw, keys("hardBounce", hardBounceKeys))
	total = pickCount(raw, keys("bounce", bounceKeys))

	if nested, ok := pick(raw, []string{"bounced", "bounce", "bounces"}); ok {
		if m, ok := nested.(map[string]any); ok {
			soft = pickCount(m, []string{"soft", "soft_bounce_count", "soft_bounce"})
			hard = pickCount(m, []string{"hard", "hard_bounce_count", "hard_bounce"})
			total = pickCount(m, []string{"total", "bounce_count"})
		}
	}

	if soft+hard > 0 {
		total = soft + hard
	}
	return soft, hard, total
}

func pick(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickCount(raw map[string]any, keys []string) int64 {
	v, ok := pick(raw, keys)
	if !ok {
		return 0
	}
	n := toNumber(v)
	if n < 0 {
		return 0
	}
	return int64(n)
}

// pickRate resolves one rate field. An explicit rate wins: values in [0,1]
// are treated as fractions and rescaled by 100, anything above 1 is already
// a percentage. With no explicit rate, the rate is derived from the part
// and whole counts. The result is clamped to [0,100].
func pickRate(raw map[string]any, keys []string, part, whole int64) float64 {
	if v, ok := pick(raw, keys); ok {
		return clampRate(rescaleRate(toNumber(v)))
	}
	if whole > 0 {
		return clampRate(float64(part) / float64(whole) * 100)
	}
	return 0
}

func rescaleRate(r float64) float64 {
	if r > 0 && r <= 1 {
		return r * 100
	}
	return r
}

func clampRate(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// toNumber coerces any scalar to a float64. Acelle serializes counters as
// numbers or numeric strings depending on version; anything else is 0.
func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

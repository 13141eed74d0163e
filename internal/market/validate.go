package market

// Quote sanity checks applied before any quote reaches the scorer.
// A rejected quote is reported, never scored; flags are advisory.

// ValidationIssue names a single sanity failure or warning on a quote.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// ValidationResult collects sanity issues for one quote.
type ValidationResult struct {
	Symbol string            `json:"symbol"`
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

const (
	atmGammaThreshold     = 0.05 // ATM gamma baseline for pin-risk detection
	extremeGammaThreshold = 0.15
	atmBandPct            = 0.01

	minSaneIV = 0.01
	maxSaneIV = 5.0 // 0DTE contracts print extreme IVs near the close
)

// ValidateQuote runs the sanity checks recovered from live 0DTE chains:
// delta sign/range by right, non-negative gamma, call theta non-positive,
// IV within a wide band, and an uncrossed book. High-gamma pin risk near
// the money is flagged but not fatal.
func ValidateQuote(q *OptionQuote, underlying float64) ValidationResult {
	res := ValidationResult{Symbol: q.Symbol, Valid: true}

	fail := func(field, msg string) {
		res.Issues = append(res.Issues, ValidationIssue{Field: field, Message: msg, Fatal: true})
		res.Valid = false
	}
	warn := func(field, msg string) {
		res.Issues = append(res.Issues, ValidationIssue{Field: field, Message: msg})
	}

	if q.Strike <= 0 {
		fail("strike", "non-positive strike")
	}
	if q.Last < 0 {
		fail("last", "negative last price")
	}

	switch q.Right {
	case Call:
		if q.Greeks.Delta < 0 || q.Greeks.Delta > 1 {
			fail("delta", "call delta outside [0,1]")
		}
		if q.Greeks.Theta > 0 {
			fail("theta", "positive call theta")
		}
	case Put:
		if q.Greeks.Delta < -1 || q.Greeks.Delta > 0 {
			fail("delta", "put delta outside [-1,0]")
		}
		// Deep ITM puts can carry slight positive theta.
		if q.Greeks.Theta > 0.1 {
			warn("theta", "put theta unusually positive")
		}
	}

	if q.Greeks.Gamma < 0 {
		fail("gamma", "negative gamma")
	}
	if q.ImpliedVol != 0 && (q.ImpliedVol < minSaneIV || q.ImpliedVol > maxSaneIV) {
		fail("implied_vol", "implied vol outside sane band")
	}

	if q.Bid > 0 && q.Ask > 0 {
		if q.Ask <= q.Bid {
			fail("book", "crossed or locked book")
		} else if (q.Ask-q.Bid)/q.Ask > 0.5 {
			warn("spread", "spread exceeds 50% of ask")
		}
	}

	if HighGammaRisk(q, underlying) {
		warn("gamma", "pin risk: elevated gamma near the money")
	}

	return res
}

// HighGammaRisk reports whether the contract carries 0DTE pin risk:
// gamma above the ATM baseline within ±1% of the money, or above the
// extreme threshold anywhere.
func HighGammaRisk(q *OptionQuote, underlying float64) bool {
	if underlying <= 0 {
		return false
	}
	if q.Greeks.Gamma > extremeGammaThreshold {
		return true
	}
	return q.Moneyness(underlying) <= atmBandPct && q.Greeks.Gamma > atmGammaThreshold
}

// EstimateDelta approximates delta from moneyness tiers when a quote
// arrives without Greeks and no pricing provider has a value yet.
func EstimateDelta(underlying, strike float64, right Right) float64 {
	if strike <= 0 {
		if right == Call {
			return 0.5
		}
		return -0.5
	}
	moneyness := underlying / strike

	if right == Call {
		switch {
		case moneyness > 1.05:
			return 0.8
		case moneyness > 1.02:
			return 0.6
		case moneyness >= 0.98:
			return 0.5
		case moneyness >= 0.95:
			return 0.3
		default:
			return 0.1
		}
	}

	switch {
	case moneyness < 0.95:
		return -0.8
	case moneyness < 0.98:
		return -0.6
	case moneyness <= 1.02:
		return -0.5
	case moneyness <= 1.05:
		return -0.3
	default:
		return -0.1
	}
}

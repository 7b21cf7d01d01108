// Package pricing estimates transcription cost from provider rate cards.
package pricing

// Per-minute USD rates by provider.
var ratesPerMinute = map[string]float64{
	"aws":   0.024,
	"azure": 0.016,
	"gcp":   0.018,
}

// defaultRatePerMinute applies to providers without a published rate.
const defaultRatePerMinute = 0.02

// Estimate returns the estimated USD cost of transcribing durationSeconds
// of audio with the named provider.
func Estimate(provider string, durationSeconds float64) float64 {
	rate, ok := ratesPerMinute[provider]
	if !ok {
		rate = defaultRatePerMinute
	}
	return rate * durationSeconds / 60
}

// RatePerMinute returns the per-minute USD rate for a provider.
func RatePerMinute(provider string) float64 {
	if rate, ok := ratesPerMinute[provider]; ok {
		return rate
	}
	return defaultRatePerMinute
}

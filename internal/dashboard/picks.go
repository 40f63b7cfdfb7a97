// Package dashboard derives the read-only views of the recommendations
// feed: top buys and sells, the landing preview, score ranges and
// filters, per-ticker score history, and forecast chart lines.
package dashboard

import (
	"sort"

	"tickwise/internal/domain"
)

// PreviewPerSide is how many buys and sells the landing preview draws from.
const PreviewPerSide = 4

// PreviewMax caps the landing preview.
const PreviewMax = 10

// Summary holds the headline counts of a snapshot.
type Summary struct {
	Total            int     `json:"total"`
	Buys             int     `json:"buys"`
	Sells            int     `json:"sells"`
	Holds            int     `json:"holds"`
	AvgBuyConfidence float64 `json:"avgBuyConfidence"`
}

// Summarize counts recommendations by verdict. Missing scores count as
// zero in the average buy confidence.
func Summarize(recs []domain.RecommendationRecord) Summary {
	s := Summary{Total: len(recs)}
	var buyScore float64
	for _, r := range recs {
		switch r.Recommendation {
		case domain.RecommendationBuy:
			s.Buys++
			buyScore += scoreOrZero(r)
		case domain.RecommendationSell:
			s.Sells++
		case domain.RecommendationHold:
			s.Holds++
		}
	}
	if s.Buys > 0 {
		s.AvgBuyConfidence = buyScore / float64(s.Buys)
	}
	return s
}

// Top returns up to n records with the given verdict, highest tickwise
// score first. Missing scores sort as zero; ties keep feed order. n <= 0
// returns all matches.
func Top(recs []domain.RecommendationRecord, side domain.Recommendation, n int) []domain.RecommendationRecord {
	var out []domain.RecommendationRecord
	for _, r := range recs {
		if r.Recommendation == side {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scoreOrZero(out[i]) > scoreOrZero(out[j])
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TopBuys returns the n highest-scored buys.
func TopBuys(recs []domain.RecommendationRecord, n int) []domain.RecommendationRecord {
	return Top(recs, domain.RecommendationBuy, n)
}

// TopSells returns the n highest-scored sells.
func TopSells(recs []domain.RecommendationRecord, n int) []domain.RecommendationRecord {
	return Top(recs, domain.RecommendationSell, n)
}

// Preview interleaves the top buys and top sells, buy first.
func Preview(recs []domain.RecommendationRecord) []domain.RecommendationRecord {
	buys := TopBuys(recs, PreviewPerSide)
	sells := TopSells(recs, PreviewPerSide)

	var out []domain.RecommendationRecord
	for i := 0; i < max(len(buys), len(sells)); i++ {
		if i < len(buys) {
			out = append(out, buys[i])
		}
		if i < len(sells) {
			out = append(out, sells[i])
		}
	}
	if len(out) > PreviewMax {
		out = out[:PreviewMax]
	}
	return out
}

func scoreOrZero(r domain.RecommendationRecord) float64 {
	if !domain.IsFinite(r.TickwiseScore) {
		return 0
	}
	return r.TickwiseScore
}

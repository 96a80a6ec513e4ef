package analytics

import "sort"

// RankByQuantity orders participants by traded quantity, highest first, and
// keeps at most limit rows. Ties go to the lower merchant id.
func RankByQuantity(rows []ParticipantRow, limit int) []RankedMerchant {
	return rank(rows, limit, func(a, b ParticipantRow) int {
		return compareInt(a.Quantity, b.Quantity)
	})
}

// RankByBrokerage orders participants by brokerage, highest first.
func RankByBrokerage(rows []ParticipantRow, limit int) []RankedMerchant {
	return rank(rows, limit, func(a, b ParticipantRow) int {
		return a.Brokerage.Cmp(b.Brokerage)
	})
}

// CombineSides adds each merchant's buyer-side and seller-side measures so a
// merchant active on both sides appears once.
func CombineSides(buyers, sellers []ParticipantRow) []ParticipantRow {
	index := make(map[int64]int, len(buyers)+len(sellers))
	out := make([]ParticipantRow, 0, len(buyers)+len(sellers))
	for _, side := range [][]ParticipantRow{buyers, sellers} {
		for _, row := range side {
			if i, ok := index[row.MerchantID]; ok {
				out[i].Measures = out[i].Measures.Add(row.Measures)
				continue
			}
			index[row.MerchantID] = len(out)
			out = append(out, row)
		}
	}
	return out
}

func rank(rows []ParticipantRow, limit int, cmp func(a, b ParticipantRow) int) []RankedMerchant {
	sorted := append([]ParticipantRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := cmp(sorted[i], sorted[j]); c != 0 {
			return c > 0
		}
		return sorted[i].MerchantID < sorted[j].MerchantID
	})
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]RankedMerchant, 0, len(sorted))
	for i, row := range sorted {
		out = append(out, RankedMerchant{
			Rank:       i + 1,
			MerchantID: row.MerchantID,
			FirmName:   row.FirmName,
			City:       CanonicalCity(row.City),
			Totals:     NewTotals(row.Measures),
		})
	}
	return out
}

func compareInt(a, b int64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

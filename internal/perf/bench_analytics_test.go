package perf

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/brokerage/internal/analytics"
	"github.com/odyssey-erp/brokerage/internal/brokerage"
)

var cities = []string{"indore", "Indore ", "UJJAIN", "bhopal", "", "Dewas"}

// syntheticYear builds one financial year of rows for a busy broker.
func syntheticYear(products, merchants int) (analytics.Extraction, []analytics.ParticipantRow) {
	ex := analytics.Extraction{CityProducts: make(map[analytics.CityMonth][]analytics.ProductRow)}
	for m := 0; m < 12; m++ {
		key := analytics.MonthKey{Year: 2024 + (m+3)/12, Month: (m+3)%12 + 1}
		month := analytics.Measures{}
		for p := 0; p < products; p++ {
			measures := analytics.Measures{
				Quantity:  int64(100 + p*7 + m),
				Brokerage: decimal.NewFromInt(int64(250 + p)),
				Value:     decimal.NewFromInt(int64(210000 + p*1000)),
				Count:     int64(3 + p%4),
			}
			month = month.Add(measures)
			row := analytics.ProductRow{MonthKey: key, ProductID: int64(p + 1), ProductName: fmt.Sprintf("P%d", p+1), Measures: measures}
			ex.Products = append(ex.Products, row)
			city := cities[p%len(cities)]
			ex.Cities = append(ex.Cities, analytics.CityRow{MonthKey: key, City: city, Measures: measures})
			cm := analytics.CityMonth{MonthKey: key, City: city}
			ex.CityProducts[cm] = append(ex.CityProducts[cm], row)
		}
		ex.Months = append(ex.Months, analytics.MonthRow{MonthKey: key, Measures: month})
		for _, userType := range []string{"trader", "miller", "Exporter", ""} {
			ex.SoldByType = append(ex.SoldByType, analytics.MerchantTypeRow{MonthKey: key, UserType: userType, Measures: month})
			ex.BoughtByType = append(ex.BoughtByType, analytics.MerchantTypeRow{MonthKey: key, UserType: userType, Measures: month})
		}
	}

	participants := make([]analytics.ParticipantRow, 0, merchants)
	for i := 0; i < merchants; i++ {
		participants = append(participants, analytics.ParticipantRow{
			MerchantID: int64(i + 1),
			FirmName:   fmt.Sprintf("Firm %d", i+1),
			City:       cities[i%len(cities)],
			Measures: analytics.Measures{
				Quantity:  int64((i * 37) % 900),
				Brokerage: decimal.NewFromInt(int64((i * 53) % 2000)),
				Count:     int64(i % 11),
			},
		})
	}
	return ex, participants
}

func BenchmarkAggregateYear(b *testing.B) {
	ex, _ := syntheticYear(40, 0)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = analytics.Aggregate(ex)
	}
}

func BenchmarkTopMerchants(b *testing.B) {
	_, participants := syntheticYear(1, 5000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		combined := analytics.CombineSides(participants, participants)
		_ = analytics.RankByBrokerage(combined, analytics.TopLimit)
	}
}

func BenchmarkComputeObligation(b *testing.B) {
	rate := decimal.RequireFromString("2.75")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = brokerage.Compute(rate, int64(i%500), int64(i%300))
	}
}

func TestSyntheticYearAggregatesEveryMonth(t *testing.T) {
	ex, participants := syntheticYear(10, 20)
	year := analytics.Aggregate(ex)
	if len(year.Months) != 12 {
		t.Fatalf("expected 12 months, got %d", len(year.Months))
	}
	// Raw spellings collapse to Indore, Ujjain, Bhopal, Unknown and Dewas.
	if len(year.Cities) != 5 {
		t.Fatalf("expected 5 canonical cities, got %d", len(year.Cities))
	}
	top := analytics.RankByQuantity(participants, analytics.TopLimit)
	if len(top) != analytics.TopLimit {
		t.Fatalf("expected %d ranked merchants, got %d", analytics.TopLimit, len(top))
	}
}

package analytics

import (
	"sort"
)

// CityMonth identifies the nested product extraction of one city in one month.
// City holds the value exactly as stored.
type CityMonth struct {
	MonthKey
	City string
}

// Extraction is the typed input of the aggregation engine.
type Extraction struct {
	Months       []MonthRow
	Products     []ProductRow
	Cities       []CityRow
	SoldByType   []MerchantTypeRow
	BoughtByType []MerchantTypeRow
	CityProducts map[CityMonth][]ProductRow
}

// Aggregate builds one bucket per month present in ex.Months, attaches the
// matching product, city and merchant-type rows and merges the months into
// year-level breakdowns. Rows for months without a bucket are ignored.
func Aggregate(ex Extraction) YearAnalytics {
	builders := make(map[MonthKey]*monthBuilder, len(ex.Months))
	keys := make([]MonthKey, 0, len(ex.Months))
	for _, row := range ex.Months {
		b, ok := builders[row.MonthKey]
		if !ok {
			b = newMonthBuilder()
			builders[row.MonthKey] = b
			keys = append(keys, row.MonthKey)
		}
		b.measures = b.measures.Add(row.Measures)
	}
	for _, row := range ex.Products {
		if b, ok := builders[row.MonthKey]; ok {
			b.products.add(row.ProductID, row.ProductName, row.Measures)
		}
	}
	for _, row := range ex.Cities {
		b, ok := builders[row.MonthKey]
		if !ok {
			continue
		}
		city := b.cities.get(row.City)
		city.measures = city.measures.Add(row.Measures)
		for _, p := range ex.CityProducts[CityMonth{MonthKey: row.MonthKey, City: row.City}] {
			city.products.add(p.ProductID, p.ProductName, p.Measures)
		}
	}
	for _, row := range ex.SoldByType {
		if b, ok := builders[row.MonthKey]; ok {
			b.types.get(row.UserType).sold.add(row.Measures)
		}
	}
	for _, row := range ex.BoughtByType {
		if b, ok := builders[row.MonthKey]; ok {
			b.types.get(row.UserType).bought.add(row.Measures)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := YearAnalytics{Months: make([]MonthBucket, 0, len(keys))}
	for _, key := range keys {
		out.Months = append(out.Months, builders[key].build(key))
	}
	mergeYear(&out)
	return out
}

// mergeYear derives the year-level breakdowns from the finished month buckets.
// Averages are recomputed from merged totals, never averaged across months.
func mergeYear(out *YearAnalytics) {
	total := Totals{}
	products := productSet{}
	cities := citySet{}
	types := typeSet{}
	for _, month := range out.Months {
		total = total.Merge(month.Totals)
		for _, p := range month.Products {
			products.add(p.ProductID, p.ProductName, p.Measures)
		}
		for _, c := range month.Cities {
			acc := cities.get(c.City)
			acc.measures = acc.measures.Add(c.Measures)
			for _, p := range c.Products {
				acc.products.add(p.ProductID, p.ProductName, p.Measures)
			}
		}
		for _, mt := range month.MerchantTypes {
			acc := types.get(mt.UserType)
			acc.sold.add(mt.Sold.Measures)
			acc.bought.add(mt.Bought.Measures)
		}
	}
	out.Totals = NewTotals(total.Measures)
	out.Products = products.sorted()
	out.Cities = cities.sorted()
	out.MerchantTypes = types.sorted()
}

type monthBuilder struct {
	measures Measures
	products productSet
	cities   citySet
	types    typeSet
}

func newMonthBuilder() *monthBuilder {
	return &monthBuilder{products: productSet{}, cities: citySet{}, types: typeSet{}}
}

func (b *monthBuilder) build(key MonthKey) MonthBucket {
	return MonthBucket{
		Key:           key,
		Label:         key.String(),
		Totals:        NewTotals(b.measures),
		Products:      b.products.sorted(),
		Cities:        b.cities.sorted(),
		MerchantTypes: b.types.sorted(),
	}
}

type productAcc struct {
	name     string
	measures Measures
}

type productSet map[int64]*productAcc

func (s productSet) add(id int64, name string, m Measures) {
	acc, ok := s[id]
	if !ok {
		acc = &productAcc{name: name}
		s[id] = acc
	}
	if acc.name == "" {
		acc.name = name
	}
	acc.measures = acc.measures.Add(m)
}

func (s productSet) sorted() []ProductBreakdown {
	out := make([]ProductBreakdown, 0, len(s))
	for id, acc := range s {
		out = append(out, ProductBreakdown{ProductID: id, ProductName: acc.name, Totals: NewTotals(acc.measures)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

type cityAcc struct {
	measures Measures
	products productSet
}

// citySet merges cities under their canonical label.
type citySet map[string]*cityAcc

func (s citySet) get(raw string) *cityAcc {
	label := CanonicalCity(raw)
	acc, ok := s[label]
	if !ok {
		acc = &cityAcc{products: productSet{}}
		s[label] = acc
	}
	return acc
}

func (s citySet) sorted() []CityBreakdown {
	out := make([]CityBreakdown, 0, len(s))
	for label, acc := range s {
		out = append(out, CityBreakdown{City: label, Products: acc.products.sorted(), Totals: NewTotals(acc.measures)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out
}

type sideAcc struct {
	measures Measures
}

func (a *sideAcc) add(m Measures) {
	a.measures = a.measures.Add(m)
}

type typeAcc struct {
	sold   sideAcc
	bought sideAcc
}

type typeSet map[string]*typeAcc

func (s typeSet) get(raw string) *typeAcc {
	key := canonicalType(raw)
	acc, ok := s[key]
	if !ok {
		acc = &typeAcc{}
		s[key] = acc
	}
	return acc
}

func (s typeSet) sorted() []MerchantTypeBreakdown {
	out := make([]MerchantTypeBreakdown, 0, len(s))
	for userType, acc := range s {
		out = append(out, MerchantTypeBreakdown{
			UserType: userType,
			Sold:     NewTotals(acc.sold.measures),
			Bought:   NewTotals(acc.bought.measures),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserType < out[j].UserType })
	return out
}

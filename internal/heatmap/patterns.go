package heatmap

// Pattern is a typical hourly visit curve, 0-100, for weekdays and weekends
type Pattern struct {
	Weekday [24]int
	Weekend [24]int
}

// DefaultKind is used for POI kinds without their own pattern
const DefaultKind = "restaurant"

var patterns = map[string]Pattern{
	"restaurant": {
		Weekday: [24]int{0, 0, 0, 0, 0, 0, 10, 15, 20, 15, 10, 20, 60, 70, 40, 20, 30, 50, 80, 100, 90, 70, 40, 10},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 5, 10, 20, 30, 50, 70, 90, 100, 80, 60, 50, 60, 80, 100, 90, 70, 40, 10},
	},
	"cafe": {
		Weekday: [24]int{0, 0, 0, 0, 0, 5, 20, 50, 80, 100, 90, 70, 80, 70, 60, 50, 60, 70, 60, 40, 20, 10, 5, 0},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 5, 10, 30, 60, 80, 100, 90, 80, 70, 60, 50, 40, 30, 20, 10, 5, 0, 0},
	},
	"gym": {
		Weekday: [24]int{0, 0, 0, 0, 0, 5, 30, 70, 90, 60, 40, 50, 70, 50, 40, 50, 70, 100, 90, 80, 60, 30, 10, 0},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 5, 20, 50, 80, 100, 90, 80, 70, 60, 50, 40, 30, 20, 10, 5, 0, 0, 0},
	},
	"shopping_mall": {
		Weekday: [24]int{0, 0, 0, 0, 0, 0, 0, 5, 10, 30, 50, 60, 70, 60, 50, 60, 80, 100, 90, 80, 70, 50, 20, 5},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 0, 5, 10, 40, 70, 90, 100, 100, 90, 80, 90, 100, 90, 70, 50, 30, 10, 0},
	},
	"supermarket": {
		Weekday: [24]int{0, 0, 0, 0, 0, 0, 5, 20, 50, 70, 60, 50, 60, 50, 40, 50, 70, 100, 80, 60, 40, 20, 10, 5},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 5, 10, 30, 60, 80, 100, 90, 80, 70, 60, 50, 40, 30, 20, 10, 5, 0, 0},
	},
	"transit_station": {
		Weekday: [24]int{5, 0, 0, 0, 0, 10, 40, 90, 100, 70, 40, 30, 40, 40, 30, 40, 60, 100, 90, 60, 30, 20, 10, 5},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 5, 20, 40, 60, 70, 80, 80, 70, 60, 50, 50, 60, 50, 40, 30, 20, 10, 5},
	},
	"office": {
		Weekday: [24]int{0, 0, 0, 0, 0, 0, 10, 50, 90, 100, 100, 90, 70, 80, 100, 100, 90, 70, 30, 10, 5, 0, 0, 0},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 0, 0, 5, 10, 15, 15, 10, 10, 10, 5, 0, 0, 0, 0, 0, 0, 0, 0},
	},
	"bar": {
		Weekday: [24]int{5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 5, 10, 20, 20, 15, 20, 30, 50, 70, 90, 100, 100, 80, 30},
		Weekend: [24]int{10, 5, 0, 0, 0, 0, 0, 0, 0, 5, 10, 20, 30, 30, 25, 30, 40, 60, 80, 100, 100, 100, 90, 50},
	},
	"park": {
		Weekday: [24]int{0, 0, 0, 0, 0, 5, 20, 40, 50, 40, 30, 40, 50, 40, 30, 40, 60, 80, 100, 80, 50, 30, 10, 0},
		Weekend: [24]int{0, 0, 0, 0, 0, 0, 5, 20, 40, 60, 80, 100, 100, 100, 90, 80, 70, 60, 50, 40, 20, 10, 5, 0},
	},
}

// PatternFor returns the pattern for a POI kind, falling back to DefaultKind
func PatternFor(kind string) Pattern {
	if p, ok := patterns[kind]; ok {
		return p
	}
	return patterns[DefaultKind]
}

// Day returns the base curve for a day index, Monday = 0
func (p Pattern) Day(day int) [24]int {
	if day >= 5 {
		return p.Weekend
	}
	return p.Weekday
}

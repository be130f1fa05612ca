package fallback

import "strings"

type priceBand struct {
	name  string
	min   int64
	max   int64
	modal int64
}

// basePrices are typical mandi bands in Rs/Quintal.
var basePrices = map[string]priceBand{
	"rice":      {"Rice", 2500, 3500, 3000},
	"paddy":     {"Paddy", 2000, 2400, 2200},
	"wheat":     {"Wheat", 2100, 2600, 2350},
	"maize":     {"Maize", 1800, 2300, 2050},
	"bajra":     {"Bajra", 2000, 2500, 2250},
	"jowar":     {"Jowar", 2600, 3400, 3000},
	"cotton":    {"Cotton", 6000, 7500, 6800},
	"soybean":   {"Soybean", 4200, 5000, 4600},
	"groundnut": {"Groundnut", 5200, 6300, 5800},
	"mustard":   {"Mustard", 5000, 5800, 5450},
	"gram":      {"Gram", 5000, 5800, 5400},
	"arhar":     {"Arhar", 6500, 8000, 7200},
	"onion":     {"Onion", 1200, 2200, 1700},
	"potato":    {"Potato", 900, 1600, 1250},
	"tomato":    {"Tomato", 1000, 2500, 1700},
	"sugarcane": {"Sugarcane", 300, 380, 340},
	"turmeric":  {"Turmeric", 12000, 15000, 13500},
}

var genericPrice = priceBand{"", 2000, 3000, 2500}

var regionalFactors = map[string]float64{
	"punjab":         1.10,
	"haryana":        1.08,
	"maharashtra":    1.05,
	"gujarat":        1.04,
	"tamil nadu":     1.04,
	"karnataka":      1.03,
	"andhra pradesh": 1.02,
	"telangana":      1.02,
	"rajasthan":      1.00,
	"west bengal":    0.99,
	"uttar pradesh":  0.98,
	"madhya pradesh": 0.97,
	"bihar":          0.95,
	"odisha":         0.95,
}

var stateMarkets = map[string][]string{
	"punjab":         {"Ludhiana", "Khanna", "Amritsar"},
	"haryana":        {"Karnal", "Hisar", "Sirsa"},
	"uttar pradesh":  {"Lucknow", "Agra", "Kanpur"},
	"maharashtra":    {"Nagpur", "Pune", "Lasalgaon"},
	"madhya pradesh": {"Indore", "Bhopal", "Ujjain"},
	"rajasthan":      {"Jaipur", "Kota", "Bikaner"},
	"gujarat":        {"Rajkot", "Ahmedabad", "Gondal"},
	"karnataka":      {"Bengaluru", "Hubballi", "Davangere"},
	"tamil nadu":     {"Chennai", "Coimbatore", "Madurai"},
	"andhra pradesh": {"Guntur", "Kurnool", "Vijayawada"},
	"telangana":      {"Hyderabad", "Warangal", "Nizamabad"},
	"west bengal":    {"Kolkata", "Burdwan", "Siliguri"},
	"bihar":          {"Patna", "Muzaffarpur", "Gaya"},
	"odisha":         {"Cuttack", "Bargarh", "Sambalpur"},
}

type climate int

const (
	climateTemperate climate = iota
	climateNorthern
	climateSouthern
	climateArid
)

var stateClimate = map[string]climate{
	"punjab":        climateNorthern,
	"haryana":       climateNorthern,
	"uttar pradesh": climateNorthern,
	"bihar":         climateNorthern,
	"rajasthan":     climateArid,
	"kerala":        climateSouthern,
	"tamil nadu":    climateSouthern,
	"karnataka":     climateSouthern,
}

type soilDefaults struct {
	soilType      string
	ph            float64
	organicCarbon float64
	clay          float64
	sand          float64
}

var stateSoils = map[string]soilDefaults{
	"maharashtra":    {"Black (Regur)", 7.8, 5.5, 45, 20},
	"madhya pradesh": {"Black (Regur)", 7.6, 5.0, 42, 22},
	"gujarat":        {"Black (Regur)", 7.9, 4.5, 40, 25},
	"punjab":         {"Alluvial", 7.9, 4.0, 18, 45},
	"haryana":        {"Alluvial", 8.0, 3.8, 17, 48},
	"uttar pradesh":  {"Alluvial", 7.6, 4.5, 20, 40},
	"bihar":          {"Alluvial", 7.2, 5.0, 22, 38},
	"west bengal":    {"Alluvial", 6.5, 6.5, 25, 35},
	"rajasthan":      {"Arid (Desert)", 8.2, 2.0, 8, 80},
	"kerala":         {"Laterite", 5.5, 12.0, 30, 45},
	"odisha":         {"Red and Laterite", 6.0, 7.0, 28, 48},
	"karnataka":      {"Red", 6.5, 6.0, 25, 55},
	"tamil nadu":     {"Red", 6.8, 5.5, 24, 56},
	"andhra pradesh": {"Red", 6.9, 5.0, 26, 52},
	"telangana":      {"Red", 6.9, 5.0, 26, 52},
}

var defaultSoil = soilDefaults{"Alluvial", 7.2, 5.0, 22, 40}

func stateKey(state string) string {
	return strings.ToLower(strings.Join(strings.Fields(state), " "))
}

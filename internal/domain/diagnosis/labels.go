package diagnosis

var cancerLabels = map[CancerType]string{
	Melanoma:              "Melanoma",
	BasalCellCarcinoma:    "Basal cell carcinoma",
	SquamousCellCarcinoma: "Squamous cell carcinoma",
	Benign:                "Benign",
	Unknown:               "Unknown",
}

var riskLabels = map[RiskLevel]string{
	RiskLow:      "Low risk",
	RiskMedium:   "Medium risk",
	RiskHigh:     "High risk",
	RiskVeryHigh: "Very high risk",
}

// riskColors are RGB hex values presentation layers can use for a risk badge.
var riskColors = map[RiskLevel]string{
	RiskLow:      "#2E7D32",
	RiskMedium:   "#FFA000",
	RiskHigh:     "#F57C00",
	RiskVeryHigh: "#C62828",
}

// Disclaimer accompanies every result shown to a patient.
const Disclaimer = "This result is a preliminary assessment only and is not a diagnosis. Always consult your doctor."

func (t CancerType) Label() string {
	if l, ok := cancerLabels[t]; ok {
		return l
	}
	return cancerLabels[Unknown]
}

func (r RiskLevel) Label() string {
	if l, ok := riskLabels[r]; ok {
		return l
	}
	return "Unknown"
}

func (r RiskLevel) Color() string {
	if c, ok := riskColors[r]; ok {
		return c
	}
	return "#757575"
}

// View is the labelled form of a Result returned to callers.
type View struct {
	Result
	CancerLabel string `json:"cancer_label"`
	RiskLabel   string `json:"risk_label"`
	RiskColor   string `json:"risk_color"`
	Disclaimer  string `json:"disclaimer"`
}

// Describe attaches labels to a result.
func Describe(r Result) View {
	return View{
		Result:      r,
		CancerLabel: r.CancerType.Label(),
		RiskLabel:   r.RiskLevel.Label(),
		RiskColor:   r.RiskLevel.Color(),
		Disclaimer:  Disclaimer,
	}
}

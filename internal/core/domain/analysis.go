package domain

import "strings"

type AnalysisResult struct {
	Category       string         `json:"category"`
	Confidence     float64        `json:"confidence"`
	ExtractedData  map[string]any `json:"extractedData"`
	Summary        string         `json:"summary"`
	KeyInformation []string       `json:"keyInformation"`
	DocumentType   string         `json:"documentType"`
}

// AnalysisInput is what the analysis engine sees. At least one of Text or
// Image must be set.
type AnalysisInput struct {
	Text          string
	Image         []byte
	ImageMIMEType string
}

func (in AnalysisInput) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Image) == 0
}

type Category struct {
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color" yaml:"color"`
}

const (
	CategoryInvoices       = "invoices"
	CategoryContracts      = "contracts"
	CategoryMedical        = "medical"
	CategoryLegal          = "legal"
	CategoryCorrespondence = "correspondence"
	CategoryFinancial      = "financial"
	CategoryAdministrative = "administrative"
	CategoryOther          = "other"
)

// CategoryNames is the closed category enumeration in display order.
var CategoryNames = []string{
	CategoryInvoices,
	CategoryContracts,
	CategoryMedical,
	CategoryLegal,
	CategoryCorrespondence,
	CategoryFinancial,
	CategoryAdministrative,
	CategoryOther,
}

var categoryAliases = map[string]string{
	"invoice":   CategoryInvoices,
	"bills":     CategoryInvoices,
	"factures":  CategoryInvoices,
	"facture":   CategoryInvoices,
	"contract":  CategoryContracts,
	"contrats":  CategoryContracts,
	"contrat":   CategoryContracts,
	"letters":   CategoryCorrespondence,
	"emails":    CategoryCorrespondence,
	"finance":   CategoryFinancial,
	"admin":     CategoryAdministrative,
	"official":  CategoryAdministrative,
	"medicine":  CategoryMedical,
	"health":    CategoryMedical,
	"juridique": CategoryLegal,
}

// NormalizeCategory maps any model-provided label onto the closed enumeration.
// Unknown labels become "other".
func NormalizeCategory(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if IsKnownCategory(name) {
		return name
	}
	if alias, ok := categoryAliases[name]; ok {
		return alias
	}
	return CategoryOther
}

func IsKnownCategory(name string) bool {
	for _, c := range CategoryNames {
		if c == name {
			return true
		}
	}
	return false
}

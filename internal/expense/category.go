package expense

import (
	"encoding/json"
	"strings"
)

// PredefinedCategory is one of the built-in expense categories.
type PredefinedCategory int

const (
	Food PredefinedCategory = iota + 1
	Transport
	Stationery
	Health
	Education
	Other
)

var predefinedNames = map[PredefinedCategory]string{
	Food:       "Food",
	Transport:  "Transport",
	Stationery: "Stationery",
	Health:     "Health",
	Education:  "Education",
	Other:      "Other",
}

// Receipts printed in Turkey and older records use the Turkish labels.
var categoryAliases = map[string]PredefinedCategory{
	"food":       Food,
	"yemek":      Food,
	"transport":  Transport,
	"ulaşım":     Transport,
	"ulasim":     Transport,
	"stationery": Stationery,
	"kırtasiye":  Stationery,
	"kirtasiye":  Stationery,
	"health":     Health,
	"sağlık":     Health,
	"saglik":     Health,
	"education":  Education,
	"eğitim":     Education,
	"egitim":     Education,
	"other":      Other,
	"diğer":      Other,
	"diger":      Other,
}

func (p PredefinedCategory) String() string {
	return predefinedNames[p]
}

// PredefinedCategories lists the closed category set in display order.
func PredefinedCategories() []PredefinedCategory {
	return []PredefinedCategory{Food, Transport, Stationery, Health, Education, Other}
}

// Category is either a predefined category or a custom free-text one.
// The zero value is unset.
type Category struct {
	predefined PredefinedCategory
	custom     string
}

// Predefined wraps a built-in category.
func Predefined(p PredefinedCategory) Category {
	return Category{predefined: p}
}

// Custom wraps a user supplied category name.
func Custom(name string) Category {
	return Category{custom: strings.TrimSpace(name)}
}

// ParseCategory maps known names (English or Turkish, any case) onto the
// predefined set and keeps anything else as a custom category.
func ParseCategory(s string) Category {
	s = strings.TrimSpace(s)
	if s == "" {
		return Category{}
	}
	if p, ok := categoryAliases[strings.ToLower(s)]; ok {
		return Predefined(p)
	}
	return Custom(s)
}

// IsZero reports whether the category is unset.
func (c Category) IsZero() bool {
	return c.predefined == 0 && c.custom == ""
}

// Predefined returns the built-in category, if this is one.
func (c Category) Predefined() (PredefinedCategory, bool) {
	return c.predefined, c.predefined != 0
}

// IsCustom reports whether the category is free text.
func (c Category) IsCustom() bool {
	return c.predefined == 0 && c.custom != ""
}

// OrOther returns Other for an unset category.
func (c Category) OrOther() Category {
	if c.IsZero() {
		return Predefined(Other)
	}
	return c
}

func (c Category) String() string {
	if c.predefined != 0 {
		return c.predefined.String()
	}
	return c.custom
}

func (c Category) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*c = Category{}
		return nil
	}
	*c = ParseCategory(*s)
	return nil
}

// VendorCategories maps lowercase vendor name fragments to a category.
type VendorCategories map[string]PredefinedCategory

// DefaultVendorCategories covers the merchants seen most often on receipts.
var DefaultVendorCategories = VendorCategories{
	"market":     Food,
	"migros":     Food,
	"bim":        Food,
	"restoran":   Food,
	"restaurant": Food,
	"cafe":       Food,
	"kafe":       Food,
	"lokanta":    Food,
	"fırın":      Food,
	"petrol":     Transport,
	"opet":       Transport,
	"shell":      Transport,
	"taksi":      Transport,
	"taxi":       Transport,
	"otopark":    Transport,
	"kırtasiye":  Stationery,
	"kirtasiye":  Stationery,
	"office":     Stationery,
	"eczane":     Health,
	"pharmacy":   Health,
	"hastane":    Health,
	"klinik":     Health,
	"kitap":      Education,
	"okul":       Education,
	"kurs":       Education,
}

// Categorize returns the category of the first fragment found in vendor,
// or Other. Longer fragments are tried first so "kırtasiye market" is not
// filed under Food.
func (v VendorCategories) Categorize(vendor string) Category {
	name := foldTurkish(vendor)
	best := ""
	for fragment := range v {
		if !strings.Contains(name, foldTurkish(fragment)) {
			continue
		}
		if len(fragment) > len(best) || (len(fragment) == len(best) && fragment < best) {
			best = fragment
		}
	}
	if best == "" {
		return Predefined(Other)
	}
	return Predefined(v[best])
}

// dotFolder lowercases the Turkish dotted and dotless i pairs onto a plain
// "i" so OCR output in either script matches.
var dotFolder = strings.NewReplacer("\u0307", "", "ı", "i")

func foldTurkish(s string) string {
	return dotFolder.Replace(strings.ToLower(s))
}

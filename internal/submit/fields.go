package submit

import (
	"strings"

	"github.com/sweepd/sweepd/internal/opportunity"
)

// FieldStrategy is one form field and the ordered selector list probed
// to locate it. Selectors run in order; entry forms have no schema, so
// discovery is best-effort by construction.
type FieldStrategy struct {
	Field     string
	Selectors []string
}

// Value resolves the profile value for this field. Unknown fields fall
// back to the profile's extra map.
func (s FieldStrategy) Value(p opportunity.Profile) string {
	switch s.Field {
	case "name":
		return p.Name
	case "email":
		return p.Email
	case "phone":
		return p.Phone
	}
	return p.Extra[s.Field]
}

// DefaultFieldStrategies covers the identity fields entry forms ask
// for, with French variants alongside the English ones.
func DefaultFieldStrategies() []FieldStrategy {
	return []FieldStrategy{
		{
			Field: "name",
			Selectors: []string{
				`input[name="name"]`,
				`input[name="fullname"]`,
				`input[name="full_name"]`,
				`input[id="name"]`,
				`input[name="nom"]`,
				`input[name="prenom"]`,
				`input[autocomplete="name"]`,
			},
		},
		{
			Field: "email",
			Selectors: []string{
				`input[type="email"]`,
				`input[name="email"]`,
				`input[id="email"]`,
				`input[name="mail"]`,
				`input[name="courriel"]`,
				`input[autocomplete="email"]`,
			},
		},
		{
			Field: "phone",
			Selectors: []string{
				`input[type="tel"]`,
				`input[name="phone"]`,
				`input[name="telephone"]`,
				`input[id="phone"]`,
				`input[autocomplete="tel"]`,
			},
		},
	}
}

// StrategiesWithExtra extends the defaults with one strategy per extra
// profile key, probing name and id attributes.
func StrategiesWithExtra(p opportunity.Profile) []FieldStrategy {
	out := DefaultFieldStrategies()
	for key := range p.Extra {
		k := strings.ToLower(key)
		out = append(out, FieldStrategy{
			Field: key,
			Selectors: []string{
				`input[name="` + k + `"]`,
				`input[id="` + k + `"]`,
				`textarea[name="` + k + `"]`,
			},
		})
	}
	return out
}

package newsletter

import (
	"sort"
	"strings"
)

// Variables holds the organization/story facts substituted at resolve time.
// Recipient-level tokens (first name, unsubscribe URL) are deliberately not
// part of this set; they survive into the Document for the personalization
// pass.
type Variables struct {
	OrganizationName   string
	StoryTitle         string
	CurrentAmountCents int64
	GoalAmountCents    int64
	PhotoURL           string
	Slug               string
}

// ThemeOverrides holds optional per-campaign color overrides. Empty fields
// keep the theme default.
type ThemeOverrides struct {
	Primary    string `json:"primary_color,omitempty"`
	Secondary  string `json:"secondary_color,omitempty"`
	Accent     string `json:"accent_color,omitempty"`
	Background string `json:"background_color,omitempty"`
	Border     string `json:"border_color,omitempty"`
}

// tokenMap returns the closed vocabulary of resolve-time tokens.
func (v Variables) tokenMap() map[string]string {
	return map[string]string{
		"organization_name": v.OrganizationName,
		"story_title":       v.StoryTitle,
		"current_amount":    FormatCents(v.CurrentAmountCents),
		"goal_amount":       FormatCents(v.GoalAmountCents),
		"photo_url":         v.PhotoURL,
		"slug":              v.Slug,
	}
}

// MergeTheme produces a new theme from a base theme and optional overrides.
// Inputs are never mutated.
func MergeTheme(base Theme, o *ThemeOverrides) Theme {
	merged := base
	if o == nil {
		return merged
	}
	if o.Primary != "" {
		merged.Primary = o.Primary
	}
	if o.Secondary != "" {
		merged.Secondary = o.Secondary
	}
	if o.Accent != "" {
		merged.Accent = o.Accent
	}
	if o.Background != "" {
		merged.Background = o.Background
	}
	if o.Border != "" {
		merged.Border = o.Border
	}
	return merged
}

// Resolve merges a template's block list, a theme, and the org/story
// variable map into an immutable Document. Pure function: no side effects,
// inputs are not mutated.
//
// Block order must be a contiguous 1..N permutation; a gap or duplicate is
// rejected with a ValidationError.
func Resolve(tmpl *Template, theme Theme, overrides *ThemeOverrides, subject string, vars Variables) (*Document, error) {
	if err := validateBlockOrder(tmpl.Blocks); err != nil {
		return nil, err
	}

	merged := MergeTheme(theme, overrides)
	tokens := vars.tokenMap()

	ordered := make([]Block, len(tmpl.Blocks))
	copy(ordered, tmpl.Blocks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	doc := &Document{
		Subject: substituteVars(subject, tokens),
		Blocks:  make([]ResolvedBlock, 0, len(ordered)),
		Theme:   merged,
	}

	for _, b := range ordered {
		rb := ResolvedBlock{
			Kind:    b.Kind,
			Content: resolveContent(b, vars, tokens),
			Style:   resolveStyle(b, merged),
		}
		doc.Blocks = append(doc.Blocks, rb)
	}

	return doc, nil
}

// validateBlockOrder checks that block orders form a contiguous 1..N
// permutation.
func validateBlockOrder(blocks []Block) error {
	if len(blocks) == 0 {
		return NewValidationError("template has no blocks")
	}
	seen := make(map[int]bool, len(blocks))
	for _, b := range blocks {
		if b.Order < 1 || b.Order > len(blocks) {
			return NewValidationError("block order %d outside 1..%d", b.Order, len(blocks))
		}
		if seen[b.Order] {
			return NewValidationError("duplicate block order %d", b.Order)
		}
		seen[b.Order] = true
	}
	return nil
}

// resolveContent substitutes resolve-time variables into the block's string
// fields and fills progress amounts from story facts when the block does not
// carry its own.
func resolveContent(b Block, vars Variables, tokens map[string]string) BlockContent {
	c := b.Content

	c.Title = substituteVars(c.Title, tokens)
	c.Subtitle = substituteVars(c.Subtitle, tokens)
	c.Text = substituteVars(c.Text, tokens)
	c.Caption = substituteVars(c.Caption, tokens)
	c.Label = substituteVars(c.Label, tokens)
	c.Alt = substituteVars(c.Alt, tokens)
	c.Src = substituteVars(c.Src, tokens)
	c.URL = substituteVars(c.URL, tokens)

	if b.Kind == BlockProgress && c.GoalCents == 0 && c.RaisedCents == 0 {
		c.RaisedCents = vars.CurrentAmountCents
		c.GoalCents = vars.GoalAmountCents
	}

	return c
}

// resolveStyle merges theme defaults with the block's styling override into
// a new resolved style record.
func resolveStyle(b Block, theme Theme) ResolvedStyle {
	style := ResolvedStyle{
		TextColor:       theme.Primary,
		BackgroundColor: theme.Background,
		AccentColor:     theme.Accent,
		BorderColor:     theme.Border,
		Padding:         defaultPadding(b.Kind),
		Align:           defaultAlign(b.Kind),
	}
	if o := b.Styling; o != nil {
		if o.TextColor != "" {
			style.TextColor = o.TextColor
		}
		if o.BackgroundColor != "" {
			style.BackgroundColor = o.BackgroundColor
		}
		if o.Padding != "" {
			style.Padding = o.Padding
		}
		if o.Align != "" {
			style.Align = o.Align
		}
	}
	return style
}

func defaultPadding(kind BlockKind) string {
	switch kind {
	case BlockHeader:
		return "32px 24px"
	case BlockSpacer, BlockDivider:
		return "0"
	default:
		return "16px 24px"
	}
}

func defaultAlign(kind BlockKind) string {
	switch kind {
	case BlockHeader, BlockButton, BlockImage:
		return "center"
	default:
		return "left"
	}
}

// substituteVars replaces {{token}} occurrences for the given token map,
// tolerating whitespace inside the braces the same way the personalization
// pass does. Unknown tokens are left in place; personalization is the stage
// that fails loudly on anything still unresolved.
func substituteVars(s string, tokens map[string]string) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if value, ok := tokens[name]; ok {
			return value
		}
		return match
	})
}

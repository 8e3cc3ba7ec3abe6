package newsletter

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testTheme() Theme {
	return Theme{
		ID:         uuid.New(),
		Name:       "default",
		Primary:    "#1a1a2e",
		Secondary:  "#16213e",
		Accent:     "#e94560",
		Background: "#ffffff",
		Border:     "#dddddd",
	}
}

func testTemplate(blocks ...Block) *Template {
	return &Template{ID: uuid.New(), Name: "story-update", Blocks: blocks}
}

func TestValidateBlockOrder(t *testing.T) {
	tests := []struct {
		name    string
		orders  []int
		wantErr bool
	}{
		{"contiguous in order", []int{1, 2, 3}, false},
		{"contiguous shuffled", []int{3, 1, 2}, false},
		{"single block", []int{1}, false},
		{"gap", []int{1, 3, 4}, true},
		{"duplicate", []int{1, 2, 2}, true},
		{"zero based", []int{0, 1, 2}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := make([]Block, len(tt.orders))
			for i, o := range tt.orders {
				blocks[i] = Block{Kind: BlockText, Order: o}
			}
			err := validateBlockOrder(blocks)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateBlockOrder(%v) error = %v, wantErr %v", tt.orders, err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestResolveOrdersBlocks(t *testing.T) {
	tmpl := testTemplate(
		Block{Kind: BlockText, Order: 2, Content: BlockContent{Text: "second"}},
		Block{Kind: BlockHeader, Order: 1, Content: BlockContent{Title: "first"}},
		Block{Kind: BlockDivider, Order: 3},
	)

	doc, err := Resolve(tmpl, testTheme(), nil, "Update", Variables{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	wantKinds := []BlockKind{BlockHeader, BlockText, BlockDivider}
	if len(doc.Blocks) != len(wantKinds) {
		t.Fatalf("got %d blocks, want %d", len(doc.Blocks), len(wantKinds))
	}
	for i, k := range wantKinds {
		if doc.Blocks[i].Kind != k {
			t.Errorf("block %d kind = %q, want %q", i, doc.Blocks[i].Kind, k)
		}
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	tmpl := testTemplate(
		Block{Kind: BlockText, Order: 2, Content: BlockContent{Text: "{{story_title}}"}},
		Block{Kind: BlockHeader, Order: 1, Content: BlockContent{Title: "hello"}},
	)
	theme := testTheme()
	overrides := &ThemeOverrides{Primary: "#000000"}

	_, err := Resolve(tmpl, theme, overrides, "s", Variables{StoryTitle: "Well Project"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if tmpl.Blocks[0].Order != 2 || tmpl.Blocks[0].Content.Text != "{{story_title}}" {
		t.Error("template blocks were mutated")
	}
	if theme.Primary != "#1a1a2e" {
		t.Error("base theme was mutated")
	}
}

func TestResolveSubstitutesVariables(t *testing.T) {
	tmpl := testTemplate(
		Block{Kind: BlockHeader, Order: 1, Content: BlockContent{Title: "{{story_title}}"}},
		Block{Kind: BlockText, Order: 2, Content: BlockContent{
			Text: "{{organization_name}} has raised {{current_amount}} of {{goal_amount}}",
		}},
		Block{Kind: BlockButton, Order: 3, Content: BlockContent{
			Label: "Give now", URL: "https://storyraise.com/s/{{slug}}",
		}},
	)

	vars := Variables{
		OrganizationName:   "Hope Wells",
		StoryTitle:         "Clean Water for Kisumu",
		CurrentAmountCents: 75000,
		GoalAmountCents:    100000,
		Slug:               "clean-water-kisumu",
	}

	doc, err := Resolve(tmpl, testTheme(), nil, "News from {{organization_name}}", vars)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if doc.Subject != "News from Hope Wells" {
		t.Errorf("subject = %q", doc.Subject)
	}
	if doc.Blocks[0].Content.Title != "Clean Water for Kisumu" {
		t.Errorf("header title = %q", doc.Blocks[0].Content.Title)
	}
	if got := doc.Blocks[1].Content.Text; got != "Hope Wells has raised $750 of $1,000" {
		t.Errorf("text = %q", got)
	}
	if got := doc.Blocks[2].Content.URL; got != "https://storyraise.com/s/clean-water-kisumu" {
		t.Errorf("button url = %q", got)
	}
}

func TestResolveToleratesTokenWhitespace(t *testing.T) {
	tmpl := testTemplate(
		Block{Kind: BlockText, Order: 1, Content: BlockContent{
			Text: "{{ organization_name }} raised {{  current_amount  }}",
		}},
	)

	doc, err := Resolve(tmpl, testTheme(), nil, "From {{ organization_name }}", Variables{
		OrganizationName:   "Hope Wells",
		CurrentAmountCents: 75000,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if doc.Subject != "From Hope Wells" {
		t.Errorf("subject = %q", doc.Subject)
	}
	if got := doc.Blocks[0].Content.Text; got != "Hope Wells raised $750" {
		t.Errorf("text = %q", got)
	}
}

func TestBlockDecodesTypeDiscriminator(t *testing.T) {
	raw := []byte(`[{"id":"` + uuid.NewString() + `","type":"progress","order":1,"content":{"raised_cents":500,"goal_cents":1000}}]`)

	var blocks []Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Kind != BlockProgress {
		t.Fatalf("blocks = %+v, want one progress block", blocks)
	}

	out, err := json.Marshal(blocks[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"type":"progress"`) {
		t.Errorf("marshal output %s missing type key", out)
	}
}

func TestResolveLeavesRecipientTokens(t *testing.T) {
	tmpl := testTemplate(
		Block{Kind: BlockText, Order: 1, Content: BlockContent{Text: "Hi {{first_name}}, thanks!"}},
	)

	doc, err := Resolve(tmpl, testTheme(), nil, "s", Variables{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := doc.Blocks[0].Content.Text; got != "Hi {{first_name}}, thanks!" {
		t.Errorf("recipient token should survive resolve, got %q", got)
	}
}

func TestResolveFillsProgressFromStory(t *testing.T) {
	tmpl := testTemplate(Block{Kind: BlockProgress, Order: 1})

	doc, err := Resolve(tmpl, testTheme(), nil, "s", Variables{
		CurrentAmountCents: 25000,
		GoalAmountCents:    100000,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c := doc.Blocks[0].Content
	if c.RaisedCents != 25000 || c.GoalCents != 100000 {
		t.Errorf("progress amounts = %d/%d, want 25000/100000", c.RaisedCents, c.GoalCents)
	}
}

func TestMergeTheme(t *testing.T) {
	base := testTheme()

	tests := []struct {
		name      string
		overrides *ThemeOverrides
		want      Theme
	}{
		{"nil overrides", nil, base},
		{"empty overrides", &ThemeOverrides{}, base},
		{
			"partial override",
			&ThemeOverrides{Primary: "#111111", Accent: "#222222"},
			func() Theme {
				th := base
				th.Primary = "#111111"
				th.Accent = "#222222"
				return th
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeTheme(base, tt.overrides)
			if got != tt.want {
				t.Errorf("MergeTheme = %+v, want %+v", got, tt.want)
			}
			if base.Primary != "#1a1a2e" {
				t.Error("base theme mutated")
			}
		})
	}
}

func TestResolveStyleOverride(t *testing.T) {
	tmpl := testTemplate(Block{
		Kind:    BlockText,
		Order:   1,
		Content: BlockContent{Text: "x"},
		Styling: &StyleOverride{TextColor: "#ff0000", Align: "center"},
	})

	doc, err := Resolve(tmpl, testTheme(), nil, "s", Variables{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	style := doc.Blocks[0].Style
	if style.TextColor != "#ff0000" {
		t.Errorf("text color = %q, want override", style.TextColor)
	}
	if style.Align != "center" {
		t.Errorf("align = %q, want center", style.Align)
	}
	if style.BackgroundColor != "#ffffff" {
		t.Errorf("background = %q, want theme default", style.BackgroundColor)
	}
}

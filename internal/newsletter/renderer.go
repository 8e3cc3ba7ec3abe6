package newsletter

import (
	"fmt"
	"html"
	"math"
	"strings"
)

// RenderDocument renders a resolved document into the full HTML email body.
// Fragments are concatenated in block order inside a fixed email-safe
// wrapper, followed by the unsubscribe footer. Output is deterministic:
// identical documents always produce byte-identical HTML.
func RenderDocument(doc *Document) (string, error) {
	var sb strings.Builder

	sb.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"></head>`)
	fmt.Fprintf(&sb, `<body style="margin:0;padding:0;background-color:%s;">`,
		html.EscapeString(doc.Theme.Background))
	sb.WriteString(`<table role="presentation" width="100%" cellpadding="0" cellspacing="0"><tr><td align="center">`)
	sb.WriteString(`<table role="presentation" width="600" cellpadding="0" cellspacing="0" style="max-width:600px;width:100%;">`)

	for _, b := range doc.Blocks {
		fragment, err := RenderBlock(b)
		if err != nil {
			return "", err
		}
		sb.WriteString(fragment)
	}

	sb.WriteString(renderFooter(doc.Theme))
	sb.WriteString(`</table></td></tr></table></body></html>`)

	return sb.String(), nil
}

// RenderBlock renders one block into an HTML fragment. Dispatch over the
// block kind is exhaustive; an unknown kind is an UnsupportedBlockTypeError,
// never a silent drop.
func RenderBlock(b ResolvedBlock) (string, error) {
	switch b.Kind {
	case BlockHeader:
		return renderHeader(b), nil
	case BlockText:
		return renderText(b), nil
	case BlockImage:
		return renderImage(b), nil
	case BlockButton:
		return renderButton(b), nil
	case BlockProgress:
		return renderProgress(b), nil
	case BlockSpacer:
		return renderSpacer(b), nil
	case BlockDivider:
		return renderDivider(b), nil
	default:
		return "", &UnsupportedBlockTypeError{Kind: b.Kind}
	}
}

func renderHeader(b ResolvedBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<tr><td style="padding:%s;text-align:center;background-color:%s;">`,
		b.Style.Padding, html.EscapeString(b.Style.BackgroundColor))
	fmt.Fprintf(&sb, `<h1 style="margin:0;color:%s;font-size:28px;">%s</h1>`,
		html.EscapeString(b.Style.TextColor), html.EscapeString(b.Content.Title))
	if b.Content.Subtitle != "" {
		fmt.Fprintf(&sb, `<p style="margin:8px 0 0;color:%s;font-size:16px;">%s</p>`,
			html.EscapeString(b.Style.AccentColor), html.EscapeString(b.Content.Subtitle))
	}
	sb.WriteString(`</td></tr>`)
	return sb.String()
}

// renderText escapes the text content entirely; rich text is supplied
// upstream as plain paragraphs, never as raw markup.
func renderText(b ResolvedBlock) string {
	return fmt.Sprintf(
		`<tr><td style="padding:%s;text-align:%s;"><p style="margin:0;color:%s;font-size:15px;line-height:1.6;">%s</p></td></tr>`,
		b.Style.Padding, b.Style.Align,
		html.EscapeString(b.Style.TextColor), html.EscapeString(b.Content.Text))
}

// renderImage renders a visible placeholder when src is empty, never broken
// or empty markup.
func renderImage(b ResolvedBlock) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<tr><td style="padding:%s;text-align:%s;">`, b.Style.Padding, b.Style.Align)
	if strings.TrimSpace(b.Content.Src) == "" {
		fmt.Fprintf(&sb,
			`<div style="background-color:#f0f0f0;border:1px dashed %s;padding:48px 0;color:#999999;font-size:13px;text-align:center;">Image unavailable</div>`,
			html.EscapeString(b.Style.BorderColor))
	} else {
		fmt.Fprintf(&sb, `<img src="%s" alt="%s" width="552" style="max-width:100%%;height:auto;display:block;margin:0 auto;" />`,
			html.EscapeString(b.Content.Src), html.EscapeString(b.Content.Alt))
	}
	if b.Content.Caption != "" {
		fmt.Fprintf(&sb, `<p style="margin:8px 0 0;color:#777777;font-size:12px;">%s</p>`,
			html.EscapeString(b.Content.Caption))
	}
	sb.WriteString(`</td></tr>`)
	return sb.String()
}

func renderButton(b ResolvedBlock) string {
	// Named variant maps to theme colors; anything unrecognized falls back
	// to primary.
	bg := b.Style.AccentColor
	fg := "#ffffff"
	if b.Content.Variant == ButtonSecondary {
		bg = b.Style.BackgroundColor
		fg = b.Style.TextColor
	}
	return fmt.Sprintf(
		`<tr><td style="padding:%s;text-align:%s;"><a href="%s" style="display:inline-block;padding:12px 32px;background-color:%s;color:%s;text-decoration:none;border-radius:4px;font-size:15px;">%s</a></td></tr>`,
		b.Style.Padding, b.Style.Align,
		html.EscapeString(b.Content.URL),
		html.EscapeString(bg), html.EscapeString(fg),
		html.EscapeString(b.Content.Label))
}

func renderProgress(b ResolvedBlock) string {
	pct := ProgressPercent(b.Content.RaisedCents, b.Content.GoalCents)
	var sb strings.Builder
	fmt.Fprintf(&sb, `<tr><td style="padding:%s;">`, b.Style.Padding)
	fmt.Fprintf(&sb,
		`<div style="background-color:#e8e8e8;border-radius:8px;overflow:hidden;"><div style="width:%d%%;background-color:%s;height:16px;"></div></div>`,
		pct, html.EscapeString(b.Style.AccentColor))
	fmt.Fprintf(&sb,
		`<p style="margin:8px 0 0;color:%s;font-size:14px;"><strong>%s</strong> raised of %s goal &middot; %d%%</p>`,
		html.EscapeString(b.Style.TextColor),
		FormatCents(b.Content.RaisedCents), FormatCents(b.Content.GoalCents), pct)
	sb.WriteString(`</td></tr>`)
	return sb.String()
}

func renderSpacer(b ResolvedBlock) string {
	height := b.Content.Height
	if height <= 0 {
		height = 24
	}
	return fmt.Sprintf(`<tr><td style="height:%dpx;line-height:%dpx;font-size:1px;">&nbsp;</td></tr>`, height, height)
}

func renderDivider(b ResolvedBlock) string {
	return fmt.Sprintf(
		`<tr><td style="padding:16px 24px;"><hr style="border:none;border-top:1px solid %s;margin:0;" /></td></tr>`,
		html.EscapeString(b.Style.BorderColor))
}

// renderFooter emits the unsubscribe footer. The unsubscribe URL is a
// recipient-level token resolved by the personalization pass.
func renderFooter(theme Theme) string {
	return fmt.Sprintf(
		`<tr><td style="padding:24px;text-align:center;border-top:1px solid %s;"><p style="margin:0;color:#999999;font-size:12px;">You are receiving this because you follow this story. <a href="{{unsubscribe_url}}" style="color:#999999;">Unsubscribe</a></p></td></tr>`,
		html.EscapeString(theme.Border))
}

// ProgressPercent computes round(raised/goal*100) clamped to [0,100].
// A goal of zero or less forces 0 so there is never a division by zero.
func ProgressPercent(raisedCents, goalCents int64) int {
	if goalCents <= 0 {
		return 0
	}
	pct := int(math.Round(float64(raisedCents) / float64(goalCents) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// FormatCents formats a cent amount as dollars with thousands separators,
// e.g. 100000 -> "$1,000". Fractional cents are shown only when present.
func FormatCents(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}

	dollars := cents / 100
	remainder := cents % 100

	str := fmt.Sprintf("%d", dollars)
	var grouped strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			grouped.WriteRune(',')
		}
		grouped.WriteRune(c)
	}

	out := "$" + grouped.String()
	if remainder != 0 {
		out = fmt.Sprintf("%s.%02d", out, remainder)
	}
	if negative {
		out = "-" + out
	}
	return out
}

package newsletter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Recipient-level token names. Together with the resolve-time variables this
// is the entire token vocabulary; anything else is rejected, never passed
// through silently.
const (
	TokenFirstName      = "first_name"
	TokenUnsubscribeURL = "unsubscribe_url"
)

// FallbackGreeting replaces the first-name token when a recipient has no
// first name on file.
const FallbackGreeting = "Friend"

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Personalizer substitutes per-recipient tokens into rendered content and
// signs unsubscribe URLs.
type Personalizer struct {
	baseURL string
	secret  string
}

// NewPersonalizer creates a personalizer. baseURL is the public tracking
// host (e.g. https://news.storyraise.com) and secret the HMAC signing key
// for unsubscribe tokens.
func NewPersonalizer(baseURL, secret string) *Personalizer {
	return &Personalizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
	}
}

// Message is a fully personalized (subject, htmlBody, unsubscribeUrl)
// triple. Zero unresolved tokens remain in any field.
type Message struct {
	Subject        string
	HTMLBody       string
	UnsubscribeURL string
}

// Personalize substitutes the recipient-level tokens into the campaign's
// subject and rendered body. It returns an UnresolvedTokenError if any token
// survives the pass; callers treat that as fatal, not best effort.
func (p *Personalizer) Personalize(c *Campaign, r *Recipient) (*Message, error) {
	firstName := strings.TrimSpace(r.FirstName)
	if firstName == "" {
		firstName = FallbackGreeting
	}

	unsubURL := p.UnsubscribeURL(c, r)

	tokens := map[string]string{
		TokenFirstName:      firstName,
		TokenUnsubscribeURL: unsubURL,
	}

	msg := &Message{
		Subject:        substitute(c.Subject, tokens, false),
		HTMLBody:       substitute(c.HTMLContent, tokens, true),
		UnsubscribeURL: unsubURL,
	}

	for _, field := range []string{msg.Subject, msg.HTMLBody} {
		if m := tokenPattern.FindStringSubmatch(field); m != nil {
			return nil, &UnresolvedTokenError{Token: m[1]}
		}
	}

	return msg, nil
}

// UnsubscribeURL builds the signed per-recipient unsubscribe URL. The token
// binds organization, originating story (or the organization again for
// org-wide sends), campaign and recipient, so one link can never unsubscribe
// anyone else.
func (p *Personalizer) UnsubscribeURL(c *Campaign, r *Recipient) string {
	scopeID := c.OrganizationID.String()
	if c.StoryID != nil {
		scopeID = c.StoryID.String()
	}
	data := fmt.Sprintf("%s|%s|%s|%s", c.OrganizationID, scopeID, c.ID, r.ID)
	sig := p.sign(data)
	encoded := base64.URLEncoding.EncodeToString([]byte(data))
	return fmt.Sprintf("%s/unsubscribe/%s/%s", p.baseURL, encoded, sig)
}

func (p *Personalizer) sign(data string) string {
	h := hmac.New(sha256.New, []byte(p.secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// substitute replaces the given tokens, tolerating whitespace inside the
// braces. HTML fields get escaped values so a first name can never inject
// markup; the unsubscribe URL is generated locally and inserted verbatim
// in both.
func substitute(s string, tokens map[string]string, escapeValues bool) string {
	if s == "" || !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		value, ok := tokens[name]
		if !ok {
			return match
		}
		if escapeValues && name != TokenUnsubscribeURL {
			value = html.EscapeString(value)
		}
		return value
	})
}

// UnsubscribeToken is the decoded, signature-verified content of an
// unsubscribe link.
type UnsubscribeToken struct {
	OrganizationID uuid.UUID
	ScopeID        uuid.UUID
	CampaignID     uuid.UUID
	RecipientID    uuid.UUID
}

// VerifyUnsubscribe decodes and verifies a signed unsubscribe token. The
// signature check is constant time.
func (p *Personalizer) VerifyUnsubscribe(encoded, sig string) (*UnsubscribeToken, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, NewValidationError("malformed unsubscribe token")
	}
	data := string(raw)
	if !hmac.Equal([]byte(p.sign(data)), []byte(sig)) {
		return nil, NewValidationError("invalid unsubscribe signature")
	}

	parts := strings.Split(data, "|")
	if len(parts) != 4 {
		return nil, NewValidationError("malformed unsubscribe token")
	}

	tok := &UnsubscribeToken{}
	for i, dst := range []*uuid.UUID{&tok.OrganizationID, &tok.ScopeID, &tok.CampaignID, &tok.RecipientID} {
		id, err := uuid.Parse(parts[i])
		if err != nil {
			return nil, NewValidationError("malformed unsubscribe token")
		}
		*dst = id
	}
	return tok, nil
}

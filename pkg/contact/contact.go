package contact

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Contact is the normalized enrichment output for one profile.
type Contact struct {
	Name        string   `json:"name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Emails      []string `json:"emails,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Phones      []string `json:"phones,omitempty"`
	Title       string   `json:"title,omitempty"`
	Company     string   `json:"company,omitempty"`
	Location    string   `json:"location,omitempty"`
	LinkedInURL string   `json:"linkedin_url,omitempty"`
}

// HasUsableData reports whether the contact carries a name, email or phone.
func (c *Contact) HasUsableData() bool {
	if c == nil {
		return false
	}
	return c.Name != "" || c.Email != "" || c.Phone != ""
}

// Field is a canonical contact attribute.
type Field string

const (
	FieldName        Field = "name"
	FieldFirstName   Field = "first_name"
	FieldLastName    Field = "last_name"
	FieldEmail       Field = "email"
	FieldPhone       Field = "phone"
	FieldTitle       Field = "title"
	FieldCompany     Field = "company"
	FieldLocation    Field = "location"
	FieldLinkedInURL Field = "linkedin_url"
)

// Aliases maps each canonical field to the provider keys that may carry it,
// in priority order. Keys are compared case-insensitively.
var Aliases = map[Field][]string{
	FieldName:        {"name", "full_name", "fullName", "display_name"},
	FieldFirstName:   {"first_name", "firstName", "given_name"},
	FieldLastName:    {"last_name", "lastName", "family_name", "surname"},
	FieldEmail:       {"emails", "email", "work_email", "personal_email", "personal_emails", "email_addresses"},
	FieldPhone:       {"phones", "phone", "phone_numbers", "mobile_phone", "mobile", "direct_phone", "sanitized_phone"},
	FieldTitle:       {"title", "job_title", "headline", "position"},
	FieldCompany:     {"company", "company_name", "organization", "organization_name", "employer"},
	FieldLocation:    {"location", "city", "region", "country"},
	FieldLinkedInURL: {"linkedin_url", "linkedinUrl", "linkedin", "profile_url", "url"},
}

// envelopes are keys whose object value is merged into the top level.
var envelopes = []string{"data", "person", "profile", "result"}

// nested object keys that may hold the scalar inside list entries.
var valueKeys = []string{"email", "address", "value", "number", "phone", "sanitized_number", "name"}

var placeholders = map[string]struct{}{
	"":          {},
	"null":      {},
	"none":      {},
	"n/a":       {},
	"na":        {},
	"-":         {},
	"undefined": {},
	"unknown":   {},
}

// Parse decodes a raw provider JSON payload and normalizes it.
func Parse(raw []byte) (*Contact, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &Contact{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse contact payload: %w", err)
	}
	obj, _ := v.(map[string]any)
	return Normalize(obj), nil
}

// Normalize maps an arbitrary provider result object onto Contact.
func Normalize(obj map[string]any) *Contact {
	flat := flatten(obj)

	c := &Contact{}
	c.Name = first(values(flat, FieldName))
	if c.Name == "" {
		parts := make([]string, 0, 2)
		if fn := first(values(flat, FieldFirstName)); fn != "" {
			parts = append(parts, fn)
		}
		if ln := first(values(flat, FieldLastName)); ln != "" {
			parts = append(parts, ln)
		}
		c.Name = strings.Join(parts, " ")
	}

	c.Emails = dedupe(values(flat, FieldEmail), emailKey)
	c.Email = first(c.Emails)
	c.Phones = dedupe(values(flat, FieldPhone), phoneKey)
	c.Phone = first(c.Phones)
	c.Title = first(values(flat, FieldTitle))
	c.Company = first(values(flat, FieldCompany))
	c.Location = first(values(flat, FieldLocation))
	c.LinkedInURL = first(values(flat, FieldLinkedInURL))
	return c
}

// flatten merges envelope objects into one lower-cased key map. Outer keys
// win over inner ones.
func flatten(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	var walk func(m map[string]any, depth int)
	walk = func(m map[string]any, depth int) {
		for k, v := range m {
			key := strings.ToLower(k)
			if isEnvelope(key) {
				continue
			}
			if _, ok := out[key]; !ok {
				out[key] = v
			}
		}
		if depth >= 4 {
			return
		}
		for _, env := range envelopes {
			for k, v := range m {
				if strings.ToLower(k) != env {
					continue
				}
				if inner, ok := v.(map[string]any); ok {
					walk(inner, depth+1)
				}
			}
		}
	}
	if obj != nil {
		walk(obj, 0)
	}
	return out
}

func isEnvelope(key string) bool {
	for _, env := range envelopes {
		if key == env {
			return true
		}
	}
	return false
}

// values collects every scalar found under the field's aliases, in alias
// priority order.
func values(flat map[string]any, f Field) []string {
	var out []string
	for _, alias := range Aliases[f] {
		v, ok := flat[strings.ToLower(alias)]
		if !ok {
			continue
		}
		out = append(out, scalars(v)...)
	}
	return out
}

func scalars(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := clean(t); s != "" {
			return []string{s}
		}
		return nil
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case json.Number:
		return []string{t.String()}
	case bool:
		return nil
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, scalars(item)...)
		}
		return out
	case map[string]any:
		for _, k := range valueKeys {
			for mk, mv := range t {
				if strings.ToLower(mk) == k {
					if s := scalars(mv); len(s) > 0 {
						return s[:1]
					}
				}
			}
		}
		return nil
	default:
		return nil
	}
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if _, ok := placeholders[strings.ToLower(s)]; ok {
		return ""
	}
	return s
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func dedupe(vs []string, key func(string) string) []string {
	if len(vs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(vs))
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		k := key(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func emailKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func phoneKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

package snitch

import "strings"

// DefaultTemplate is used when a group has no message override.
const DefaultTemplate = "Snitching on {{author}} for saying {{words}}"

// TemplateContext carries the values substituted into a notification body.
type TemplateContext struct {
	Author  string
	Words   []string // matched words, joined with " and "
	Server  string
	Channel string
}

// Render substitutes {{author}}, {{words}}, {{server}} and {{channel}} in
// tmpl. Each token is replaced in a single pass over the input, so a
// substituted value that itself contains a token marker is left alone.
// There is no escaping syntax for template authors.
func Render(tmpl string, c TemplateContext) string {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	r := strings.NewReplacer(
		"{{author}}", c.Author,
		"{{words}}", strings.Join(c.Words, " and "),
		"{{server}}", c.Server,
		"{{channel}}", c.Channel,
	)
	return r.Replace(tmpl)
}

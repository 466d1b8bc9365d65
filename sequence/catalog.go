package sequence

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"dripline/models"
)

// Step is one entry of the campaign catalog
type Step struct {
	Key     string
	Subject string
	Body    string
}

type compiledStep struct {
	key     string
	subject *texttemplate.Template
	body    *template.Template
}

// Catalog is the fixed, ordered list of sequence steps. It is immutable once built
// and safe to share between goroutines.
type Catalog struct {
	steps []compiledStep
}

// TemplateData is what subject and body templates are executed against
type TemplateData struct {
	Name      string
	Company   string
	Email     string
	StepIndex int
	Total     int
	Year      int
}

// Rendered is a catalog step filled in for one recipient
type Rendered struct {
	Key     string
	Subject string
	HTML    string
}

// NewCatalog compiles the given steps in order
func NewCatalog(steps ...Step) (*Catalog, error) {
	if len(steps) == 0 {
		return nil, errors.New("catalog needs at least one step")
	}

	seen := make(map[string]bool, len(steps))
	compiled := make([]compiledStep, 0, len(steps))
	for i, s := range steps {
		if s.Key == "" {
			return nil, fmt.Errorf("step %d has no key", i+1)
		}
		if s.Key == models.ManualTemplateKey {
			return nil, fmt.Errorf("step key %q is reserved", s.Key)
		}
		if seen[s.Key] {
			return nil, fmt.Errorf("duplicate step key %q", s.Key)
		}
		seen[s.Key] = true

		subject, err := texttemplate.New(s.Key + ".subject").Option("missingkey=zero").Parse(s.Subject)
		if err != nil {
			return nil, fmt.Errorf("error parsing subject of %q: %w", s.Key, err)
		}
		body, err := template.New(s.Key + ".body").Option("missingkey=zero").Parse(s.Body)
		if err != nil {
			return nil, fmt.Errorf("error parsing body of %q: %w", s.Key, err)
		}
		compiled = append(compiled, compiledStep{key: s.Key, subject: subject, body: body})
	}

	return &Catalog{steps: compiled}, nil
}

// MustCatalog is NewCatalog for static configuration known to be valid
func MustCatalog(steps ...Step) *Catalog {
	c, err := NewCatalog(steps...)
	if err != nil {
		panic(err)
	}
	return c
}

// Len is the number of steps
func (c *Catalog) Len() int {
	return len(c.steps)
}

// Keys lists step keys in order
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.steps))
	for i, s := range c.steps {
		keys[i] = s.key
	}
	return keys
}

// Render fills in the step at the 1-based stepIndex for the recipient
func (c *Catalog) Render(stepIndex int, r *models.Recipient) (*Rendered, error) {
	if stepIndex < 1 || stepIndex > len(c.steps) {
		return nil, fmt.Errorf("step %d out of range 1..%d", stepIndex, len(c.steps))
	}
	step := c.steps[stepIndex-1]

	data := TemplateData{
		Name:      r.Name,
		Company:   r.Company,
		Email:     r.ContactAddress,
		StepIndex: stepIndex,
		Total:     len(c.steps),
		Year:      time.Now().Year(),
	}

	var subject, body bytes.Buffer
	if err := step.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("error executing subject of %q: %w", step.key, err)
	}
	if err := step.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("error executing body of %q: %w", step.key, err)
	}

	return &Rendered{Key: step.key, Subject: subject.String(), HTML: body.String()}, nil
}

// DefaultCatalog is the agency's three-step outreach campaign
var DefaultCatalog = MustCatalog(
	Step{
		Key:     "introduction",
		Subject: "{{if .Company}}Quick idea for {{.Company}}{{else}}Quick introduction{{end}}",
		Body: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px;">
    <p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
    <p>We are a small studio that designs and builds websites and internal tools for growing teams.
    {{if .Company}}We took a look at {{.Company}} and think there is room to make your site work harder for you.{{end}}</p>
    <p>Would a 20 minute call next week be useful?</p>
    <p>Best regards</p>
</body>
</html>`,
	},
	Step{
		Key:     "follow_up",
		Subject: "Following up{{if .Name}}, {{.Name}}{{end}}",
		Body: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px;">
    <p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
    <p>Just bringing my last note back to the top of your inbox. Happy to share a few concrete ideas
    before any call, no strings attached.</p>
    <p>Best regards</p>
</body>
</html>`,
	},
	Step{
		Key:     "case_study",
		Subject: "How we helped a team like {{if .Company}}{{.Company}}{{else}}yours{{end}}",
		Body: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px;">
    <p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
    <p>One last note from me: a recent client rebuilt their marketing site and booking flow with us
    and doubled inbound enquiries within a quarter. I would be glad to walk you through the case study.</p>
    <p>If the timing is wrong, no worries, I will not follow up again.</p>
    <p>© {{.Year}}</p>
</body>
</html>`,
	},
)

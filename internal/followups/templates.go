package followups

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"travel_crm_backend/internal/leads/domain"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalogYAML []byte

var placeholderPattern = regexp.MustCompile(`{{\s*([A-Za-z_][A-Za-z0-9_]*)\s*}}`)

const (
	phGreeting    = "saudacao"
	phName        = "nome"
	phDestination = "destino"
	phDeparture   = "data_ida"
	phReturn      = "data_volta"
	phChecklist   = "checklist"
	phAgency      = "agencia"
	phSummary     = "resumo"
)

var knownPlaceholders = map[string]struct{}{
	phGreeting: {}, phName: {}, phDestination: {}, phDeparture: {},
	phReturn: {}, phChecklist: {}, phAgency: {}, phSummary: {},
}

const (
	fallbackName        = "você"
	fallbackDestination = "seu destino"
	fallbackDate        = "data a confirmar"
	fallbackAgency      = "nossa agência"
	displayDateLayout   = "02/01/2006"
)

// Template is one catalogue entry.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type catalogFile struct {
	Templates  map[string]Template `yaml:"templates"`
	Checklists map[string][]string `yaml:"checklists"`
}

// Catalog holds the message templates and the travel checklists.
// It is read-only after loading.
type Catalog struct {
	templates  map[string]Template
	checklists map[string][]string
}

// DefaultCatalog parses the embedded catalogue.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads an override file and layers it over the embedded
// catalogue, so an override only needs the entries it changes.
// An empty path returns the embedded catalogue.
func LoadCatalog(path string) (*Catalog, error) {
	base, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalogue: %w", err)
	}
	override, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	for key, tpl := range override.templates {
		base.templates[key] = tpl
	}
	for key, items := range override.checklists {
		base.checklists[key] = items
	}
	return base, nil
}

// ParseCatalog decodes and validates a YAML catalogue.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalogue: %w", err)
	}

	c := &Catalog{
		templates:  make(map[string]Template, len(file.Templates)),
		checklists: make(map[string][]string, len(file.Checklists)),
	}
	for key, tpl := range file.Templates {
		if strings.TrimSpace(tpl.Body) == "" {
			return nil, fmt.Errorf("template %q has an empty body", key)
		}
		for _, text := range []string{tpl.Subject, tpl.Body} {
			if name, ok := unknownPlaceholder(text); ok {
				return nil, fmt.Errorf("template %q uses unknown placeholder {{%s}}", key, name)
			}
		}
		c.templates[key] = tpl
	}
	for key, items := range file.Checklists {
		c.checklists[strings.ToLower(key)] = items
	}
	return c, nil
}

// Validate checks that every rule has a template.
func (c *Catalog) Validate(rules Rules) error {
	var missing []string
	for _, r := range rules {
		if _, ok := c.templates[r.Template]; !ok {
			missing = append(missing, r.Template)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing templates: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TemplateVars is the data a message is rendered from.
type TemplateVars struct {
	Name        string
	Destination string
	Departure   *time.Time
	Return      *time.Time
	TravelType  domain.TravelType
	Agency      string
	// LocalTime picks the greeting; it should already be in the agency time zone.
	LocalTime time.Time
}

// VarsFor builds template data from a lead snapshot.
func VarsFor(lead domain.Lead, m Moment, agency string) TemplateVars {
	return TemplateVars{
		Name:        lead.Name,
		Destination: lead.Destination,
		Departure:   lead.DepartureDate,
		Return:      lead.ReturnDate,
		TravelType:  lead.TravelType,
		Agency:      agency,
		LocalTime:   m.Local(),
	}
}

// Rendered is a message ready for delivery.
type Rendered struct {
	Subject string
	Body    string
}

// Render fills the named template. Missing values fall back to generic text.
func (c *Catalog) Render(key string, vars TemplateVars) (Rendered, error) {
	tpl, ok := c.templates[key]
	if !ok {
		return Rendered{}, fmt.Errorf("template %q not found", key)
	}

	values := c.values(vars)
	return Rendered{
		Subject: strings.Join(strings.Fields(fill(tpl.Subject, values)), " "),
		Body:    normalizeMessage(fill(tpl.Body, values)),
	}, nil
}

func (c *Catalog) values(v TemplateVars) map[string]string {
	return map[string]string{
		phGreeting:    greetingFor(v.LocalTime),
		phName:        firstName(v.Name),
		phDestination: orFallback(v.Destination, fallbackDestination),
		phDeparture:   displayDate(v.Departure),
		phReturn:      displayDate(v.Return),
		phChecklist:   bulletList(c.checklistFor(v.TravelType)),
		phAgency:      orFallback(v.Agency, fallbackAgency),
		phSummary:     tripSummary(v),
	}
}

func (c *Catalog) checklistFor(t domain.TravelType) []string {
	if items, ok := c.checklists[string(t)]; ok && t != "" {
		return items
	}
	return c.checklists["generic"]
}

func fill(text string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		return values[strings.ToLower(sub[1])]
	})
}

func unknownPlaceholder(text string) (string, bool) {
	for _, sub := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if _, ok := knownPlaceholders[strings.ToLower(sub[1])]; !ok {
			return sub[1], true
		}
	}
	return "", false
}

// firstName takes the first word of a full name and title-cases it in pt-BR.
func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return fallbackName
	}
	return cases.Title(language.BrazilianPortuguese).String(parts[0])
}

func greetingFor(local time.Time) string {
	switch h := local.Hour(); {
	case h >= 5 && h < 12:
		return "Bom dia"
	case h >= 12 && h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

func displayDate(d *time.Time) string {
	if d == nil || d.IsZero() {
		return fallbackDate
	}
	return d.Format(displayDateLayout)
}

func orFallback(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "• "+item)
		}
	}
	return strings.Join(lines, "\n")
}

func tripSummary(v TemplateVars) string {
	var items []string
	if dest := strings.TrimSpace(v.Destination); dest != "" {
		items = append(items, "Destino: "+dest)
	}
	if v.Departure != nil {
		items = append(items, "Ida: "+displayDate(v.Departure))
	}
	if v.Return != nil {
		items = append(items, "Volta: "+displayDate(v.Return))
	}
	switch v.TravelType {
	case domain.TravelDomestic:
		items = append(items, "Tipo: Nacional")
	case domain.TravelInternational:
		items = append(items, "Tipo: Internacional")
	}
	if len(items) == 0 {
		items = append(items, "Detalhes da viagem a confirmar")
	}
	return bulletList(items)
}

// normalizeMessage trims each line, collapses runs of spaces and keeps at
// most one blank line between paragraphs.
func normalizeMessage(value string) string {
	lines := strings.Split(value, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmed := strings.Join(strings.Fields(line), " ")
		if trimmed == "" {
			if blank || len(cleaned) == 0 {
				continue
			}
			blank = true
			cleaned = append(cleaned, "")
			continue
		}
		blank = false
		cleaned = append(cleaned, trimmed)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

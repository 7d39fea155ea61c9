package campaign

import (
	"strings"

	"github.com/simsocial/conversation-orchestrator/internal/model"
)

// ResolveParameters renders the template body parameters for one recipient.
// Per-recipient overrides win, then "field" parameters resolve against the
// contact (with "custom.<key>" reaching into custom fields), and "value"
// parameters pass through literally. A field that resolves to nothing falls
// back to the contact's name so the template never renders an empty slot.
func ResolveParameters(c *model.Campaign, recipient *model.CampaignContact, contact *model.Contact) []string {
	params := make([]string, 0, len(c.TemplateParameters))
	for _, p := range c.TemplateParameters {
		if v, ok := recipient.PersonalizedParameters[p.Value]; ok && v != "" {
			params = append(params, v)
			continue
		}
		if p.Type == "field" {
			v := contactField(contact, p.Value)
			if v == "" {
				v = contact.Name
			}
			params = append(params, v)
			continue
		}
		params = append(params, p.Value)
	}
	return params
}

func contactField(contact *model.Contact, field string) string {
	switch field {
	case "name":
		return contact.Name
	case "phone_number":
		return contact.PhoneNumber
	}
	if key, ok := strings.CutPrefix(field, "custom."); ok {
		return contact.CustomFields[key]
	}
	return ""
}

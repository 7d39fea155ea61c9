package chatbot

import (
	"context"
	"fmt"
	"strings"
)

// Unit is a social-assistance service unit (CRAS) returned by a lookup.
type Unit struct {
	Name    string
	Address string
	Phone   string
	Hours   string
}

// Locator resolves the service unit responsible for a location. The location
// is either an 8-digit postal code or "lat,lng" coordinates.
type Locator interface {
	Nearest(ctx context.Context, location string) (*Unit, error)
}

// StaticLocator resolves units from an in-memory table keyed by postal code
// prefix. Coordinates fall back to the default unit.
type StaticLocator struct {
	units       map[string]Unit
	defaultUnit Unit
}

// NewStaticLocator creates a locator with the bundled unit table.
func NewStaticLocator() *StaticLocator {
	return &StaticLocator{
		units: map[string]Unit{
			"01": {Name: "CRAS Sé", Address: "Rua do Carmo, 171 - Sé", Phone: "(11) 3396-3500", Hours: "segunda a sexta, 8h às 17h"},
			"02": {Name: "CRAS Santana", Address: "Rua Voluntários da Pátria, 1553 - Santana", Phone: "(11) 2281-4066", Hours: "segunda a sexta, 8h às 17h"},
			"03": {Name: "CRAS Mooca", Address: "Rua Síria, 300 - Mooca", Phone: "(11) 2692-4454", Hours: "segunda a sexta, 8h às 17h"},
			"04": {Name: "CRAS Vila Mariana", Address: "Rua Madre Cabrini, 99 - Vila Mariana", Phone: "(11) 5083-4120", Hours: "segunda a sexta, 8h às 17h"},
			"05": {Name: "CRAS Butantã", Address: "Av. Ministro Laudo Ferreira de Camargo, 320 - Butantã", Phone: "(11) 3743-0303", Hours: "segunda a sexta, 8h às 17h"},
		},
		defaultUnit: Unit{
			Name:    "CRAS Central",
			Address: "Rua Líbero Badaró, 569 - Centro",
			Phone:   "(11) 3113-9000",
			Hours:   "segunda a sexta, 8h às 17h",
		},
	}
}

// Nearest implements Locator.
func (l *StaticLocator) Nearest(_ context.Context, location string) (*Unit, error) {
	digits := onlyDigits(location)
	if len(digits) >= 2 && !strings.Contains(location, ",") {
		if unit, ok := l.units[digits[:2]]; ok {
			return &unit, nil
		}
	}
	unit := l.defaultUnit
	return &unit, nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Describe renders the unit for a chat reply.
func (u *Unit) Describe() string {
	return fmt.Sprintf("%s\nEndereço: %s\nTelefone: %s\nHorário: %s", u.Name, u.Address, u.Phone, u.Hours)
}

// internal/model/property.go
package model

import (
	"fmt"
	"strings"
	"time"
)

type Property struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	Alias        string `db:"alias" json:"alias,omitempty"`
	StreetNumber string `db:"street_number" json:"street_number"`
	StreetName   string `db:"street_name" json:"street_name"`
	Unit         string `db:"unit" json:"unit,omitempty"`
	City         string `db:"city" json:"city"`
	State        string `db:"state" json:"state"`
	ZipCode      string `db:"zip_code" json:"zip_code"`
}

// Address formats the property as "123 Main Street, Boston, MA 02101".
func (p *Property) Address() string {
	street := strings.TrimSpace(p.StreetNumber + " " + p.StreetName)
	if p.Unit != "" {
		street += " " + p.Unit
	}
	return fmt.Sprintf("%s, %s, %s %s", street, p.City, p.State, p.ZipCode)
}

// Allocation is the share of a single receipt assigned to a property.
type Allocation struct {
	ReceiptID   int64     `db:"receipt_id" json:"receipt_id"`
	Description string    `db:"description" json:"description"`
	Amount      float64   `db:"amount" json:"amount"`
	ReceiptDate time.Time `db:"receipt_date" json:"receipt_date"`
	Year        int       `db:"receipt_year" json:"year"`
	Portion     float64   `db:"portion" json:"portion"`
	Percentage  int       `db:"percentage" json:"percentage"`
	SourceName  string    `db:"source_name" json:"source_name,omitempty"`
}

// AllocationsForYear keeps the allocations whose receipt year matches.
func AllocationsForYear(items []Allocation, year int) []Allocation {
	out := make([]Allocation, 0, len(items))
	for _, item := range items {
		if item.Year == year {
			out = append(out, item)
		}
	}
	return out
}

// TotalPortion sums the allocated portion of every item.
func TotalPortion(items []Allocation) float64 {
	var total float64
	for _, item := range items {
		total += item.Portion
	}
	return total
}

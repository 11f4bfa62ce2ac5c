// services/format.go
package services

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

// FormatMoney renders cents as "$12.50" for USD and "12.50 CAD" otherwise.
func FormatMoney(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	currency = strings.ToUpper(currency)
	if currency == "" || currency == "USD" {
		return "$" + amount
	}
	return amount + " " + currency
}

// DisplayName title-cases a person's name as it appears on passes and emails.
func DisplayName(given, family string) string {
	name := strings.Join(strings.Fields(given+" "+family), " ")
	return titleCaser.String(strings.ToLower(name))
}

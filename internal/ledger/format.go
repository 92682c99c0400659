package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	upper         = cases.Upper(language.Und)
	csvSpecial    = strings.NewReplacer(",", " ", `"`, " ")
	displayPrefix = regexp.MustCompile(`^T[01]-`)
)

// FormatName builds the display name stored for a transaction, for example
// "T1-GROCERIES". Commas and double quotes are dropped so export rows never
// need quoting.
func FormatName(name string, typ TxType) string {
	return fmt.Sprintf("T%d-%s", int16(typ), sanitizeName(name))
}

// BaseName strips the type prefix from a display name.
func BaseName(display string) string {
	return displayPrefix.ReplaceAllString(display, "")
}

func sanitizeName(name string) string {
	name = csvSpecial.Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	return upper.String(name)
}

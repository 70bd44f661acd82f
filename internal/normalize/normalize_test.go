package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostcode(t *testing.T) {
	assert.Equal(t, "AA11AA", Postcode("aa1 1aa"))
	assert.Equal(t, "AA11AA", Postcode("AA1-1AA"))
	assert.Equal(t, "", Postcode("   "))
	assert.Equal(t, "", Postcode(""))
}

func TestPostcodeDisplay(t *testing.T) {
	assert.Equal(t, "AA1 1AA", PostcodeDisplay("aa11aa"))
	assert.Equal(t, "BT1 1AA", PostcodeDisplay("bt11aa"))
	assert.Equal(t, "AB1", PostcodeDisplay("ab1"))
	assert.Equal(t, "", PostcodeDisplay(""))
}

func TestStreetCasefold_Basic(t *testing.T) {
	c := NewStreetCasefolder(".,'-", nil)
	assert.Equal(t, "MAIN STREET", c.Casefold("  Main   Street.  "))
	assert.Equal(t, "ST MARYS CLOSE", c.Casefold("St. Mary's Close"))
	assert.Equal(t, "", c.Casefold("   ...   "))
}

func TestStreetCasefold_AliasSubstitution(t *testing.T) {
	c := NewStreetCasefolder(".,'-", map[string]string{"st": "STREET", "rd": "ROAD"})
	assert.Equal(t, "HIGH STREET", c.Casefold("High St"))
	assert.Equal(t, "LONDON ROAD", c.Casefold("London Rd"))
}

func TestStreetCasefold_NFKC(t *testing.T) {
	c := NewStreetCasefolder("", nil)
	// Fullwidth characters should normalise to their ASCII equivalents.
	assert.Equal(t, "ABC STREET", c.Casefold("ＡＢＣ Street"))
}

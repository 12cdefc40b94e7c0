package catalog

import (
	"fmt"
	"os"
)

// Template is a demo forecourt: three fuels, five pumps and one open
// transaction waiting on pump 3.
const Template = `[[products]]
id = "0010"
category = "ron98"
vat_rate = 0.19

[[products]]
id = "0020"
category = "diesel"
vat_rate = 0.19

[[products]]
id = "0030"
category = "ron95e5"
vat_rate = 0.19

[[prices]]
product_id = "0010"
unit = "LTR"
currency = "EUR"
price_per_unit = 1.759
description = "SuperPlus"

[[prices]]
product_id = "0020"
unit = "LTR"
currency = "EUR"
price_per_unit = 1.439
description = "Diesel"

[[prices]]
product_id = "0030"
unit = "LTR"
currency = "EUR"
price_per_unit = 1.659
description = "Super95"

[[pumps]]
id = 1
status = "free"

[[pumps]]
id = 2
status = "free"

[[pumps]]
id = 3
status = "ready-to-pay"

[[pumps]]
id = 4
status = "free"

[[pumps]]
id = 5
status = "free"

[[transactions]]
pump_id = 3
site_transaction_id = "asdf"
status = "open"
product_id = "0010"
currency = "EUR"
price_with_vat = 59.50
price_without_vat = 50.00
vat_rate = 0.19
vat_amount = 9.50
unit = "LTR"
volume = 47.11
price_per_unit = 1.119

[[receipts]]
site_transaction_id = "asdf"
key = "station"
value = "demo-site"
`

// Demo returns a site built from Template.
func Demo() (*Site, error) {
	return Parse([]byte(Template))
}

// WriteTemplate writes Template to path. An existing file is kept unless
// overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("catalog: file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

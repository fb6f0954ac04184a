package scheduler

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"paydash/internal/metadata"
)

var companiesByRegion = map[string][]string{
	"US": {
		"Verizon Communications", "AT&T Inc", "T-Mobile US", "Comcast Corporation",
		"Kinder Morgan", "Enterprise Products Partners", "Sempra Energy",
		"Berkshire Hathaway", "Progressive Corporation", "Allstate Corporation", "USAA",
	},
	"AU": {
		"Telstra Corporation", "Optus", "Vodafone Australia", "TPG Telecom",
		"AGL Energy", "Origin Energy", "EnergyAustralia", "Alinta Energy",
		"Suncorp Group", "IAG Group", "QBE Insurance", "NRMA Insurance",
	},
	"UK": {
		"BT Group", "Vodafone UK", "EE Limited", "Three UK", "Sky UK", "Virgin Media",
		"British Gas", "E.ON UK", "EDF Energy", "Octopus Energy",
		"Aviva", "Legal & General", "Admiral Group", "Direct Line Group",
	},
}

var regions = []string{"US", "AU", "UK"}

var currencies = map[string]struct{ code, symbol string }{
	"US": {"USD", "$"},
	"AU": {"AUD", "A$"},
	"UK": {"GBP", "£"},
}

// amount draws from a skewed distribution: most batches cluster around 65,
// a fifth are small and a tenth are large.
func (d *Driver) amount() decimal.Decimal {
	var v float64
	switch r := d.faker.Rand.Float64(); {
	case r < 0.70:
		v = d.faker.Rand.NormFloat64()*8 + 65
		if v < 50 {
			v = 50
		}
		if v > 80 {
			v = 80
		}
	case r < 0.90:
		v = 20 + d.faker.Rand.Float64()*29
	default:
		v = 81 + d.faker.Rand.Float64()*119
	}
	return decimal.NewFromFloat(v).Round(2)
}

func (d *Driver) batchMetadata() (string, error) {
	region := d.faker.RandomString(regions)
	company := d.faker.RandomString(companiesByRegion[region])
	amount := d.amount()
	cur := currencies[region]

	return metadata.Encode(metadata.Fields{
		Company:   company,
		CompanyID: companyID(company),
		Amount:    amount,
		HasAmount: true,
		Currency:  cur.code,
		Region:    region,
		Extra: map[string]string{
			"source":           "automated",
			"batch":            strconv.Itoa(d.faker.Number(0, 999)),
			"priority":         d.faker.RandomString([]string{"high", "normal"}),
			"formatted_amount": cur.symbol + amount.StringFixed(2),
			"reference":        d.faker.UUID(),
		},
	})
}

func (d *Driver) itemMetadata(batchID string, index int) (string, error) {
	return metadata.Encode(metadata.Fields{
		Amount:    d.amount(),
		HasAmount: true,
		Extra: map[string]string{
			"batch_id":  batchID,
			"item":      strconv.Itoa(index + 1),
			"payee":     d.faker.Name(),
			"reference": d.faker.UUID(),
		},
	})
}

// companyID derives a stable identifier so breakdowns group consistently.
func companyID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

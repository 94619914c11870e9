package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/omerc321/washapp-sub002/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Rates holds the platform-wide fee parameters. Money values are in fils and
// percentages are whole-number percents (5 means 5%).
type Rates struct {
	VATPercent             decimal.Decimal
	PayPerWashFlatFee      int64
	PayPerWashPercent      decimal.Decimal
	ProcessingFlatFee      int64
	ProcessingPercent      decimal.Decimal
	SubscriptionBlockSize  int
	SubscriptionBlockPrice int64
}

// DefaultRates returns the published marketplace rates.
func DefaultRates() Rates {
	return Rates{
		VATPercent:             decimal.NewFromInt(5),
		PayPerWashFlatFee:      200,
		PayPerWashPercent:      decimal.NewFromInt(5),
		ProcessingFlatFee:      100,
		ProcessingPercent:      decimal.RequireFromString("2.5"),
		SubscriptionBlockSize:  10,
		SubscriptionBlockPrice: 50000,
	}
}

// Breakdown is the charged decomposition of one job.
type Breakdown struct {
	PackageType    domain.PackageType `json:"package_type"`
	BaseAmount     int64              `json:"base_amount"`
	BaseTax        int64              `json:"base_tax"`
	TipAmount      int64              `json:"tip_amount"`
	TipTax         int64              `json:"tip_tax"`
	PlatformFee    int64              `json:"platform_fee"`
	PlatformFeeTax int64              `json:"platform_fee_tax"`
	ProcessingFee  int64              `json:"processing_fee"`
	GrossAmount    int64              `json:"gross_amount"`
	NetPayable     int64              `json:"net_payable"`
}

// FeePolicy computes the breakdown for one package type. The set of
// implementations is closed: PayPerWash, Custom, Offline and Subscription.
type FeePolicy interface {
	PackageType() domain.PackageType
	Quote(base, tip int64) (Breakdown, error)
	sealed()
}

// PayPerWash charges a flat plus percentage platform fee and VAT on base and fee.
type PayPerWash struct {
	FlatFee    int64
	Percent    decimal.Decimal
	VATPercent decimal.Decimal
}

// Custom charges an admin-set flat platform fee and VAT on base and fee.
type Custom struct {
	FlatFee    int64
	VATPercent decimal.Decimal
}

// Offline models VAT only.
type Offline struct {
	VATPercent decimal.Decimal
}

// Subscription companies pay a monthly slot fee; per job only a processing fee and VAT apply.
type Subscription struct {
	ProcessingFlatFee int64
	ProcessingPercent decimal.Decimal
	VATPercent        decimal.Decimal
}

func (PayPerWash) PackageType() domain.PackageType   { return domain.PackagePayPerWash }
func (Custom) PackageType() domain.PackageType       { return domain.PackageCustom }
func (Offline) PackageType() domain.PackageType      { return domain.PackageOffline }
func (Subscription) PackageType() domain.PackageType { return domain.PackageSubscription }

func (PayPerWash) sealed()   {}
func (Custom) sealed()       {}
func (Offline) sealed()      {}
func (Subscription) sealed() {}

func (p PayPerWash) Quote(base, tip int64) (Breakdown, error) {
	if err := validateAmounts(base, tip); err != nil {
		return Breakdown{}, err
	}
	fee := p.FlatFee + percentOf(base, p.Percent)
	return withPlatformFee(p.PackageType(), base, tip, fee, p.VATPercent), nil
}

func (p Custom) Quote(base, tip int64) (Breakdown, error) {
	if err := validateAmounts(base, tip); err != nil {
		return Breakdown{}, err
	}
	return withPlatformFee(p.PackageType(), base, tip, p.FlatFee, p.VATPercent), nil
}

func (p Offline) Quote(base, tip int64) (Breakdown, error) {
	if err := validateAmounts(base, tip); err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{
		PackageType: p.PackageType(),
		BaseAmount:  base,
		BaseTax:     percentOf(base, p.VATPercent),
		TipAmount:   tip,
		TipTax:      percentOf(tip, p.VATPercent),
	}
	b.GrossAmount = b.BaseAmount + b.BaseTax + b.TipAmount + b.TipTax
	b.NetPayable = base + tip
	return b, nil
}

func (p Subscription) Quote(base, tip int64) (Breakdown, error) {
	if err := validateAmounts(base, tip); err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{
		PackageType:   p.PackageType(),
		BaseAmount:    base,
		BaseTax:       percentOf(base, p.VATPercent),
		TipAmount:     tip,
		TipTax:        percentOf(tip, p.VATPercent),
		ProcessingFee: p.ProcessingFlatFee + percentOf(base, p.ProcessingPercent),
	}
	b.GrossAmount = b.BaseAmount + b.BaseTax + b.TipAmount + b.TipTax + b.ProcessingFee
	b.NetPayable = base + tip - b.ProcessingFee
	return b, nil
}

// withPlatformFee applies VAT to base+fee as one amount and splits it so the
// two tax lines always sum to the VAT on the combined total.
func withPlatformFee(pkg domain.PackageType, base, tip, fee int64, vat decimal.Decimal) Breakdown {
	combinedTax := percentOf(base+fee, vat)
	b := Breakdown{
		PackageType: pkg,
		BaseAmount:  base,
		BaseTax:     percentOf(base, vat),
		TipAmount:   tip,
		TipTax:      percentOf(tip, vat),
		PlatformFee: fee,
	}
	b.PlatformFeeTax = combinedTax - b.BaseTax
	b.GrossAmount = b.BaseAmount + b.BaseTax + b.TipAmount + b.TipTax + b.PlatformFee + b.PlatformFeeTax
	b.NetPayable = base + tip - fee
	return b
}

// ResolvePolicy picks the fee strategy for a company. It runs once when the
// company is registered and again whenever a company is loaded for pricing.
func ResolvePolicy(company domain.Company, rates Rates) (FeePolicy, error) {
	switch company.PackageType {
	case domain.PackagePayPerWash:
		return PayPerWash{FlatFee: rates.PayPerWashFlatFee, Percent: rates.PayPerWashPercent, VATPercent: rates.VATPercent}, nil
	case domain.PackageCustom:
		if company.CustomPlatformFee < 0 {
			return nil, fmt.Errorf("custom platform fee for company %s is negative: %w", company.ID, domain.ErrInvalidAmount)
		}
		return Custom{FlatFee: company.CustomPlatformFee, VATPercent: rates.VATPercent}, nil
	case domain.PackageOffline:
		return Offline{VATPercent: rates.VATPercent}, nil
	case domain.PackageSubscription:
		return Subscription{
			ProcessingFlatFee: rates.ProcessingFlatFee,
			ProcessingPercent: rates.ProcessingPercent,
			VATPercent:        rates.VATPercent,
		}, nil
	default:
		return nil, fmt.Errorf("package %q: %w", company.PackageType, domain.ErrInvalidPackage)
	}
}

// SubscriptionQuote is the monthly fee for a subscription company.
type SubscriptionQuote struct {
	Cleaners   int   `json:"cleaners"`
	Slots      int   `json:"slots"`
	Blocks     int   `json:"blocks"`
	MonthlyFee int64 `json:"monthly_fee"`
}

// SubscriptionFee rounds cleanerCount up to whole blocks of slots.
func SubscriptionFee(cleanerCount int, rates Rates) SubscriptionQuote {
	size := rates.SubscriptionBlockSize
	if size <= 0 {
		size = 10
	}
	if cleanerCount < 0 {
		cleanerCount = 0
	}
	blocks := (cleanerCount + size - 1) / size
	return SubscriptionQuote{
		Cleaners:   cleanerCount,
		Slots:      blocks * size,
		Blocks:     blocks,
		MonthlyFee: int64(blocks) * rates.SubscriptionBlockPrice,
	}
}

// OfflineAmounts returns the VAT and total for a manually recorded wash.
func OfflineAmounts(servicePrice int64, vat decimal.Decimal) (vatAmount, total int64) {
	vatAmount = percentOf(servicePrice, vat)
	return vatAmount, servicePrice + vatAmount
}

// percentOf rounds half away from zero to the nearest fil.
func percentOf(amount int64, percent decimal.Decimal) int64 {
	if amount == 0 || percent.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

func validateAmounts(base, tip int64) error {
	if base <= 0 {
		return domain.ErrInvalidAmount
	}
	if tip < 0 {
		return fmt.Errorf("tip cannot be negative: %w", domain.ErrInvalidAmount)
	}
	return nil
}

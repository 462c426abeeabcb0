// Package khqr builds and checks Bakong KHQR payloads, the EMV merchant-presented
// QR format used by Cambodian banks.
package khqr

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	CurrencyUSD = "USD"
	CurrencyKHR = "KHR"

	DefaultImageSize = 350

	tagPayloadFormat  = "00"
	tagInitiation     = "01"
	tagMerchantInfo   = "30"
	tagCategoryCode   = "52"
	tagCurrency       = "53"
	tagAmount         = "54"
	tagCountryCode    = "58"
	tagMerchantName   = "59"
	tagMerchantCity   = "60"
	tagAdditionalData = "62"
	tagTimestamp      = "99"
	tagCRC            = "63"

	initiationStatic  = "11"
	initiationDynamic = "12"
)

var (
	ErrInvalidCurrency    = errors.New("khqr: currency must be USD or KHR")
	ErrNegativeAmount     = errors.New("khqr: amount cannot be negative")
	ErrFieldTooLong       = errors.New("khqr: field exceeds 99 characters")
	ErrIncompleteProfile  = errors.New("khqr: merchant profile needs account id, name and city")
	ErrMalformedPayload   = errors.New("khqr: malformed payload")
	ErrEmptyPayload       = errors.New("khqr: empty payload")
	ErrImageRenderFailure = errors.New("khqr: failed to render image")
)

var numericCurrency = map[string]string{
	CurrencyUSD: "840",
	CurrencyKHR: "116",
}

// MerchantProfile is the static merchant data embedded in every payload.
type MerchantProfile struct {
	BakongAccountID string
	MerchantID      string
	MerchantName    string
	MerchantCity    string
	AcquiringBank   string
	StoreLabel      string
	TerminalLabel   string
	MobileNumber    string
}

type Generator struct {
	profile   MerchantProfile
	imageSize int
	now       func() time.Time
}

func NewGenerator(profile MerchantProfile, imageSize int) *Generator {
	if imageSize <= 0 {
		imageSize = DefaultImageSize
	}
	return &Generator{
		profile:   profile,
		imageSize: imageSize,
		now:       time.Now,
	}
}

// IsSupportedCurrency reports whether currency can be encoded.
func IsSupportedCurrency(currency string) bool {
	_, ok := numericCurrency[currency]
	return ok
}

// Generate returns a merchant KHQR payload for amount. A zero amount yields a static QR.
func (g *Generator) Generate(amount decimal.Decimal, currency string) (string, error) {
	return g.GenerateForOrder(amount, currency, "")
}

// GenerateForOrder is Generate with a bill number carried in the additional data template.
func (g *Generator) GenerateForOrder(amount decimal.Decimal, currency, billNumber string) (string, error) {
	code, ok := numericCurrency[currency]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	if amount.IsNegative() {
		return "", ErrNegativeAmount
	}
	p := g.profile
	if p.BakongAccountID == "" || p.MerchantName == "" || p.MerchantCity == "" {
		return "", ErrIncompleteProfile
	}

	amount = roundForCurrency(amount, currency)

	var merchant tlvWriter
	merchant.add("00", p.BakongAccountID)
	merchant.addOptional("01", p.MerchantID)
	merchant.addOptional("02", p.AcquiringBank)
	merchantInfo, err := merchant.String()
	if err != nil {
		return "", err
	}

	var extra tlvWriter
	extra.addOptional("01", billNumber)
	extra.addOptional("02", p.MobileNumber)
	extra.addOptional("03", p.StoreLabel)
	extra.addOptional("07", p.TerminalLabel)
	additional, err := extra.String()
	if err != nil {
		return "", err
	}

	var stamp tlvWriter
	stamp.add("00", strconv.FormatInt(g.now().UnixMilli(), 10))
	timestamp, _ := stamp.String()

	var w tlvWriter
	w.add(tagPayloadFormat, "01")
	if amount.IsPositive() {
		w.add(tagInitiation, initiationDynamic)
	} else {
		w.add(tagInitiation, initiationStatic)
	}
	w.add(tagMerchantInfo, merchantInfo)
	w.add(tagCategoryCode, "5999")
	w.add(tagCurrency, code)
	if amount.IsPositive() {
		w.add(tagAmount, formatAmount(amount, currency))
	}
	w.add(tagCountryCode, "KH")
	w.add(tagMerchantName, p.MerchantName)
	w.add(tagMerchantCity, p.MerchantCity)
	w.addOptional(tagAdditionalData, additional)
	w.add(tagTimestamp, timestamp)

	body, err := w.String()
	if err != nil {
		return "", err
	}

	body += tagCRC + "04"
	return body + fmt.Sprintf("%04X", crc16([]byte(body))), nil
}

// Verify checks TLV structure and the trailing checksum. A false result with a nil
// error means the payload parsed but did not check out; callers treat any error as failure.
func (g *Generator) Verify(qr string) (bool, error) {
	if strings.TrimSpace(qr) == "" {
		return false, ErrEmptyPayload
	}

	fields, err := parseTLV(qr)
	if err != nil {
		return false, err
	}
	if len(fields) < 2 || fields[0].tag != tagPayloadFormat {
		return false, nil
	}

	last := fields[len(fields)-1]
	if last.tag != tagCRC || len(last.value) != 4 {
		return false, nil
	}

	body := qr[:len(qr)-4]
	expected := fmt.Sprintf("%04X", crc16([]byte(body)))
	return strings.EqualFold(expected, last.value), nil
}

// Render encodes qr as a square PNG.
func (g *Generator) Render(qr string) ([]byte, error) {
	png, err := qrcode.Encode(qr, qrcode.Medium, g.imageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageRenderFailure, err)
	}
	return png, nil
}

// MD5 is the hex digest banks use to look a KHQR transaction up.
func MD5(qr string) string {
	sum := md5.Sum([]byte(qr))
	return hex.EncodeToString(sum[:])
}

func roundForCurrency(amount decimal.Decimal, currency string) decimal.Decimal {
	if currency == CurrencyKHR {
		return amount.Round(0)
	}
	return amount.Round(2)
}

func formatAmount(amount decimal.Decimal, currency string) string {
	if currency == CurrencyKHR {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}

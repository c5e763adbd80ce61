// Package bolt11 decodes the parts of a BOLT11 Lightning invoice the ledger
// needs: the human-readable amount and the payment hash. Signature recovery is
// intentionally out of scope; the wallet backend validates invoices it pays.
package bolt11

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/shopspring/decimal"
)

var (
	ErrNoAmount      = errors.New("bolt11: invoice carries no amount")
	ErrSubSatoshi    = errors.New("bolt11: amount is below one satoshi")
	ErrNotInvoice    = errors.New("bolt11: not a lightning invoice")
	ErrBadAmount     = errors.New("bolt11: malformed amount")
	ErrTruncatedData = errors.New("bolt11: truncated data part")
)

const (
	timestampGroups = 7
	signatureGroups = 104

	tagPaymentHash = 1
	hashDataGroups = 52
)

// Invoice holds the decoded fields of a payment request.
type Invoice struct {
	Network     string // bc, tb, tbs, bcrt
	AmountSats  int64
	PaymentHash string // lower hex, empty if the invoice lacks a 'p' field
}

// Decode parses a BOLT11 payment request. The bech32 checksum is verified, the
// amount is decoded from the human-readable part with full multiplier support
// (m, u, n, p), and the payment hash is extracted from the tagged fields.
// Amountless invoices are rejected with ErrNoAmount.
func Decode(pr string) (*Invoice, error) {
	pr = strings.TrimSpace(pr)
	pr = strings.TrimPrefix(strings.ToLower(pr), "lightning:")

	hrp, data, err := bech32.DecodeNoLimit(pr)
	if err != nil {
		return nil, fmt.Errorf("bolt11: decoding bech32: %w", err)
	}
	if !strings.HasPrefix(hrp, "ln") {
		return nil, ErrNotInvoice
	}

	network, sats, err := parseHRP(hrp[2:])
	if err != nil {
		return nil, err
	}

	hash, err := paymentHash(data)
	if err != nil {
		return nil, err
	}

	return &Invoice{
		Network:     network,
		AmountSats:  sats,
		PaymentHash: hash,
	}, nil
}

// parseHRP splits "<network><amount><multiplier>" and returns the amount in
// satoshis. multipliers per BOLT11: m=1e-3, u=1e-6, n=1e-9, p=1e-12 BTC.
func parseHRP(s string) (string, int64, error) {
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	network, amount := s[:i], s[i:]
	if network == "" {
		return "", 0, ErrNotInvoice
	}
	if amount == "" {
		return "", 0, ErrNoAmount
	}

	exp := int32(0)
	if last := amount[len(amount)-1]; last < '0' || last > '9' {
		switch last {
		case 'm':
			exp = -3
		case 'u':
			exp = -6
		case 'n':
			exp = -9
		case 'p':
			exp = -12
		default:
			return "", 0, ErrBadAmount
		}
		amount = amount[:len(amount)-1]
	}
	if amount == "" || (len(amount) > 1 && amount[0] == '0') {
		return "", 0, ErrBadAmount
	}

	btc, err := decimal.NewFromString(amount)
	if err != nil {
		return "", 0, ErrBadAmount
	}
	sats := btc.Shift(exp).Shift(8) // BTC -> sat
	if !sats.IsInteger() || !sats.IsPositive() {
		return "", 0, ErrSubSatoshi
	}
	return network, sats.IntPart(), nil
}

// paymentHash walks the tagged fields between the 35-bit timestamp and the
// trailing signature and returns the 'p' field, if present.
func paymentHash(data []byte) (string, error) {
	if len(data) < timestampGroups+signatureGroups {
		return "", ErrTruncatedData
	}
	fields := data[timestampGroups : len(data)-signatureGroups]

	for len(fields) >= 3 {
		typ := fields[0]
		size := int(fields[1])<<5 | int(fields[2])
		if len(fields) < 3+size {
			return "", ErrTruncatedData
		}
		if typ == tagPaymentHash && size == hashDataGroups {
			raw, err := bech32.ConvertBits(fields[3:3+size], 5, 8, true)
			if err != nil {
				return "", fmt.Errorf("bolt11: regrouping payment hash: %w", err)
			}
			return hex.EncodeToString(raw[:32]), nil
		}
		fields = fields[3+size:]
	}
	return "", nil
}

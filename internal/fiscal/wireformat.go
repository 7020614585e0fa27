package fiscal

import (
	"fmt"
	"strings"
)

// TaxTag is one of the fiscal process-data tax-rate tags.
type TaxTag string

const (
	TaxNormal   TaxTag = "NORMAL"
	TaxReduced  TaxTag = "REDUCED"
	TaxReduced2 TaxTag = "REDUCED2"
	TaxNull     TaxTag = "NULL"
)

// PaymentTag is one of the fiscal process-data payment-method tags.
type PaymentTag string

const (
	PaymentCash PaymentTag = "CASH"
	PaymentCard PaymentTag = "CARD"
)

// TaggedAmount is one TAG:VALUE entry in a comma-separated process-data field.
type TaggedAmount struct {
	Tag   string
	Value string // %.2f formatted
}

// ProcessData is the parsed form of the fiscal wire format's four
// ^-delimited fields.
type ProcessData struct {
	GrossAmount string
	NetAmounts  []TaggedAmount
	TaxAmounts  []TaggedAmount
	Payments    []TaggedAmount
}

func joinTagged(items []TaggedAmount) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.Tag + ":" + it.Value
	}
	return strings.Join(parts, ",")
}

func parseTagged(field string) []TaggedAmount {
	if field == "" {
		return nil
	}
	parts := strings.Split(field, ",")
	out := make([]TaggedAmount, 0, len(parts))
	for _, p := range parts {
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out = append(out, TaggedAmount{Tag: kv[0], Value: kv[1]})
	}
	return out
}

// BuildProcessData renders the ^-delimited four-field fiscal wire format:
// grossAmount^netAmounts^taxAmounts^paymentTypes
func BuildProcessData(p ProcessData) string {
	return strings.Join([]string{
		p.GrossAmount,
		joinTagged(p.NetAmounts),
		joinTagged(p.TaxAmounts),
		joinTagged(p.Payments),
	}, "^")
}

// ParseProcessData parses the ^-delimited wire format back into its four fields.
func ParseProcessData(s string) (ProcessData, error) {
	fields := strings.Split(s, "^")
	if len(fields) != 4 {
		return ProcessData{}, fmt.Errorf("process data must have 4 ^-delimited fields, got %d", len(fields))
	}
	return ProcessData{
		GrossAmount: fields[0],
		NetAmounts:  parseTagged(fields[1]),
		TaxAmounts:  parseTagged(fields[2]),
		Payments:    parseTagged(fields[3]),
	}, nil
}

// cloudTaxTag maps a local tax tag to its cloud-TSS equivalent.
func cloudTaxTag(tag string) string {
	switch TaxTag(tag) {
	case TaxNormal:
		return "NORMAL"
	case TaxReduced:
		return "REDUCED_1"
	case TaxReduced2:
		return "REDUCED_2"
	case TaxNull:
		return "NULL"
	default:
		return tag
	}
}

// cloudPaymentTag maps a local payment tag to its cloud-TSS equivalent.
func cloudPaymentTag(tag string) string {
	switch PaymentTag(tag) {
	case PaymentCash:
		return "CASH"
	case PaymentCard:
		return "NON_CASH"
	default:
		return tag
	}
}

// CloudProcessType maps a local process-type name to the cloud-TSS
// process-type vocabulary; anything unrecognized defaults to RECEIPT.
func CloudProcessType(local string) string {
	switch local {
	case "Kassenbeleg":
		return "RECEIPT"
	case "AVTransfer":
		return "TRANSFER"
	case "AVBestellung":
		return "ORDER"
	default:
		return "RECEIPT"
	}
}

// CloudReceipt is the cloud-TSS-facing rendering of one fiscal transaction.
type CloudReceipt struct {
	ProcessType string
	GrossAmount string
	NetAmounts  []TaggedAmount
	TaxAmounts  []TaggedAmount
	Payments    []TaggedAmount
}

// ParseProcessDataToReceipt parses the local wire format and remaps its
// tax/payment/process-type vocabulary to the cloud-TSS equivalents.
func ParseProcessDataToReceipt(localProcessType, processData string) (CloudReceipt, error) {
	pd, err := ParseProcessData(processData)
	if err != nil {
		return CloudReceipt{}, err
	}
	return CloudReceipt{
		ProcessType: CloudProcessType(localProcessType),
		GrossAmount: pd.GrossAmount,
		NetAmounts:  pd.NetAmounts,
		TaxAmounts:  remapTags(pd.TaxAmounts, cloudTaxTag),
		Payments:    remapTags(pd.Payments, cloudPaymentTag),
	}, nil
}

func remapTags(items []TaggedAmount, mapper func(string) string) []TaggedAmount {
	out := make([]TaggedAmount, len(items))
	for i, it := range items {
		out[i] = TaggedAmount{Tag: mapper(it.Tag), Value: it.Value}
	}
	return out
}

package fiscal

import "testing"

func TestBuildAndParseProcessDataRoundtrip(t *testing.T) {
	pd := ProcessData{
		GrossAmount: "23.50",
		NetAmounts:  []TaggedAmount{{Tag: "NORMAL", Value: "19.75"}},
		TaxAmounts:  []TaggedAmount{{Tag: "NORMAL", Value: "3.75"}},
		Payments:    []TaggedAmount{{Tag: "CASH", Value: "23.50"}},
	}
	wire := BuildProcessData(pd)
	want := "23.50^NORMAL:19.75^NORMAL:3.75^CASH:23.50"
	if wire != want {
		t.Fatalf("BuildProcessData = %q, want %q", wire, want)
	}

	parsed, err := ParseProcessData(wire)
	if err != nil {
		t.Fatalf("ParseProcessData: %v", err)
	}
	if parsed.GrossAmount != pd.GrossAmount || len(parsed.NetAmounts) != 1 || len(parsed.TaxAmounts) != 1 || len(parsed.Payments) != 1 {
		t.Fatalf("roundtrip mismatch: %+v", parsed)
	}
}

func TestParseProcessDataRejectsWrongFieldCount(t *testing.T) {
	if _, err := ParseProcessData("1^2^3"); err == nil {
		t.Fatalf("expected error for malformed process data")
	}
}

func TestParseProcessDataToReceiptMapsVocabulary(t *testing.T) {
	wire := BuildProcessData(ProcessData{
		GrossAmount: "10.00",
		TaxAmounts:  []TaggedAmount{{Tag: "REDUCED", Value: "1.00"}},
		Payments:    []TaggedAmount{{Tag: "CARD", Value: "10.00"}},
	})
	receipt, err := ParseProcessDataToReceipt("AVTransfer", wire)
	if err != nil {
		t.Fatalf("ParseProcessDataToReceipt: %v", err)
	}
	if receipt.ProcessType != "TRANSFER" {
		t.Fatalf("expected process type TRANSFER, got %s", receipt.ProcessType)
	}
	if receipt.TaxAmounts[0].Tag != "REDUCED_1" {
		t.Fatalf("expected REDUCED -> REDUCED_1, got %s", receipt.TaxAmounts[0].Tag)
	}
	if receipt.Payments[0].Tag != "NON_CASH" {
		t.Fatalf("expected CARD -> NON_CASH, got %s", receipt.Payments[0].Tag)
	}
}

func TestCloudProcessTypeDefaultsToReceipt(t *testing.T) {
	if got := CloudProcessType("AVBestellung"); got != "ORDER" {
		t.Fatalf("expected ORDER, got %s", got)
	}
	if got := CloudProcessType("SomethingElse"); got != "RECEIPT" {
		t.Fatalf("expected default RECEIPT, got %s", got)
	}
}

package sensors

import (
	"testing"
)

func TestParseChipsFamiliesAndPackagePreference(t *testing.T) {
	raw := `{
		"coretemp-isa-0000": {
			"Adapter": "ISA adapter",
			"Core 0": {"temp2_input": 51.0, "temp2_max": 100.0},
			"Package id 0": {"temp1_input": 55.0, "temp1_max": 100.0}
		},
		"acpitz-acpi-0": {
			"Adapter": "ACPI interface",
			"temp1": {"temp1_input": 27.8}
		},
		"nvme-pci-0100": {
			"Composite": {"temp1_input": 38.85}
		}
	}`

	chips, err := ParseChips(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := chips["coretemp"].Temperature; got != 55.0 {
		t.Fatalf("expected coretemp package temp 55.0, got %v", got)
	}
	if got := chips["acpitz"].Temperature; got != 27.8 {
		t.Fatalf("expected acpitz 27.8, got %v", got)
	}
	if _, ok := chips["nvme"]; !ok {
		t.Fatalf("expected nvme family to be present: %+v", chips)
	}
}

func TestParseChipsAMDTctl(t *testing.T) {
	raw := `{"k10temp-pci-00c3":{"Tccd1":{"temp3_input":48.5},"Tctl":{"temp1_input":61.25}}}`

	chips, err := ParseChips(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := chips["k10temp"].Temperature; got != 61.25 {
		t.Fatalf("expected Tctl 61.25, got %v", got)
	}
}

func TestParseChipsMillidegrees(t *testing.T) {
	raw := `{"cpu_thermal-virtual-0":{"temp1":{"temp1_input":42000}}}`

	chips, err := ParseChips(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := chips["cpu_thermal"].Temperature; got != 42.0 {
		t.Fatalf("expected 42.0, got %v", got)
	}
}

func TestParseChipsErrors(t *testing.T) {
	if _, err := ParseChips("   "); err == nil {
		t.Fatal("expected error for empty output")
	}
	if _, err := ParseChips("{not json"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}

	chips, err := ParseChips(`{"coretemp-isa-0000":"garbage","acpitz-acpi-0":{"temp1":{"temp1_max":90}}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chips) != 0 {
		t.Fatalf("expected no chips without *_input readings, got %+v", chips)
	}
}

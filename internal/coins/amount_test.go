package coins

import "testing"

func TestParseDecimalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Amount
	}{
		{"whole", "1", OneCoin},
		{"fraction", "0.00000001", 1},
		{"truncate long fraction", "0.123456789", 12345678},
		{"pad short fraction", "0.5", OneCoin / 2},
		{"negative", "-2.5", -2*OneCoin - OneCoin/2},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimal(tt.in)
			if err != nil {
				t.Fatalf("ParseDecimal(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDecimal(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "abc", "1.2.3"} {
		if _, err := ParseDecimal(s); err == nil {
			t.Errorf("ParseDecimal(%q) expected error, got nil", s)
		}
	}
}

func TestStringFormat(t *testing.T) {
	a := Amount(123456789)
	if got, want := a.String(), "1.23456789"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	neg := Amount(-50000000)
	if got, want := neg.String(), "-0.50000000"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMarshalUnmarshalJSON(t *testing.T) {
	a := Amount(100000000)
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if got, want := string(b), `"1.00000000"`; got != want {
		t.Errorf("MarshalJSON() = %s, want %s", got, want)
	}

	var back Amount
	if err := back.UnmarshalJSON([]byte(`"1.00000000"`)); err != nil {
		t.Fatalf("UnmarshalJSON error: %v", err)
	}
	if back != a {
		t.Errorf("UnmarshalJSON round trip = %d, want %d", back, a)
	}

	var bare Amount
	if err := bare.UnmarshalJSON([]byte("1.5")); err != nil {
		t.Fatalf("UnmarshalJSON bare number error: %v", err)
	}
	if want := FromCoins(1.5); bare != want {
		t.Errorf("UnmarshalJSON bare number = %d, want %d", bare, want)
	}
}

func TestMaxMin(t *testing.T) {
	a, b := Amount(5), Amount(10)
	if Max(a, b) != b {
		t.Errorf("Max(5,10) != 10")
	}
	if Min(a, b) != a {
		t.Errorf("Min(5,10) != 5")
	}
}

func TestMulPercent(t *testing.T) {
	a := Amount(OneCoin)
	got := a.MulPercent(0.0025)
	want := Amount(250000)
	if got != want {
		t.Errorf("MulPercent(0.0025) = %d, want %d", got, want)
	}
}

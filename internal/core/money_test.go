package core

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"150", 15000, true},
		{"4999.00", 499900, true},
		{"0.01", 1, true},
		{"12.340", 1234, true}, // trailing zero is not extra precision
		{"12.345", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"1e2", 10000, true},
		{"ten", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected InvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestParseMoneyAllowsNegative(t *testing.T) {
	m, err := ParseMoney("-5000")
	if err != nil || m.Cents != -500000 {
		t.Fatalf("unexpected: %v %v", m, err)
	}
	if m.String() != "-5000.00" {
		t.Fatalf("unexpected format %q", m.String())
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := Cents(10000)
	b := Cents(15000)
	if got := a.Sub(b); got.Cents != -5000 || !got.IsNegative() {
		t.Fatalf("sub: %v", got)
	}
	if got := a.Add(b).Neg(); got.Cents != -25000 {
		t.Fatalf("add/neg: %v", got)
	}
	if !a.Less(b) || b.Less(a) {
		t.Fatalf("less is wrong")
	}
}

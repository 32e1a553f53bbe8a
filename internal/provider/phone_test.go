package provider

import "testing"

func TestFormatPhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		cc      string
		want    string
		wantErr bool
	}{
		{name: "national mobile with punctuation", raw: "(11) 98765-4321", cc: "55", want: "5511987654321"},
		{name: "trunk zero dropped", raw: "011 98765 4321", cc: "55", want: "5511987654321"},
		{name: "already international", raw: "+55 11 98765-4321", cc: "55", want: "5511987654321"},
		{name: "landline", raw: "21 3333-4444", cc: "55", want: "552133334444"},
		{name: "no country code configured", raw: "21 3333-4444", cc: "", want: "2133334444"},
		{name: "plus in country code", raw: "5551234567", cc: "+1", want: "15551234567"},
		{name: "empty", raw: "", cc: "55", wantErr: true},
		{name: "no digits", raw: "n/a", cc: "55", wantErr: true},
		{name: "only zeros", raw: "000", cc: "55", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FormatPhone(tt.raw, tt.cc)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("FormatPhone(%q) error = nil, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("FormatPhone(%q) unexpected error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("FormatPhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

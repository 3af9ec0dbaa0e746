package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name  string
		gross string
		model Model
		want  string
	}{
		{"card rail on 100", "100.00", CardRail, "3.2"},
		{"card rail on 10", "10.00", CardRail, "0.59"},
		{"card rail rounds percentage before fixed", "10.17", CardRail, "0.59"},
		{"card rail on small amount", "1.00", CardRail, "0.33"},
		{"crypto invoice flat percent", "100.00", CryptoInvoice, "1"},
		{"crypto invoice no fixed component", "0.50", CryptoInvoice, "0.01"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(decimal.RequireFromString(tc.gross), tc.model)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
				"Compute(%s) = %s, want %s", tc.gross, got, tc.want)
		})
	}
}

func TestNet(t *testing.T) {
	gross := decimal.RequireFromString("100.00")
	net := Net(gross, CardRail)
	assert.True(t, net.Equal(decimal.RequireFromString("96.80")), "got %s", net)

	// fee + net always reassembles gross
	assert.True(t, Compute(gross, CardRail).Add(net).Equal(gross))
}

func TestNetworkFee(t *testing.T) {
	tests := []struct {
		network string
		want    string
	}{
		{"TRC20", "1"},
		{"BEP20", "0.5"},
		{"ERC20", "15"},
		{"POLYGON", "0.1"},
		{"UNKNOWN", "1"},
		{"", "1"},
	}

	for _, tc := range tests {
		t.Run(tc.network, func(t *testing.T) {
			got := NetworkFee(tc.network)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}

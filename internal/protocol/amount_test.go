package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestParseAmount covers accepted and rejected decimal forms.
func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{in: "300", want: 30000},
		{in: "300.00", want: 30000},
		{in: "300.5", want: 30050},
		{in: "0.01", want: 1},
		{in: " 305.17 ", want: 30517},
		{in: "-1.25", want: -125},
		{in: "", wantErr: true},
		{in: "1.234", wantErr: true},
		{in: "1.", wantErr: true},
		{in: ".5", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1.-5", wantErr: true},
		{in: "1.+5", wantErr: true},
		{in: "--5", wantErr: true},
		{in: "-+2", wantErr: true},
		{in: "+3", wantErr: true},
		{in: "1 .5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestAmountStepIsExact verifies repeated 0.01 steps never drift.
func TestAmountStepIsExact(t *testing.T) {
	a := Whole(300)
	for i := 0; i < 10000; i++ {
		a += 1
	}
	assert.Equal(t, "400.00", a.String())
}

// TestAmountRendering covers String, Floor and Float64.
func TestAmountRendering(t *testing.T) {
	assert.Equal(t, "300.00", Whole(300).String())
	assert.Equal(t, "305.17", Amount(30517).String())
	assert.Equal(t, "0.05", Amount(5).String())
	assert.Equal(t, "-0.05", Amount(-5).String())

	assert.Equal(t, 305, Amount(30517).Floor())
	assert.Equal(t, 300, Amount(30000).Floor())
	assert.Equal(t, -1, Amount(-5).Floor())

	assert.InDelta(t, 305.17, Amount(30517).Float64(), 1e-9)
	assert.Equal(t, Amount(30001), FromFloat(300.01))
}

// TestAmountEncodings covers the JSON and YAML surfaces.
func TestAmountEncodings(t *testing.T) {
	data, err := json.Marshal(struct {
		Value Amount `json:"value"`
	}{Value: 30003})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 300.03}`, string(data))

	var cfg struct {
		Baseline Amount `yaml:"baseline"`
		Step     Amount `yaml:"step"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("baseline: 300\nstep: \"0.01\"\n"), &cfg))
	assert.Equal(t, Amount(30000), cfg.Baseline)
	assert.Equal(t, Amount(1), cfg.Step)

	err = yaml.Unmarshal([]byte("baseline: lots\n"), &cfg)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidAmount is returned when text cannot be parsed as an Amount.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a fixed-point jackpot value counted in hundredths.
// 300.01 is Amount(30001). Keeping the counter integral means a step of 0.01
// applied any number of times lands exactly on the expected decimal.
type Amount int64

// Scale is the number of Amount units per whole credit.
const Scale = 100

// Whole returns an Amount of n whole credits.
func Whole(n int64) Amount {
	return Amount(n * Scale)
}

// FromFloat converts a float to the nearest hundredth.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * Scale))
}

// ParseAmount parses "300", "300.5" or "300.05". More than two fraction
// digits is rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" || (hasFrac && (fracPart == "" || len(fracPart) > 2)) ||
		!digitsOnly(intPart) || !digitsOnly(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	var frac int64
	if hasFrac {
		if len(fracPart) == 1 {
			fracPart += "0"
		}
		frac, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil || frac < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	a := Amount(whole*Scale + frac)
	if neg {
		a = -a
	}
	return a, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Floor returns the whole credits contained in a, rounding toward negative infinity.
func (a Amount) Floor() int {
	if a < 0 {
		return int((a - Scale + 1) / Scale)
	}
	return int(a / Scale)
}

// Float64 returns a as a float for display.
func (a Amount) Float64() float64 {
	return float64(a) / Scale
}

// String renders a with exactly two fraction digits.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/Scale, v%Scale)
}

// MarshalJSON renders a as a JSON number with two fraction digits.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal.
func (a *Amount) UnmarshalJSON(b []byte) error {
	v, err := ParseAmount(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalYAML accepts both quoted and bare decimals in config files.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseAmount(node.Value)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

package dataset

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

// Kind is one of the four scalar kinds a value may take.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// KindOf reports the kind of a normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case int64, float64:
		return KindNumber
	case bool:
		return KindBool
	}
	return KindNull
}

// Normalize maps a driver or decoder value onto string, int64, float64, bool or nil.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case []byte:
		if x == nil {
			return nil, nil
		}
		return string(x), nil
	case bool:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uintValue(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintValue(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case *big.Int:
		if x == nil {
			return nil, nil
		}
		if x.IsInt64() {
			return x.Int64(), nil
		}
		return x.String(), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func uintValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// Format returns the string form of a normalized value: null for nil,
// integral numbers as exact integers, other numbers as the shortest decimal,
// true/false for booleans.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// formatFloat writes an integral float with all of its digits, so it reads the
// same as an int64 of equal value at any magnitude.
func formatFloat(f float64) string {
	switch {
	case f == 0:
		return "0"
	case f == math.Trunc(f) && !math.IsInf(f, 0):
		return big.NewFloat(f).Text('f', 0)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// canonical is a kind-tagged encoding, so the string "1" and the number 1
// differ. Numbers compare by exact value regardless of Go type: int64(n) and
// float64(x) are equal iff x is integral and equals n, so int64(1<<60) equals
// float64(1<<60) but int64(1<<60+1) does not.
func canonical(v any) string {
	switch x := v.(type) {
	case string:
		return "s" + strconv.Quote(x)
	case int64:
		return "n" + strconv.FormatInt(x, 10)
	case float64:
		return "n" + formatFloat(x)
	case bool:
		return "b" + strconv.FormatBool(x)
	}
	return "z"
}

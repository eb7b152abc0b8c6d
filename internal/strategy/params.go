package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ParamNames lists the keys accepted by Params.With.
func ParamNames() []string {
	return []string{"fast_window", "slow_window", "lookback_period", "threshold"}
}

// With returns a copy of p with the named overrides applied, as received in
// a request's strategy_params object. Values may be JSON numbers, numeric
// strings or Go numeric types. An unknown key or a non-integral window is a
// ConfigError wrapping ErrInvalidParam.
func (p Params) With(overrides map[string]any) (Params, error) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := toFloat(overrides[k])
		if err != nil {
			return p, &ConfigError{Param: k, Err: ErrInvalidParam, Detail: err.Error()}
		}
		switch k {
		case "fast_window":
			p.FastWindow, err = toInt(k, v)
		case "slow_window":
			p.SlowWindow, err = toInt(k, v)
		case "lookback_period":
			p.LookbackPeriod, err = toInt(k, v)
		case "threshold":
			p.Threshold = v
		default:
			return p, &ConfigError{Param: k, Err: ErrInvalidParam, Detail: fmt.Sprintf("unknown parameter, want one of %v", ParamNames())}
		}
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func toInt(param string, v float64) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt32 {
		return 0, &ConfigError{Param: param, Err: ErrInvalidParam, Detail: fmt.Sprintf("must be an integer, got %v", v)}
	}
	return int(v), nil
}

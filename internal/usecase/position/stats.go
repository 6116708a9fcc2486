package position

import (
	"math"
)

// annualization factor for per-trade ratios, assuming one trade per trading day
var annualization = math.Sqrt(252)

// Mean calculates the arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev calculates the sample standard deviation (n-1)
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// DownsideDeviation calculates sqrt(mean(r^2)) over negative values only.
// Returns 0 when there are no negative values.
func DownsideDeviation(values []float64) float64 {
	sum := 0.0
	n := 0
	for _, v := range values {
		if v < 0 {
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// SharpeRatio returns annualized mean/stddev, nil with fewer than two
// values or zero deviation
func SharpeRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	std := SampleStdDev(returns)
	if std == 0 {
		return nil
	}
	r := Mean(returns) / std * annualization
	return &r
}

// SortinoRatio returns annualized mean/downside deviation, nil with fewer
// than two values or no losses
func SortinoRatio(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	dd := DownsideDeviation(returns)
	if dd == 0 {
		return nil
	}
	r := Mean(returns) / dd * annualization
	return &r
}

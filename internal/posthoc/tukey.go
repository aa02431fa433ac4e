package posthoc

import (
	"math"
)

// Gauss-Legendre nodes and weights on [-1, 1] (positive half).
var (
	leg12x = [6]float64{
		0.981560634246719250690549090149,
		0.904117256370474856678465866119,
		0.769902674194304687036893833213,
		0.587317954286617447296702418941,
		0.367831498998180193752691536644,
		0.125233408511468915472441369464,
	}
	leg12w = [6]float64{
		0.047175336386511827194615961485,
		0.106939325995318430960254718194,
		0.160078328543346226334652529543,
		0.203167426723065921749064455810,
		0.233492536538354808760849898925,
		0.249147045813402785000562436043,
	}
	leg16x = [8]float64{
		0.989400934991649932596154173450,
		0.944575023073232576077988415535,
		0.865631202387831743880467897712,
		0.755404408355003033895101194847,
		0.617876244402643748446671764049,
		0.458016777657227386342419442984,
		0.281603550779258913230460501460,
		0.950125098376374401853193354250e-1,
	}
	leg16w = [8]float64{
		0.271524594117540948517805724560e-1,
		0.622535239386478928628438369944e-1,
		0.951585116824927848099251076022e-1,
		0.124628971255533872052476282192,
		0.149595988816576732081501730547,
		0.169156519395002538189312079030,
		0.182603415044923588866763667969,
		0.189450610455068496285396723208,
	}
)

func pnorm(x, mu float64) float64 {
	return 0.5 * math.Erfc(-(x-mu)/math.Sqrt2)
}

// rangeProb is P(range of k standard normals < w) (Hartley's form).
func rangeProb(w, k float64) float64 {
	const (
		upper  = 8.0
		wLarge = 3.0
		c1     = -30.0
		c2     = -50.0
		c3     = 60.0
	)
	half := w * 0.5
	if half >= upper {
		return 1
	}

	pr := 2*pnorm(half, 0) - 1
	if pr >= math.Exp(c2/k) {
		pr = math.Pow(pr, k)
	} else {
		pr = 0
	}

	intervals := 3.0
	if w > wLarge {
		intervals = 2.0
	}

	lo := half
	step := (upper - half) / intervals
	hi := lo + step
	sum := 0.0
	km1 := k - 1
	for n := 0.0; n < intervals; n++ {
		mid := 0.5 * (hi + lo)
		rad := 0.5 * (hi - lo)
		part := 0.0
		for jj := 0; jj < 12; jj++ {
			var j int
			var x float64
			if jj >= 6 {
				j = 11 - jj
				x = leg12x[j]
			} else {
				j = jj
				x = -leg12x[j]
			}
			ac := mid + rad*x
			q := ac * ac
			if q > c3 {
				break
			}
			inner := pnorm(ac, 0) - pnorm(ac, w)
			if inner >= math.Exp(c1/km1) {
				part += leg12w[j] * math.Exp(-0.5*q) * math.Pow(inner, km1)
			}
		}
		sum += part * (2 * rad * k) / math.Sqrt(2*math.Pi)
		lo = hi
		hi += step
	}

	pr += sum
	if pr <= math.Exp(c1/k) {
		return 0
	}
	if pr >= 1 {
		return 1
	}
	return pr
}

// PTukey is the distribution function of the studentized range for k means
// and df degrees of freedom: P(Q < q).
func PTukey(q, k, df float64) float64 {
	const (
		eps1  = -30.0
		eps2  = 1e-14
		large = 25000.0
	)
	if q <= 0 {
		return 0
	}
	if df < 2 || k < 2 || math.IsNaN(q) || math.IsNaN(df) {
		return math.NaN()
	}
	if math.IsInf(q, 1) {
		return 1
	}
	if df > large || math.IsInf(df, 1) {
		return rangeProb(q, k)
	}

	f2 := df * 0.5
	lg, _ := math.Lgamma(f2)
	f2lf := f2*math.Log(df) - df*math.Ln2 - lg
	f21 := f2 - 1
	ff4 := df * 0.25

	var ulen float64
	switch {
	case df <= 100:
		ulen = 1
	case df <= 800:
		ulen = 0.5
	case df <= 5000:
		ulen = 0.25
	default:
		ulen = 0.125
	}
	f2lf += math.Log(ulen)

	ans := 0.0
	for i := 1; i <= 50; i++ {
		sum := 0.0
		twa1 := float64(2*i-1) * ulen
		for jj := 0; jj < 16; jj++ {
			var j int
			var u, t1 float64
			if jj >= 8 {
				j = jj - 8
				u = twa1 + leg16x[j]*ulen
				t1 = f2lf + f21*math.Log(u) - u*ff4
			} else {
				j = jj
				u = twa1 - leg16x[j]*ulen
				t1 = f2lf + f21*math.Log(u) - u*ff4
			}
			if t1 >= eps1 {
				w := q * math.Sqrt(u*0.5)
				sum += rangeProb(w, k) * leg16w[j] * math.Exp(t1)
			}
		}
		if float64(i)*ulen >= 1 && sum <= eps2 {
			break
		}
		ans += sum
	}
	if ans > 1 {
		ans = 1
	}
	return ans
}

// QTukey is the quantile function of the studentized range.
func QTukey(p, k, df float64) float64 {
	if math.IsNaN(p) || p < 0 || p > 1 || k < 2 || df < 2 {
		return math.NaN()
	}
	if p == 0 {
		return 0
	}
	if p == 1 {
		return math.Inf(1)
	}
	lo, hi := 0.0, 4.0
	for PTukey(hi, k, df) < p {
		lo = hi
		hi *= 2
		if hi > 1e6 {
			return math.Inf(1)
		}
	}
	for i := 0; i < 60 && hi-lo > 1e-10; i++ {
		mid := 0.5 * (lo + hi)
		if PTukey(mid, k, df) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}

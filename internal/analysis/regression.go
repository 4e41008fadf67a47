package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Type tags persisted with regression rows.
const (
	RegressionLinear   = "linear"
	RegressionLogistic = "logistic"
)

// Intercept is the Predictor index of the constant term.
const Intercept = -1

// Coefficient is one fitted parameter. Predictor is the column of the
// predictor matrix it belongs to, or Intercept.
type Coefficient struct {
	Predictor int
	Coeff     float64
	StdErr    float64
	Statistic float64
	PValue    float64
}

// Regression is a fitted model. Coefficients[0] is always the intercept,
// followed by one entry per predictor column in column order.
type Regression struct {
	Kind         string
	Coefficients []Coefficient
	N            int
	// DF is the residual degrees of freedom used for linear p-values, n - p.
	// Rows written by the legacy scripts used len(y) - 1, so their p-values
	// differ slightly from ours on the same data.
	DF int
	// RSquared is set for linear fits.
	RSquared float64
	// LogLikelihood and Iterations are set for logistic fits.
	LogLikelihood float64
	Iterations    int
}

func withIntercept(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	xa := mat.NewDense(n, c+1, nil)
	for i := 0; i < n; i++ {
		xa.Set(i, 0, 1)
		for j := 0; j < c; j++ {
			xa.Set(i, j+1, x.At(i, j))
		}
	}
	return xa
}

// LinearRegression fits y = Xb by ordinary least squares with an intercept.
//
// Standard errors come from sigma^2 (X'X)^-1 and p-values are two-sided
// Student t with n-p residual degrees of freedom.
func LinearRegression(x *mat.Dense, y []float64) (*Regression, error) {
	xa := withIntercept(x)
	n, p := xa.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d responses for %d rows", ErrInsufficientData, len(y), n)
	}
	if n <= p {
		return nil, fmt.Errorf("%w: %d rows for %d parameters", ErrInsufficientData, n, p)
	}

	var xtx mat.Dense
	xtx.Mul(xa.T(), xa)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var qr mat.QR
	qr.Factorize(xa)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, mat.NewDense(n, 1, y)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	var fitted mat.Dense
	fitted.Mul(xa, &beta)
	resid := make([]float64, n)
	floats.SubTo(resid, y, mat.Col(nil, 0, &fitted))
	rss := floats.Dot(resid, resid)

	df := n - p
	sigma2 := rss / float64(df)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}

	reg := &Regression{Kind: RegressionLinear, N: n, DF: df}
	for j := 0; j < p; j++ {
		b := beta.At(j, 0)
		se := math.Sqrt(sigma2 * inv.At(j, j))
		t := b / se
		reg.Coefficients = append(reg.Coefficients, Coefficient{
			Predictor: j - 1,
			Coeff:     b,
			StdErr:    se,
			Statistic: t,
			PValue:    twoSided(tdist.Survival, t),
		})
	}

	mean := floats.Sum(y) / float64(n)
	var tss float64
	for _, v := range y {
		tss += (v - mean) * (v - mean)
	}
	if tss > 0 {
		reg.RSquared = 1 - rss/tss
	}
	return reg, nil
}

// LogisticOptions tunes the Newton iterations of LogisticRegression.
type LogisticOptions struct {
	MaxIter int
	Tol     float64
}

func (o LogisticOptions) withDefaults() LogisticOptions {
	if o.MaxIter <= 0 {
		o.MaxIter = 35
	}
	if o.Tol <= 0 {
		o.Tol = 1e-8
	}
	return o
}

// LogisticRegression fits a binary logit model with an intercept by
// iteratively reweighted least squares. Standard errors come from the
// inverse observed information; p-values are two-sided normal.
func LogisticRegression(x *mat.Dense, y []float64, opts LogisticOptions) (*Regression, error) {
	opts = opts.withDefaults()
	xa := withIntercept(x)
	n, p := xa.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("%w: %d responses for %d rows", ErrInsufficientData, len(y), n)
	}
	if n <= p {
		return nil, fmt.Errorf("%w: %d rows for %d parameters", ErrInsufficientData, n, p)
	}
	var ones int
	for i, v := range y {
		switch v {
		case 0:
		case 1:
			ones++
		default:
			return nil, fmt.Errorf("%w: row %d has %g", ErrNonBinaryTarget, i, v)
		}
	}
	if ones == 0 || ones == n {
		return nil, fmt.Errorf("%w: response has a single class", ErrInsufficientData)
	}

	beta := make([]float64, p)
	mu := make([]float64, n)
	converged := false
	iter := 0
	for iter < opts.MaxIter {
		iter++
		predict(xa, beta, mu)

		grad := make([]float64, p)
		for i := 0; i < n; i++ {
			floats.AddScaled(grad, y[i]-mu[i], xa.RawRowView(i))
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(information(xa, mu)); !ok {
			return nil, fmt.Errorf("%w: information matrix at iteration %d", ErrSingular, iter)
		}
		var step mat.VecDense
		if err := chol.SolveVecTo(&step, mat.NewVecDense(p, grad)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingular, err)
		}
		floats.Add(beta, step.RawVector().Data)

		if floats.Norm(step.RawVector().Data, math.Inf(1)) < opts.Tol {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w: logistic fit after %d iterations", ErrNotConverged, iter)
	}

	predict(xa, beta, mu)
	var chol mat.Cholesky
	if ok := chol.Factorize(information(xa, mu)); !ok {
		return nil, fmt.Errorf("%w: information matrix at solution", ErrSingular)
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	reg := &Regression{Kind: RegressionLogistic, N: n, DF: n - p, Iterations: iter}
	for j := 0; j < p; j++ {
		se := math.Sqrt(cov.At(j, j))
		z := beta[j] / se
		reg.Coefficients = append(reg.Coefficients, Coefficient{
			Predictor: j - 1,
			Coeff:     beta[j],
			StdErr:    se,
			Statistic: z,
			PValue:    twoSided(distuv.UnitNormal.Survival, z),
		})
	}
	for i := 0; i < n; i++ {
		if y[i] == 1 {
			reg.LogLikelihood += math.Log(mu[i])
		} else {
			reg.LogLikelihood += math.Log1p(-mu[i])
		}
	}
	return reg, nil
}

// predict fills mu with the logistic mean of every row.
func predict(xa *mat.Dense, beta, mu []float64) {
	for i := range mu {
		eta := floats.Dot(xa.RawRowView(i), beta)
		mu[i] = 1 / (1 + math.Exp(-eta))
	}
}

// information returns X' diag(mu(1-mu)) X.
func information(xa *mat.Dense, mu []float64) *mat.SymDense {
	n, p := xa.Dims()
	h := mat.NewSymDense(p, nil)
	for i := 0; i < n; i++ {
		w := mu[i] * (1 - mu[i])
		row := xa.RawRowView(i)
		for a := 0; a < p; a++ {
			for b := a; b < p; b++ {
				h.SetSym(a, b, h.At(a, b)+w*row[a]*row[b])
			}
		}
	}
	return h
}

func twoSided(survival func(float64) float64, stat float64) float64 {
	if math.IsNaN(stat) {
		return math.NaN()
	}
	return 2 * survival(math.Abs(stat))
}

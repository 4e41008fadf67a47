// Package analysis holds the numeric routines whose outputs the result
// persister stores: Pearson correlation, linear and logistic regression,
// K-Means, K-Medoids, agglomerative linkage and partition quality metrics.
//
// Every routine is a pure function over a gonum matrix. Rows are samples and
// columns are features, in the order the matrix builder produced them.
package analysis

import "errors"

var (
	// ErrInsufficientData is returned when the matrix is too small for the
	// routine (fewer rows than parameters, fewer than two samples).
	ErrInsufficientData = errors.New("analysis: insufficient data")

	// ErrSingular is returned when a design or Hessian matrix cannot be inverted.
	ErrSingular = errors.New("analysis: singular matrix")

	// ErrInvalidK is returned for a cluster count outside 2..n.
	ErrInvalidK = errors.New("analysis: invalid cluster count")

	// ErrUnsupportedLinkage is returned for an unknown linkage method or
	// metric, or a method that requires euclidean distances.
	ErrUnsupportedLinkage = errors.New("analysis: unsupported linkage")

	// ErrNonBinaryTarget is returned when a logistic response is not 0/1.
	ErrNonBinaryTarget = errors.New("analysis: logistic response must be 0 or 1")

	// ErrNotConverged is returned when an iterative fit exhausts its budget.
	ErrNotConverged = errors.New("analysis: did not converge")
)

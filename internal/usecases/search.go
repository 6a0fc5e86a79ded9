package usecases

import "context"

// predicate reports whether the candidate at index i satisfies the search condition.
type predicate func(ctx context.Context, i int) (bool, error)

// firstMatch returns the lowest index in [0, n) for which matches is true,
// assuming matches is monotonic (false...false true...true). It returns -1
// when no index matches.
//
// The loop may finish without having tested the boundary it converged on, so
// that index is tested once more before it is returned.
func firstMatch(ctx context.Context, n int, matches predicate) (int, error) {
	low, high := 0, n-1
	for low <= high {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		mid := low + (high-low)/2
		ok, err := matches(ctx, mid)
		if err != nil {
			return -1, err
		}
		if ok {
			high = mid - 1
		} else {
			low = mid + 1
		}
	}

	if low >= n {
		return -1, nil
	}
	ok, err := matches(ctx, low)
	if err != nil {
		return -1, err
	}
	if !ok {
		return -1, nil
	}
	return low, nil
}

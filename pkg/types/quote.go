package types

import "math/big"

// Quote is a venue's transient answer for a hypothetical trade. Price is the
// unadjusted execution price; Fee is the absolute price adjustment the venue
// charges on top. Both are fixedpoint.Scale-scaled. A quote is advisory only
// until the venue executes.
type Quote struct {
	Price *big.Int
	Fee   *big.Int
}

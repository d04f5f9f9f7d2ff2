package domain

// Product holds the liability and savings sums from product_details.csv.
// Missing sums are NaN.
type Product struct {
	CustomerID    string  `json:"customer_id"`
	ProductFamily string  `json:"product_family"`
	LoanSum       float64 `json:"loan_sum"`
	CCSum         float64 `json:"cc_sum"`
	ODSum         float64 `json:"od_sum"`
	SASum         float64 `json:"sa_sum"`
}

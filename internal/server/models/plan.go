package models

// Plan is an immutable catalog entry. Plans live in configuration, not in the
// store; orders copy the fields they need at creation time.
type Plan struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	TrafficGB  int64  `json:"traffic_gb"` // 0 = unlimited
	PeriodDays int    `json:"period_days"`
	LimitIP    int    `json:"limit_ip"`
	PriceToman int64  `json:"price_toman"`
	Active     bool   `json:"active"`
}

// TrafficBytes converts the catalog traffic cap to bytes.
func (p Plan) TrafficBytes() int64 {
	return p.TrafficGB * 1024 * 1024 * 1024
}

package models

type Plan struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SubscriptionInfo 上游返回的订阅信息，流量单位为字节
type SubscriptionInfo struct {
	Plan           Plan   `json:"plan"`
	Email          string `json:"email"`
	ExpiredAt      *int64 `json:"expired_at"`
	ResetDay       *int   `json:"reset_day"`
	U              int64  `json:"u"`
	D              int64  `json:"d"`
	TransferEnable int64  `json:"transfer_enable"`
}

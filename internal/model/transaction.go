package model

import (
	"time"
)

// Transaction 充值流水表
// 每次下单生成一条，Payment 只会从 false 变成 true 一次，是重复入账的幂等保护
//
// ID 同时作为支付网关订单的 receipt，回查时据此定位流水
type Transaction struct {
	ID      string    `gorm:"type:varchar(40);primaryKey" json:"id"`
	UserID  string    `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Plan    string    `gorm:"type:varchar(32);not null" json:"plan"`
	Credits int64     `gorm:"not null" json:"credits"`
	Amount  int64     `gorm:"not null" json:"amount"` // 主币单位，下单时 ×100
	Payment bool      `gorm:"not null;default:false" json:"payment"`
	Date    time.Time `gorm:"autoCreateTime;index" json:"date"`
}

func (Transaction) TableName() string {
	return "transactions"
}

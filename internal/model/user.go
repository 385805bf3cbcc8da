package model

import (
	"time"
)

// User 用户表
// 同时承载身份信息和点数余额，余额只通过原子表达式更新
type User struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(128);not null" json:"name"`
	Email         string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password      string    `gorm:"type:varchar(255);not null" json:"-"` // bcrypt 哈希
	CreditBalance int64     `gorm:"not null;default:0" json:"credit_balance"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// PublicProfile 对外暴露的用户信息
type PublicProfile struct {
	Name string `json:"name"`
}

func (u *User) Profile() PublicProfile {
	return PublicProfile{Name: u.Name}
}

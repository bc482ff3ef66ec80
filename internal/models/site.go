package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Flag 上游面板的布尔开关，兼容 true/false、0/1 与 "0"/"1"
type Flag bool

// UnmarshalJSON 解析上游返回的开关值
func (f *Flag) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch raw {
	case "null", "false", "0", `"0"`, `""`, `"false"`:
		*f = false
		return nil
	case "true", "1", `"1"`, `"true"`:
		*f = true
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n != 0
		return nil
	}

	return fmt.Errorf("invalid flag value %s", raw)
}

// SiteConfig 站点级开关，由上游 guest 配置接口提供
type SiteConfig struct {
	IsInviteForce Flag `json:"is_invite_force"`
	IsEmailVerify Flag `json:"is_email_verify"`
}

// Notification 瞬时通知（前端以 snackbar 展示）
type Notification struct {
	Key     string `json:"key"`
	Variant string `json:"variant"`
}

const (
	VariantSuccess = "success"
	VariantError   = "error"
)

// Redirect 成功后的前端跳转指令
type Redirect struct {
	To      string `json:"to"`
	Replace bool   `json:"replace"`
}

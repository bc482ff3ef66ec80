package register

import "strings"

// StrengthLevel 密码强度等级，仅用于提示，不参与提交校验
type StrengthLevel struct {
	Score int    `json:"score"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Context i18n 上下文，如 register.password_strength_poor
func (l StrengthLevel) Context() string {
	return strings.ToLower(l.Label)
}

var strengthLevels = [...]StrengthLevel{
	{Score: 0, Label: "Poor", Color: "error.main"},
	{Score: 1, Label: "Weak", Color: "warning.main"},
	{Score: 2, Label: "Normal", Color: "warning.dark"},
	{Score: 3, Label: "Good", Color: "success.main"},
	{Score: 4, Label: "Strong", Color: "success.dark"},
}

const specialChars = "!#@$%^&*)(+=._-"

// Score 计算密码强度 0..4
func Score(password string) int {
	criteria := 0
	n := len([]rune(password))
	if n > 5 {
		criteria++
	}
	if n > 7 {
		criteria++
	}

	var hasDigit, hasSpecial, hasLower, hasUpper bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		}
	}
	if hasDigit {
		criteria++
	}
	if hasSpecial {
		criteria++
	}
	if hasLower && hasUpper {
		criteria++
	}

	// 0-1 项为 Poor，此后每多满足一项升一级
	if criteria < 2 {
		return 0
	}
	return criteria - 1
}

// Strength 返回密码对应的强度等级
func Strength(password string) StrengthLevel {
	return strengthLevels[Score(password)]
}

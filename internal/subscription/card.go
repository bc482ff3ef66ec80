package subscription

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/panel-gateway/internal/models"
)

const bytesPerGiB = 1073741824

// i18n 消息键
const (
	KeyTitle   = "dashboard.subscription-card.title"
	KeyExpire  = "dashboard.subscription-card.expire"
	KeyTraffic = "dashboard.subscription-card.traffic"

	ContextForever = "forever"
	ContextLimited = "limited"
)

// Expiration 到期说明
type Expiration struct {
	Key           string `json:"key"`
	Context       string `json:"context"`
	Date          string `json:"date,omitempty"`
	RemainingDays *int   `json:"count,omitempty"`
	ResetDay      *int   `json:"reset_date,omitempty"`
	Text          string `json:"text"`
}

// Traffic 流量使用说明，单位 GiB
type Traffic struct {
	Key   string  `json:"key"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
	Line  string  `json:"line"`
	Text  string  `json:"text"`
}

// Card 订阅卡片视图
type Card struct {
	Title      string      `json:"title"`
	Loading    bool        `json:"loading"`
	PlanName   string      `json:"plan_name,omitempty"`
	Expiration *Expiration `json:"expiration,omitempty"`
	Progress   float64     `json:"progress"`
	Percent    float64     `json:"percent"`
	NoQuota    bool        `json:"no_quota,omitempty"`
	Traffic    *Traffic    `json:"traffic,omitempty"`
}

// Render 由订阅信息推导卡片；info 为 nil 表示尚未加载
func Render(info *models.SubscriptionInfo, now time.Time) Card {
	if info == nil {
		return Card{Title: KeyTitle, Loading: true}
	}

	progress, noQuota := Ratio(info.U, info.D, info.TransferEnable)
	return Card{
		Title:      KeyTitle,
		PlanName:   info.Plan.Name,
		Expiration: expiration(info, now),
		Progress:   progress,
		Percent:    progress * 100,
		NoQuota:    noQuota,
		Traffic:    traffic(info),
	}
}

// Ratio 已用流量占比，限制在 [0,1]；配额为 0 时视为已用尽
func Ratio(u, d, transferEnable int64) (float64, bool) {
	if transferEnable <= 0 {
		return 1, true
	}
	r := float64(u+d) / float64(transferEnable)
	return math.Max(0, math.Min(1, r)), false
}

// RemainingDays 距到期的整天数，已过期时为 0
func RemainingDays(expiredAt, now time.Time) int {
	days := int(expiredAt.Sub(now) / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// GiB 字节换算为 GiB 并保留两位小数
func GiB(bytes int64) float64 {
	return math.Round(float64(bytes)/bytesPerGiB*100) / 100
}

func expiration(info *models.SubscriptionInfo, now time.Time) *Expiration {
	e := &Expiration{Key: KeyExpire, ResetDay: info.ResetDay}

	if info.ExpiredAt == nil {
		e.Context = ContextForever
		e.Text = "Your subscription never expires."
	} else {
		expiredAt := time.Unix(*info.ExpiredAt, 0).In(now.Location())
		remaining := RemainingDays(expiredAt, now)
		e.Context = ContextLimited
		e.Date = expiredAt.Format("2006/01/02")
		e.RemainingDays = &remaining
		e.Text = fmt.Sprintf("Your subscription expires on %s, %d %s left.", e.Date, remaining, plural(remaining, "day"))
	}

	if info.ResetDay != nil {
		e.Text += fmt.Sprintf(" Traffic resets in %d %s.", *info.ResetDay, plural(*info.ResetDay, "day"))
	}
	return e
}

func traffic(info *models.SubscriptionInfo) *Traffic {
	used := GiB(info.U + info.D)
	total := GiB(info.TransferEnable)
	line := formatNumber(used) + " / " + formatNumber(total)
	return &Traffic{
		Key:   KeyTraffic,
		Used:  used,
		Total: total,
		Line:  line,
		Text:  line + " GiB",
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

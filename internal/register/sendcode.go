package register

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/panel-gateway/internal/cache"
	"github.com/panel-gateway/internal/models"
)

// CodeRequester 上游发送邮箱验证码接口
type CodeRequester interface {
	SendEmailVerificationCode(ctx context.Context, email string) error
}

// CodeSender 发送验证码命令，结果只通过通知返回，不影响表单状态
type CodeSender struct {
	requester CodeRequester
	store     cache.Store
	cooldown  time.Duration
	logger    logrus.FieldLogger
}

func NewCodeSender(requester CodeRequester, store cache.Store, cooldown time.Duration, logger logrus.FieldLogger) *CodeSender {
	return &CodeSender{
		requester: requester,
		store:     store,
		cooldown:  cooldown,
		logger:    logger.WithField("component", "sendcode"),
	}
}

// Send 向邮箱发送验证码；error 仅用于记录原因和选择状态码
func (s *CodeSender) Send(ctx context.Context, email string) (models.Notification, error) {
	key := "register:email_code:" + strings.ToLower(strings.TrimSpace(email))

	if s.store != nil && s.cooldown > 0 {
		ok, err := s.store.SetNX(ctx, key, s.cooldown)
		if err != nil {
			s.logger.WithError(err).Warn("cooldown check failed")
		} else if !ok {
			return failNotice(), ErrCooldown
		}
	}

	if err := s.requester.SendEmailVerificationCode(ctx, email); err != nil {
		s.logger.WithError(err).WithField("email", email).Error("send email code error")
		if s.store != nil && s.cooldown > 0 {
			// 失败不占用冷却时间，允许立即重试
			if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.WithError(delErr).Warn("release cooldown failed")
			}
		}
		return failNotice(), fmt.Errorf("send email code: %w", err)
	}

	s.logger.WithField("email", email).Info("email code sent")
	return models.Notification{Key: NoticeSendEmailCodeSuccess, Variant: models.VariantSuccess}, nil
}

func failNotice() models.Notification {
	return models.Notification{Key: NoticeSendEmailCodeFail, Variant: models.VariantError}
}

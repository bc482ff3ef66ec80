package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/panel-gateway/internal/middleware"
	"github.com/panel-gateway/internal/panel"
	"github.com/panel-gateway/internal/subscription"
)

// handleSubscription 渲染当前用户的订阅卡片
func handleSubscription(subs subscriptionFetcher, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := middleware.SessionClaims(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		loc := time.UTC
		if tz := c.Query("tz"); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time zone"})
				return
			}
			loc = l
		}

		info, err := subs.GetUserSubscription(c.Request.Context(), claims.PanelAuth)
		if err != nil {
			var apiErr *panel.APIError
			if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": apiErr.Message})
				return
			}
			logger.WithError(err).WithField("user_id", claims.Subject).Error("load subscription failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load subscription"})
			return
		}

		c.JSON(http.StatusOK, subscription.Render(info, time.Now().In(loc)))
	}
}

// handleRegistrationAttempts 查询某邮箱最近的注册尝试
func handleRegistrationAttempts(attempts attemptLister, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Query("email")
		if email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 200 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}

		events, err := attempts.Recent(c.Request.Context(), email, limit)
		if err != nil {
			logger.WithError(err).Error("list registration attempts failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attempts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"attempts": events})
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/panel-gateway/internal/audit"
	"github.com/panel-gateway/internal/auth"
	"github.com/panel-gateway/internal/cache"
	"github.com/panel-gateway/internal/config"
	"github.com/panel-gateway/internal/models"
	"github.com/panel-gateway/internal/panel"
	"github.com/panel-gateway/internal/register"
)

type siteConfigReader interface {
	Get(ctx context.Context) (models.SiteConfig, error)
}

type codeSender interface {
	Send(ctx context.Context, email string) (models.Notification, error)
}

type subscriptionFetcher interface {
	GetUserSubscription(ctx context.Context, authData string) (*models.SubscriptionInfo, error)
}

type attemptLister interface {
	Recent(ctx context.Context, email string, limit int) ([]audit.Event, error)
}

// gateway 路由装配时使用的依赖集合
type gateway struct {
	sites     siteConfigReader
	registrar register.Registrar
	codes     codeSender
	subs      subscriptionFetcher
	store     cache.Store
	sessions  *auth.Service
	audit     audit.Recorder
	attempts  attemptLister
	cfg       *config.Config
	logger    logrus.FieldLogger
}

func formRoutes(cfg *config.Config) register.Routes {
	return register.Routes{
		Landing:        cfg.Routes.Landing,
		TermsOfService: cfg.Routes.TermsOfService,
		PrivacyPolicy:  cfg.Routes.PrivacyPolicy,
	}
}

// collector 收集一次请求内产生的通知与跳转
type collector struct {
	notifications []models.Notification
	redirect      *models.Redirect
}

func (c *collector) Notify(n models.Notification) {
	c.notifications = append(c.notifications, n)
}

func (c *collector) Navigate(to string, replace bool) {
	c.redirect = &models.Redirect{To: to, Replace: replace}
}

type formRequest struct {
	FormID string `json:"form_id"`
	models.RegistrationInput
	Touched map[string]bool `json:"touched"`
}

type formResponse struct {
	Outcome       register.Outcome      `json:"outcome"`
	State         register.State        `json:"state"`
	Notifications []models.Notification `json:"notifications,omitempty"`
	Redirect      *models.Redirect      `json:"redirect,omitempty"`
	Token         string                `json:"token,omitempty"`
}

func handleGuestConfig(sites siteConfigReader, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := sites.Get(c.Request.Context())
		if err != nil {
			logger.WithError(err).Error("load site config failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load site config"})
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

// handleRegisterForm 返回注册表单描述与新的表单 ID
func handleRegisterForm(sites siteConfigReader, routes register.Routes, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := sites.Get(c.Request.Context())
		if err != nil {
			logger.WithError(err).Error("load site config failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load site config"})
			return
		}

		form := register.NewForm(cfg, register.Deps{Routes: routes})
		defer form.Close()

		c.JSON(http.StatusOK, gin.H{
			"form_id":    uuid.NewString(),
			"descriptor": form.Descriptor(),
		})
	}
}

func handlePasswordStrength() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		level := register.Strength(req.Password)
		c.JSON(http.StatusOK, gin.H{
			"strength": level,
			"context":  level.Context(),
		})
	}
}

// handleValidate 对已触碰字段做即时校验
func handleValidate(sites siteConfigReader, routes register.Routes, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req formRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cfg, err := sites.Get(c.Request.Context())
		if err != nil {
			logger.WithError(err).Error("load site config failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load site config"})
			return
		}

		form := restoreForm(cfg, &req, register.Deps{Routes: routes})
		defer form.Close()

		state := form.State()
		visible := register.FieldErrors{}
		for field, msg := range state.Errors {
			if state.Touched[field] {
				visible[field] = msg
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"errors":   visible,
			"strength": state.Strength,
		})
	}
}

// handleRegister 执行注册提交流程
func handleRegister(
	sites siteConfigReader,
	registrar register.Registrar,
	store cache.Store,
	sessions *auth.Service,
	recorder audit.Recorder,
	cfg *config.Config,
	logger logrus.FieldLogger,
) gin.HandlerFunc {
	routes := formRoutes(cfg)

	return func(c *gin.Context) {
		var req formRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		site, err := sites.Get(ctx)
		if err != nil {
			logger.WithError(err).Error("load site config failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load site config"})
			return
		}

		// 同一表单同一时间只允许一个提交
		lockKey := "register:inflight:" + submitKey(&req)
		locked, err := store.SetNX(ctx, lockKey, cfg.Cache.SubmitLockTTL)
		if err != nil {
			logger.WithError(err).Warn("acquire submit lock failed")
		} else if !locked {
			c.JSON(http.StatusConflict, formResponse{Outcome: register.OutcomeInFlight})
			return
		} else {
			defer func() {
				if err := store.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
					logger.WithError(err).Warn("release submit lock failed")
				}
			}()
		}

		out := &collector{}
		form := restoreForm(site, &req, register.Deps{
			Registrar: registrar,
			Notifier:  out,
			Navigator: out,
			Routes:    routes,
		})
		defer form.Close()

		result := form.Submit(ctx)
		recordAttempt(c, recorder, &req, result, logger)

		resp := formResponse{
			Outcome:       result.Outcome,
			State:         form.State(),
			Notifications: out.notifications,
			Redirect:      out.redirect,
		}
		resp.State.Values.Password = ""

		switch result.Outcome {
		case register.OutcomeSucceeded:
			token, err := sessions.Issue(req.Email, result.Auth)
			if err != nil {
				// 账号已创建但无法建立会话，不跳转到需要登录的页面
				logger.WithError(err).WithField("email", req.Email).Warn("issue session failed")
				resp.Redirect = nil
			} else {
				resp.Token = token
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(cfg.Session.CookieName, token, int(sessions.Expiry()/time.Second), "/", "", cfg.IsProduction(), true)
			}
			c.JSON(http.StatusCreated, resp)
		case register.OutcomeInvalid, register.OutcomeAgreementRequired:
			c.JSON(http.StatusUnprocessableEntity, resp)
		case register.OutcomeRejected:
			var apiErr *panel.APIError
			if errors.As(result.Err, &apiErr) {
				c.JSON(http.StatusBadRequest, resp)
				return
			}
			logger.WithError(result.Err).WithField("email", req.Email).Error("register request failed")
			c.JSON(http.StatusBadGateway, resp)
		default:
			c.JSON(http.StatusConflict, resp)
		}
	}
}

// handleSendEmailCode 发送邮箱验证码，结果以通知形式返回
func handleSendEmailCode(codes codeSender) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notice, err := codes.Send(c.Request.Context(), req.Email)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"notification": notice})
		case errors.Is(err, register.ErrCooldown):
			c.JSON(http.StatusTooManyRequests, gin.H{"notification": notice})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"notification": notice})
		}
	}
}

func restoreForm(cfg models.SiteConfig, req *formRequest, deps register.Deps) *register.Form {
	form := register.NewForm(cfg, deps)
	form.SetValues(req.RegistrationInput)
	for field, touched := range req.Touched {
		if touched {
			form.Blur(field)
		}
	}
	return form
}

func recordAttempt(c *gin.Context, recorder audit.Recorder, req *formRequest, result register.SubmitResult, logger logrus.FieldLogger) {
	if result.Outcome == register.OutcomeInFlight || result.Outcome == register.OutcomeDiscarded {
		return
	}
	err := recorder.Record(c.Request.Context(), audit.Event{
		Email:      req.Email,
		InviteCode: req.InviteCode,
		Outcome:    string(result.Outcome),
		Message:    result.Message,
		ClientIP:   c.ClientIP(),
	})
	if err != nil {
		logger.WithError(err).Warn("record registration attempt failed")
	}
}

func submitKey(req *formRequest) string {
	if req.FormID != "" {
		return req.FormID
	}
	return strings.ToLower(strings.TrimSpace(req.Email))
}

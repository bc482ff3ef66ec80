package register

import (
	"context"
	"fmt"
	"sync"

	"github.com/panel-gateway/internal/models"
)

// 通知消息键
const (
	NoticeRegisterSuccess      = "notice::register_success"
	NoticeSendEmailCodeSuccess = "notice::send_email_code_success"
	NoticeSendEmailCodeFail    = "notice::send_email_code_fail"
)

// Registrar 上游注册接口
type Registrar interface {
	Register(ctx context.Context, payload models.RegisterPayload) (*models.AuthData, error)
}

// Notifier 瞬时通知通道
type Notifier interface {
	Notify(n models.Notification)
}

// Navigator 前端路由跳转
type Navigator interface {
	Navigate(to string, replace bool)
}

// Routes 表单涉及的前端路由
type Routes struct {
	Landing        string
	TermsOfService string
	PrivacyPolicy  string
}

// Deps 表单的外部协作者
type Deps struct {
	Registrar Registrar
	Notifier  Notifier
	Navigator Navigator
	Routes    Routes
}

// Outcome 一次提交的结果类别
type Outcome string

const (
	OutcomeInvalid           Outcome = "invalid"
	OutcomeAgreementRequired Outcome = "agreement_required"
	OutcomeRejected          Outcome = "rejected"
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeInFlight          Outcome = "in_flight"
	OutcomeDiscarded         Outcome = "discarded"
)

// SubmitResult 提交结果；Err 为上游调用失败的原始错误，仅 rejected 时非空
type SubmitResult struct {
	Outcome Outcome
	Errors  FieldErrors
	Message string
	Err     error
	Auth    *models.AuthData
}

// State 表单状态快照
type State struct {
	Values     models.RegistrationInput `json:"values"`
	Touched    map[string]bool          `json:"touched"`
	Errors     FieldErrors              `json:"errors"`
	Success    *bool                    `json:"success,omitempty"`
	Submitting bool                     `json:"submitting"`
	Strength   StrengthLevel            `json:"strength"`
}

// Form 注册表单控制器
type Form struct {
	mu        sync.Mutex
	cfg       models.SiteConfig
	validator *Validator
	deps      Deps
	state     State

	life   context.Context
	cancel context.CancelFunc
	closed bool
}

// NewForm 按站点配置创建表单，初始强度由空密码计算
func NewForm(cfg models.SiteConfig, deps Deps) *Form {
	life, cancel := context.WithCancel(context.Background())
	return &Form{
		cfg:       cfg,
		validator: BuildValidator(cfg),
		deps:      deps,
		state: State{
			Touched:  map[string]bool{},
			Errors:   FieldErrors{},
			Strength: Strength(""),
		},
		life:   life,
		cancel: cancel,
	}
}

// SetValue 更新文本字段
func (f *Form) SetValue(field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch field {
	case FieldEmail:
		f.state.Values.Email = value
	case FieldPassword:
		f.state.Values.Password = value
		f.state.Strength = Strength(value)
	case FieldInviteCode:
		f.state.Values.InviteCode = value
	case FieldEmailCode:
		f.state.Values.EmailCode = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	f.state.Errors = f.validator.Validate(f.state.Values)
	return nil
}

// SetValues 整体替换表单值（服务端恢复前端提交的表单时使用）
func (f *Form) SetValues(in models.RegistrationInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Values = in
	f.state.Strength = Strength(in.Password)
	f.state.Errors = f.validator.Validate(in)
}

// SetAgree 勾选或取消服务条款
func (f *Form) SetAgree(agree bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Values.Agree = agree
}

// Blur 字段失焦：标记已触碰并重新校验
func (f *Form) Blur(field string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Touched[field] = true
	f.state.Errors = f.validator.Validate(f.state.Values)
}

// State 返回当前状态的副本
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Close 表单销毁，之后到达的响应被丢弃
func (f *Form) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cancel()
}

// Submit 执行提交流程：校验、条款检查、调用上游、处理结果
func (f *Form) Submit(ctx context.Context) SubmitResult {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return SubmitResult{Outcome: OutcomeDiscarded}
	}
	if f.state.Submitting {
		f.mu.Unlock()
		return SubmitResult{Outcome: OutcomeInFlight}
	}

	for _, field := range f.validator.Fields() {
		f.state.Touched[field] = true
	}
	f.state.Errors = f.validator.Validate(f.state.Values)
	if len(f.state.Errors) > 0 {
		errs := copyErrors(f.state.Errors)
		f.mu.Unlock()
		return SubmitResult{Outcome: OutcomeInvalid, Errors: errs}
	}

	if !f.state.Values.Agree {
		f.fail(MsgAgreeRequired)
		f.mu.Unlock()
		return SubmitResult{Outcome: OutcomeAgreementRequired, Message: MsgAgreeRequired}
	}

	f.state.Submitting = true
	payload := f.payload()
	f.mu.Unlock()

	auth, err := f.register(ctx, payload)

	f.mu.Lock()
	f.state.Submitting = false
	if f.closed {
		f.mu.Unlock()
		return SubmitResult{Outcome: OutcomeDiscarded}
	}

	if err != nil {
		msg := err.Error()
		f.fail(msg)
		f.mu.Unlock()
		return SubmitResult{Outcome: OutcomeRejected, Message: msg, Err: err}
	}

	success := true
	f.state.Success = &success
	f.mu.Unlock()

	if f.deps.Notifier != nil {
		f.deps.Notifier.Notify(models.Notification{Key: NoticeRegisterSuccess, Variant: models.VariantSuccess})
	}
	if f.deps.Navigator != nil {
		f.deps.Navigator.Navigate(f.deps.Routes.Landing, true)
	}
	return SubmitResult{Outcome: OutcomeSucceeded, Auth: auth}
}

// register 调用上游；表单关闭时取消请求，panic 转为提交错误
func (f *Form) register(ctx context.Context, payload models.RegisterPayload) (auth *models.AuthData, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.life, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			auth = nil
			err = fmt.Errorf("%v", r)
		}
	}()

	if f.deps.Registrar == nil {
		return nil, ErrNoRegistrar
	}
	auth, err = f.deps.Registrar.Register(ctx, payload)
	if err == nil && auth == nil {
		auth = &models.AuthData{}
	}
	return auth, err
}

// payload 未开启邮箱验证时清空验证码，避免向上游发送失效字段
func (f *Form) payload() models.RegisterPayload {
	v := f.state.Values
	p := models.RegisterPayload{
		Email:      v.Email,
		Password:   v.Password,
		InviteCode: v.InviteCode,
	}
	if f.cfg.IsEmailVerify {
		p.EmailCode = v.EmailCode
	}
	return p
}

func (f *Form) fail(msg string) {
	success := false
	f.state.Success = &success
	f.state.Errors[FieldSubmit] = msg
}

func (f *Form) snapshot() State {
	s := f.state
	s.Touched = make(map[string]bool, len(f.state.Touched))
	for k, v := range f.state.Touched {
		s.Touched[k] = v
	}
	s.Errors = copyErrors(f.state.Errors)
	if f.state.Success != nil {
		success := *f.state.Success
		s.Success = &success
	}
	return s
}

func copyErrors(in FieldErrors) FieldErrors {
	out := make(FieldErrors, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// 错误定义
var (
	ErrUnknownField = Error("unknown form field")
	ErrNoRegistrar  = Error("registration is unavailable")
	ErrCooldown     = Error("verification code requested too frequently")
)

type Error string

func (e Error) Error() string {
	return string(e)
}

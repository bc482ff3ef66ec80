package register

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/panel-gateway/internal/models"
)

const (
	FieldEmail      = "email"
	FieldPassword   = "password"
	FieldInviteCode = "invite_code"
	FieldEmailCode  = "email_code"
	FieldAgree      = "agree"
	FieldSubmit     = "submit"
)

// 表单字段的 i18n 消息键
const (
	MsgEmailRequired      = "register.email_required"
	MsgEmailInvalid       = "register.email_invalid"
	MsgEmailMax           = "register.email_max"
	MsgPasswordRequired   = "register.password_required"
	MsgPasswordMax        = "register.password_max"
	MsgInviteCodeRequired = "register.invite_code_required"
	MsgInviteCodeMax      = "register.invite_code_max"
	MsgEmailCodeRequired  = "register.email_code_required"
	MsgEmailCodeInvalid   = "register.email_code_invalid"
	MsgAgreeRequired      = "register.agree_required"
)

// FieldErrors 字段名到消息键，submit 为表单级错误
type FieldErrors map[string]string

var validate = validator.New()

type rule struct {
	field    string
	tag      string
	messages map[string]string
}

// Validator 由站点配置推导出的注册表单校验规则，配置变化时重新构建
type Validator struct {
	rules []rule
}

// BuildValidator 根据站点配置构建校验器
func BuildValidator(cfg models.SiteConfig) *Validator {
	rules := []rule{
		{
			field: FieldEmail,
			tag:   "required,email,max=255",
			messages: map[string]string{
				"required": MsgEmailRequired,
				"email":    MsgEmailInvalid,
				"max":      MsgEmailMax,
			},
		},
		{
			field: FieldPassword,
			tag:   "required,max=255",
			messages: map[string]string{
				"required": MsgPasswordRequired,
				"max":      MsgPasswordMax,
			},
		},
	}

	invite := rule{
		field:    FieldInviteCode,
		tag:      "max=8",
		messages: map[string]string{"max": MsgInviteCodeMax, "required": MsgInviteCodeRequired},
	}
	if cfg.IsInviteForce {
		invite.tag = "required,max=8"
	}
	rules = append(rules, invite)

	// 未开启邮箱验证时验证码字段不参与校验
	if cfg.IsEmailVerify {
		rules = append(rules, rule{
			field: FieldEmailCode,
			tag:   "required,number,len=6",
			messages: map[string]string{
				"required": MsgEmailCodeRequired,
				"number":   MsgEmailCodeInvalid,
				"len":      MsgEmailCodeInvalid,
			},
		})
	}

	return &Validator{rules: rules}
}

// Validate 校验全部字段，每个字段只返回第一条失败规则
func (v *Validator) Validate(in models.RegistrationInput) FieldErrors {
	errs := FieldErrors{}
	for _, r := range v.rules {
		if msg := r.check(in); msg != "" {
			errs[r.field] = msg
		}
	}
	return errs
}

// ValidateField 校验单个字段，通过时返回空串
func (v *Validator) ValidateField(field string, in models.RegistrationInput) string {
	for _, r := range v.rules {
		if r.field == field {
			return r.check(in)
		}
	}
	return ""
}

// Fields 当前参与校验的字段
func (v *Validator) Fields() []string {
	fields := make([]string, 0, len(v.rules))
	for _, r := range v.rules {
		fields = append(fields, r.field)
	}
	return fields
}

func (r rule) check(in models.RegistrationInput) string {
	err := validate.Var(fieldValue(in, r.field), r.tag)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := r.messages[verrs[0].Tag()]; ok {
			return msg
		}
	}
	return "register." + r.field + "_invalid"
}

func fieldValue(in models.RegistrationInput, field string) string {
	switch field {
	case FieldEmail:
		return in.Email
	case FieldPassword:
		return in.Password
	case FieldInviteCode:
		return in.InviteCode
	case FieldEmailCode:
		return in.EmailCode
	default:
		return ""
	}
}

package register

// FieldDescriptor 前端渲染单个字段所需的信息
type FieldDescriptor struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	Required           bool   `json:"required"`
	MaxLength          int    `json:"max_length,omitempty"`
	Digits             int    `json:"digits,omitempty"`
	PlaceholderContext string `json:"placeholder_context,omitempty"`
}

// Link 服务条款等内联链接
type Link struct {
	ID string `json:"id"`
	To string `json:"to"`
}

// Descriptor 注册表单的渲染描述
type Descriptor struct {
	Fields         []FieldDescriptor `json:"fields"`
	SendCodeAction bool              `json:"send_code_action"`
	Links          []Link            `json:"links"`
	Strength       StrengthLevel     `json:"strength"`
}

// Descriptor 按站点配置描述需要渲染的字段
func (f *Form) Descriptor() Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()

	verify := bool(f.cfg.IsEmailVerify)
	force := bool(f.cfg.IsInviteForce)

	fields := []FieldDescriptor{
		{Name: FieldEmail, Type: "email", Required: true, MaxLength: 255},
	}
	if verify {
		fields = append(fields, FieldDescriptor{Name: FieldEmailCode, Type: "otp", Required: true, Digits: 6})
	}

	placeholder := "optional"
	if force {
		placeholder = "required"
	}
	fields = append(fields,
		FieldDescriptor{Name: FieldPassword, Type: "password", Required: true, MaxLength: 255},
		FieldDescriptor{Name: FieldInviteCode, Type: "text", Required: force, MaxLength: 8, PlaceholderContext: placeholder},
		FieldDescriptor{Name: FieldAgree, Type: "checkbox", Required: true},
	)

	return Descriptor{
		Fields:         fields,
		SendCodeAction: verify,
		Links: []Link{
			{ID: "terms-of-service", To: f.deps.Routes.TermsOfService},
			{ID: "privacy-policy", To: f.deps.Routes.PrivacyPolicy},
		},
		Strength: f.state.Strength,
	}
}

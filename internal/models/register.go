package models

// RegistrationInput 注册表单字段
type RegistrationInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
	EmailCode  string `json:"email_code"`
	Agree      bool   `json:"agree"`
}

// RegisterPayload 发送给上游注册接口的请求体
type RegisterPayload struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
	EmailCode  string `json:"email_code"`
}

// AuthData 上游注册成功后返回的凭据
type AuthData struct {
	Token    string `json:"token"`
	AuthData string `json:"auth_data"`
	IsAdmin  Flag   `json:"is_admin"`
}

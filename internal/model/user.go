package model

import "time"

// ユーザーの権限。
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
)

// User は管理画面を利用できる編集者。
// usersコレクションに格納され、ログイン可否の許可リストを兼ねる。
type User struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
	Role  string `yaml:"role,omitempty" json:"role,omitempty"`
	Image string `yaml:"image,omitempty" json:"image,omitempty"`
	Base  `yaml:",inline"`
}

func (*User) Kind() Kind               { return KindUser }
func (u *User) SlugSource() string     { return u.Name }
func (*User) RequiredFields() []string { return []string{"name", "email"} }

func (u *User) Validate() error {
	if err := requireFields("name", u.Name, "email", u.Email); err != nil {
		return err
	}
	if u.Role != "" && u.Role != RoleAdmin && u.Role != RoleEditor {
		return NewValidationError("role", "must be admin or editor")
	}
	return nil
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserSlug  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

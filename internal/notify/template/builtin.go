package template

// Built-in defaults shipped with the binary. They apply when neither a
// tenant override nor a shared custom template of the same name exists.
var builtIns = map[string]Template{
	"welcome": {
		Name:        "welcome",
		Subject:     "Welcome to {{building_name}}",
		Description: "Sent to newly registered residents",
		Variables:   []string{"user_name", "building_name", "login_url"},
		BodyRich: `<html><body>
<h2>Welcome, {{user_name}}!</h2>
<p>Your account for {{building_name}} is ready.</p>
<p><a href="{{login_url}}">Sign in</a></p>
</body></html>`,
		BodyPlain: "Welcome, {{user_name}}! Your account for {{building_name}} is ready. Sign in: {{login_url}}",
	},
	"password_reset": {
		Name:        "password_reset",
		Subject:     "Password reset request",
		Description: "Sent when a user asks for a password reset",
		Variables:   []string{"user_name", "reset_link", "expire_time"},
		BodyRich: `<html><body>
<h2>Hello {{user_name}},</h2>
<p>Use the link below to choose a new password.</p>
<p><a href="{{reset_link}}">Reset password</a></p>
<p>The link expires in {{expire_time}}.</p>
</body></html>`,
		BodyPlain: "Hello {{user_name}}, reset your password here: {{reset_link}} (expires in {{expire_time}}).",
	},
	"announcement": {
		Name:        "announcement",
		Subject:     "{{building_name}} - {{announcement_title}}",
		Description: "Building announcements",
		Variables:   []string{"user_name", "building_name", "announcement_title", "announcement_content", "announcement_date"},
		BodyRich: `<html><body>
<p>{{announcement_date}}</p>
<h2>{{announcement_title}}</h2>
<p>Dear {{user_name}},</p>
<p>{{announcement_content}}</p>
<p>Sent by the management of {{building_name}}.</p>
</body></html>`,
		BodyPlain: "{{building_name}} - {{announcement_title}}\n\nDear {{user_name}},\n\n{{announcement_content}}\n\nDate: {{announcement_date}}",
	},
	"payment_reminder": {
		Name:        "payment_reminder",
		Subject:     "Dues reminder - {{month}}",
		Description: "Monthly dues reminder",
		Variables:   []string{"user_name", "building_name", "month", "amount", "due_date", "payment_link"},
		BodyRich: `<html><body>
<h2>Dear {{user_name}},</h2>
<p>This is a reminder for the {{month}} dues of {{building_name}}.</p>
<table>
<tr><td>Amount</td><td>{{amount}} {{currency}}</td></tr>
<tr><td>Due date</td><td>{{due_date}}</td></tr>
</table>
<p><a href="{{payment_link}}">Pay now</a></p>
</body></html>`,
		BodyPlain: "Dear {{user_name}}, your {{month}} dues for {{building_name}} are {{amount}} {{currency}}, due {{due_date}}.",
	},
	"request_status": {
		Name:        "request_status",
		Subject:     "Request #{{request_id}} updated",
		Description: "Sent when a maintenance request changes status",
		Variables:   []string{"user_name", "request_id", "request_title", "old_status", "new_status", "admin_note"},
		BodyRich: `<html><body>
<h2>Dear {{user_name}},</h2>
<p>Your request <strong>{{request_title}}</strong> (#{{request_id}}) moved from {{old_status}} to {{new_status}}.</p>
<p>{{admin_note}}</p>
</body></html>`,
		BodyPlain: "Dear {{user_name}}, request #{{request_id}} moved from {{old_status}} to {{new_status}}. Note: {{admin_note}}",
	},
}

// BuiltIn returns the compiled-in default for name.
func BuiltIn(name string) (Template, bool) {
	tpl, ok := builtIns[name]
	if !ok {
		return Template{}, false
	}
	tpl.Scope = ScopeBuiltInDefault
	tpl.Active = true
	tpl.Variables = append([]string(nil), tpl.Variables...)
	return tpl, true
}

// BuiltIns returns every compiled-in default.
func BuiltIns() []Template {
	out := make([]Template, 0, len(builtIns))
	for name := range builtIns {
		tpl, _ := BuiltIn(name)
		out = append(out, tpl)
	}
	sortTemplates(out)
	return out
}

package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const (
	TwoFactorSubject     = "Your admin sign-in code"
	PasswordResetSubject = "Reset your admin password"
)

var twoFactorTemplate = template.Must(template.New("two_factor").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <p>Use this code to finish signing in to the admin console:</p>
  <p style="font-size: 24px; letter-spacing: 4px;"><strong>{{.Code}}</strong></p>
  <p>The code expires in {{.Minutes}} minutes and can be used once.</p>
  <p>If you did not try to sign in, change your password.</p>
</body>
</html>`))

var passwordResetTemplate = template.Must(template.New("password_reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <p>A password reset was requested for your admin account.</p>
  <p><a href="{{.Link}}">Choose a new password</a></p>
  <p>The link expires in {{.Minutes}} minutes and can be used once.
  Completing the reset signs out every active session.</p>
  <p>If you did not request this, you can ignore this message.</p>
</body>
</html>`))

// RenderTwoFactorCode returns the HTML body of the sign-in code mail.
func RenderTwoFactorCode(code string, ttl time.Duration) (string, error) {
	return render(twoFactorTemplate, struct {
		Code    string
		Minutes int
	}{code, int(ttl.Minutes())})
}

// RenderPasswordReset returns the HTML body of the reset-link mail.
func RenderPasswordReset(link string, ttl time.Duration) (string, error) {
	return render(passwordResetTemplate, struct {
		Link    string
		Minutes int
	}{link, int(ttl.Minutes())})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s mail: %w", t.Name(), err)
	}
	return buf.String(), nil
}

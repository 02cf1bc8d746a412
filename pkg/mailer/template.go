package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// ReleaseMail 新版本通知邮件的数据
type ReleaseMail struct {
	UserName  string
	AppName   string
	Version   string
	ReleaseID string
	SentAt    time.Time
}

const releaseBodyTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>新版本可供测试</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { width: 100%; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f5f5f5; padding: 10px; border-radius: 5px; }
        .footer { font-size: 12px; color: #999; margin-top: 30px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2>{{.AppName}} {{.Version}} 可供测试</h2>
        </div>
        <p>{{if .UserName}}{{.UserName}}，你好：{{else}}你好：{{end}}</p>
        <p>{{.AppName}} 的新版本 <strong>{{.Version}}</strong> 已处理完成，可以在控制台中安装。</p>
        <p>发布编号: {{.ReleaseID}}</p>
        <p>发送时间: {{formatTime .SentAt}}</p>
        <div class="footer">
            <p>此邮件由系统自动发送，请勿回复。</p>
        </div>
    </div>
</body>
</html>
`

var releaseBody = template.Must(template.New("release").Funcs(template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	},
}).Parse(releaseBodyTemplate))

// RenderReleaseMail 渲染新版本通知邮件
func RenderReleaseMail(to string, data ReleaseMail) (Message, error) {
	if data.SentAt.IsZero() {
		data.SentAt = time.Now()
	}
	var body bytes.Buffer
	if err := releaseBody.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("渲染正文模板失败: %w", err)
	}
	return Message{
		To:       []string{to},
		Subject:  fmt.Sprintf("【新版本】%s %s", data.AppName, data.Version),
		HTMLBody: body.String(),
	}, nil
}

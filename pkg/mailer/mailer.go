// Package mailer 提供 SMTP 邮件发送与新版本通知邮件模板
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"deploymate/pkg/core/config"
)

// Message 待发送的邮件
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

// Mailer 邮件发送能力
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer 基于 net/smtp 的发送实现
type SMTPMailer struct {
	config config.MailConfig
	dial   func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewSMTPMailer 未配置 SMTP 时返回 false，调用方据此跳过发信
func NewSMTPMailer(cfg config.MailConfig, proxyConfig config.ProxyConfig) (*SMTPMailer, bool) {
	if !cfg.Configured() {
		return nil, false
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &SMTPMailer{config: cfg, dial: proxyConfig.GetContextDialer()}, true
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("收件人列表不能为空")
	}

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	conn, err := m.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接SMTP服务器失败: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	// UseTLS 表示隐式 TLS（465 端口），否则在服务端支持时升级 STARTTLS
	tlsConfig := &tls.Config{ServerName: m.config.Host}
	if m.config.UseTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建SMTP会话失败: %w", err)
	}
	defer client.Close()

	if !m.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS 失败: %w", err)
			}
		}
	}

	if m.config.Username != "" && m.config.Password != "" {
		auth := smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP认证失败: %w", err)
		}
	}

	if err := client.Mail(m.config.From); err != nil {
		return err
	}
	for _, to := range msg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("收件人 %s 被拒绝: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(m.config.From, msg)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// buildMessage 构建邮件消息
func buildMessage(from string, msg Message) []byte {
	var message bytes.Buffer

	message.WriteString(fmt.Sprintf("From: %s\r\n", from))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", msg.Subject)))
	message.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(msg.HTMLBody)

	return message.Bytes()
}

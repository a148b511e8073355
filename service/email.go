package service

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"zh.xyz/dv/glidesync/config"
	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/utils"
)

// SendSyncFailureNotification 发送同步失败通知邮件
// 链接携带token，收件人无需登录即可查看失败日志
func SendSyncFailureNotification(email string, logEntry *models.SyncLog, mappingName string) error {
	token, err := GenerateLogViewToken(logEntry.ID, email)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("http://your-domain.com/api/v1/sync/logs/view?token=%s", token)

	subject := "表同步失败通知"
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>表同步失败通知</h2>
			<p>映射 %s 的一次同步运行以失败结束：</p>
			<ul>
				<li>日志ID: %s</li>
				<li>状态: %s</li>
				<li>处理记录数: %d</li>
				<li>失败记录数: %d</li>
				<li>原因: %s</li>
			</ul>
			<p>请点击以下链接查看详情：</p>
			<p><a href="%s">查看同步日志</a></p>
			<p>链接有效期：24小时</p>
		</body>
		</html>
	`, mappingName, logEntry.ID, logEntry.Status, logEntry.RecordsProcessed, logEntry.FailedRecords, logEntry.Message, link)

	return sendEmail(email, subject, body)
}

// sendEmail 发送邮件
func sendEmail(to, subject, body string) error {
	cfg := config.GlobalConfig.Email

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return d.DialAndSend(m)
}

// GenerateLogViewToken 生成日志查看token
func GenerateLogViewToken(logID, email string) (string, error) {
	return utils.GenerateViewToken(map[string]interface{}{
		"log_id": logID,
		"email":  email,
		"type":   "sync_log_view",
	})
}

package email

import (
	"fmt"
	"html"
)

// BuildNotificationBody wraps a notification message in the marketplace
// email layout.
func BuildNotificationBody(subject, message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #2d6cdf; padding: 24px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 22px;">%s</h1>
	</div>

	<div style="background: #fff; padding: 24px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">%s</p>

		<hr style="border: none; border-top: 1px solid #eee; margin: 24px 0;">

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. If you have questions, please contact support.
		</p>
	</div>
</body>
</html>`, html.EscapeString(subject), html.EscapeString(message))
}

package utils

import "fmt"

// SupportedLocales lists the languages the server answers in.
var SupportedLocales = []string{"en", "zh"}

// Server-side strings only: API messages and outgoing mail.
var translations = map[string]map[string]string{
	"en": {
		"health.ok":               "ok",
		"otp.sent":                "Verification code sent",
		"otp.verified":            "Email verified",
		"otp.already_verified":    "Email already verified",
		"otp.not_found":           "No verification code requested for this email",
		"otp.expired":             "Verification code expired",
		"otp.invalid":             "Invalid verification code",
		"otp.too_many_attempts":   "Too many attempts, request a new code",
		"otp.rate_limited":        "Too many codes requested, try again later",
		"mail.otp.subject":        "%s OTP — %s",
		"mail.otp.heading":        "Verify your email",
		"mail.otp.intro":          "Use the one-time password (OTP) below. It expires in %d minutes.",
		"mail.otp.label":          "One-Time Password",
		"mail.otp.ignore":         "If you didn't request this OTP, you can safely ignore this email.",
		"mail.otp.text":           "%s verification code: %s\n\nThis OTP expires in %d minutes.\nIf you didn't request it, ignore this email.",
		"mail.otp.footer":         "This is an automated message.",
		"mail.submission.subject": "%s: new survey submission #%d",
		"mail.submission.text":    "A new survey was submitted by %s.\nOverall: %.2f%%  Onboard: %.2f%%  Ashore: %.2f%%\n",
	},
	"zh": {
		"health.ok":             "好的",
		"otp.sent":              "验证码已发送",
		"otp.verified":          "邮箱已验证",
		"otp.already_verified":  "邮箱已验证过",
		"otp.not_found":         "该邮箱尚未申请验证码",
		"otp.expired":           "验证码已过期",
		"otp.invalid":           "验证码错误",
		"otp.too_many_attempts": "尝试次数过多，请重新获取验证码",
		"otp.rate_limited":      "验证码请求过于频繁，请稍后再试",
		"mail.otp.subject":      "%s 验证码 — %s",
		"mail.otp.heading":      "验证您的邮箱",
		"mail.otp.intro":        "请使用下方的一次性验证码，%d 分钟内有效。",
		"mail.otp.label":        "一次性验证码",
		"mail.otp.ignore":       "如果这不是您本人的操作，请忽略此邮件。",
		"mail.otp.text":         "%s 验证码：%s\n\n验证码 %d 分钟内有效。\n如果这不是您本人的操作，请忽略此邮件。",
		"mail.otp.footer":       "此邮件由系统自动发送。",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if v, ok := translations["en"][key]; ok {
		return v
	}
	return key
}

// Tf formats the translation of key with args.
func Tf(locale, key string, args ...any) string {
	return fmt.Sprintf(T(locale, key), args...)
}

package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/soaringjerry/csat/internal/utils"
)

var otpHTML = template.Must(template.New("otp").Parse(`<div style="margin:0;padding:0;background:#f6f7fb;">
  <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="100%" style="background:#f6f7fb;">
    <tr><td align="center" style="padding:28px 14px;">
      <div style="display:none;max-height:0;overflow:hidden;opacity:0;color:transparent;">{{.Code}}</div>
      <table role="presentation" cellpadding="0" cellspacing="0" border="0" width="560"
        style="width:560px;max-width:560px;background:#ffffff;border:1px solid #e9edf5;border-radius:18px;overflow:hidden;">
        <tr><td style="padding:18px 20px;border-bottom:1px solid #eef2f7;background:#fbfcff;font-family:-apple-system,'Segoe UI',Roboto,Arial;color:#0f172a;">
          <div style="font-size:14px;font-weight:700;">{{.Brand}}</div>
          <div style="font-size:20px;font-weight:800;margin-top:6px;">{{.Heading}}</div>
          <div style="font-size:13px;color:#64748b;margin-top:6px;line-height:1.5;">{{.Intro}}</div>
        </td></tr>
        <tr><td style="padding:20px;font-family:-apple-system,'Segoe UI',Roboto,Arial;">
          <div style="color:#64748b;font-size:11px;letter-spacing:0.14em;text-transform:uppercase;">{{.Label}}</div>
          <div style="font-size:34px;font-weight:900;letter-spacing:0.22em;color:#0f172a;text-align:center;padding:8px 0 16px;">{{.Code}}</div>
          <div style="color:#64748b;font-size:12px;line-height:1.5;">{{.Ignore}}</div>
        </td></tr>
        <tr><td style="padding:14px 20px;border-top:1px solid #eef2f7;background:#fbfcff;font-family:-apple-system,'Segoe UI',Roboto,Arial;color:#94a3b8;font-size:11px;">
          &copy; {{.Year}} {{.Brand}}. {{.Footer}}
        </td></tr>
      </table>
    </td></tr>
  </table>
</div>`))

type otpView struct {
	Brand, Code, Heading, Intro, Label, Ignore, Footer string
	Year                                               int
}

// OTPEmail renders the verification mail in locale. The code is the only
// secret in it and is shown in the subject so it can be read from the inbox.
func OTPEmail(from, to, brand, code, locale string, ttl time.Duration, now time.Time) (Message, error) {
	minutes := int(ttl / time.Minute)
	view := otpView{
		Brand:   brand,
		Code:    code,
		Heading: utils.T(locale, "mail.otp.heading"),
		Intro:   utils.Tf(locale, "mail.otp.intro", minutes),
		Label:   utils.T(locale, "mail.otp.label"),
		Ignore:  utils.T(locale, "mail.otp.ignore"),
		Footer:  utils.T(locale, "mail.otp.footer"),
		Year:    now.Year(),
	}
	var html bytes.Buffer
	if err := otpHTML.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render otp mail: %w", err)
	}
	return Message{
		From:    from,
		To:      []string{to},
		Subject: utils.Tf(locale, "mail.otp.subject", brand, code),
		Text:    utils.Tf(locale, "mail.otp.text", brand, code, minutes),
		HTML:    html.String(),
	}, nil
}

// SubmissionNotice tells the operators that a new survey arrived.
func SubmissionNotice(from, to, brand string, id int64, email string, overall, onboard, ashore float64) Message {
	return Message{
		From:    from,
		To:      []string{to},
		Subject: utils.Tf("en", "mail.submission.subject", brand, id),
		Text:    utils.Tf("en", "mail.submission.text", email, overall, onboard, ashore),
	}
}

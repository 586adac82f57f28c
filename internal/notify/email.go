// Package notify reports capture faults to the operator.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
	"github.com/wneessen/go-mail"
)

// EmailConfig holds the SMTP settings for fault alerts.
type EmailConfig struct {
	Host       string
	Port       int
	FromName   string
	Username   string
	Password   string
	Recipients string
}

// EmailConfigFromSnapshot builds the SMTP settings from a config snapshot.
func EmailConfigFromSnapshot(cfg *config.Snapshot) *EmailConfig {
	return &EmailConfig{
		Host:       cfg.EmailSMTPHost,
		Port:       cfg.EmailSMTPPort,
		FromName:   cfg.EmailFromName,
		Username:   cfg.EmailUsername,
		Password:   cfg.EmailPassword,
		Recipients: cfg.EmailRecipients,
	}
}

// SendFaultAlert mails f to the configured recipients. It does nothing when
// e-mail is not configured.
func SendFaultAlert(cfg *EmailConfig, f Fault) error {
	if !util.IsConfigured(cfg.Host, cfg.Username, cfg.Recipients) {
		return nil
	}

	subject := fmt.Sprintf("[ALERT] Capture fault (%s) - ZuidWest Sing Capture", f.Kind)
	body := fmt.Sprintf("A recording session failed.\n\n"+
		"Fault:   %s\nSession: %s\nDetail:  %s\nTime:    %s\n\n"+
		"Check the microphone and the capture host.",
		f.Kind, f.SessionID, f.Detail, util.HumanTime())
	return deliver(cfg, subject, body)
}

// SendTestEmail sends a test message so the operator can verify SMTP settings.
func SendTestEmail(cfg *EmailConfig) error {
	switch {
	case cfg.Host == "":
		return errors.New("SMTP host not configured")
	case cfg.Username == "":
		return errors.New("email username not configured")
	case cfg.Recipients == "":
		return errors.New("email recipients not configured")
	}

	body := fmt.Sprintf("Test message from the sing capture service.\n\nTime: %s\n", util.HumanTime())
	return deliver(cfg, "[TEST] ZuidWest Sing Capture", body)
}

// parseRecipients splits a comma separated address list, dropping blanks.
func parseRecipients(list string) []string {
	var out []string
	for r := range strings.SplitSeq(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// tlsOption picks implicit TLS on 465, mandatory STARTTLS on 587 and
// opportunistic STARTTLS elsewhere.
func tlsOption(port int) mail.Option {
	switch port {
	case 465:
		return mail.WithSSL()
	case 587:
		return mail.WithTLSPortPolicy(mail.TLSMandatory)
	default:
		return mail.WithTLSPortPolicy(mail.TLSOpportunistic)
	}
}

func deliver(cfg *EmailConfig, subject, body string) error {
	recipients := parseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return errors.New("no valid recipients")
	}

	msg := mail.NewMsg()
	var err error
	if cfg.FromName != "" {
		err = msg.FromFormat(cfg.FromName, cfg.Username)
	} else {
		err = msg.From(cfg.Username)
	}
	if err != nil {
		return util.WrapError("set from address", err)
	}
	if err := msg.To(recipients...); err != nil {
		return util.WrapError("set recipient address", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		tlsOption(cfg.Port),
	)
	if err != nil {
		return util.WrapError("create SMTP client", err)
	}
	return util.WrapError("send email", client.DialAndSend(msg))
}

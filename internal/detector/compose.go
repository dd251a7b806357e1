package detector

import (
	"errors"
	"strings"

	"github.com/ajramos/mailguard/internal/i18n"
	"github.com/ajramos/mailguard/internal/services"
)

// ComposeText builds the analysis input. The raw markup is sent along with
// the rendered text so link targets can be compared with their labels.
func ComposeText(sender, subject, text, markup string) string {
	parts := make([]string, 0, 6)
	if sender != "" {
		parts = append(parts, "From: "+sender)
	}
	if subject != "" {
		parts = append(parts, "Subject: "+subject)
	}
	parts = append(parts, "", strings.TrimSpace(text), "", markup)
	return strings.Join(parts, "\n")
}

// FailureMessage maps a failure to the localized text shown in the banner.
// The raw error text never reaches the page; callers log it.
func FailureMessage(tr *i18n.Translator, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, services.ErrDailyLimitReached):
		return tr.T("daily_limit")
	case errors.Is(err, services.ErrTransport), errors.Is(err, services.ErrServiceUnavailable):
		return tr.T("backend_unreachable")
	case services.IsAuthError(err):
		return tr.T("auth_required")
	case errors.Is(err, services.ErrExtractionTimeout):
		return tr.T("extraction_timeout")
	case errors.Is(err, services.ErrRemoteRejected):
		return tr.T("remote_rejected")
	}
	return tr.T("error_generic")
}

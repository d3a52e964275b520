package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mileusna/useragent"
	"github.com/stayloop/authkit/config"
	"github.com/stayloop/authkit/services/logging"
	"go.uber.org/zap"
)

// SessionLedger is the slice of the session service the device policy needs.
type SessionLedger interface {
	HasActiveDevice(ctx context.Context, userID, deviceID string) (bool, error)
}

// Notifier sends user-facing security notifications.
type Notifier interface {
	SendTemplate(templateName string, to []string, subject string, data map[string]any) error
	SendPlain(to []string, subject, body string) error
}

const fingerprintLength = 32

// Fingerprint collapses request-supplied hints into a stable device id. The
// same hints always produce the same id, so a returning browser is
// recognized without storing the raw inputs. The id identifies, it does not
// authenticate.
func Fingerprint(userAgent, acceptLanguage, timezone string, extra ...string) string {
	parts := append([]string{userAgent, acceptLanguage, timezone}, extra...)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// Describe renders a human label for security notifications, like
// "Chrome 91.0.4472.124 on Windows 10". Heuristic, display only.
func Describe(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgentString)
	browser := label(ua.Name, ua.Version)
	os := label(ua.OS, ua.OSVersion)

	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	}
	return "Unknown Device"
}

// Profile is the device info blob persisted with each session row and shown
// in session listings.
func Profile(userAgentString string) map[string]any {
	if userAgentString == "" {
		return map[string]any{
			"browser":         "Unknown Browser",
			"browser_version": "",
			"os":              "Unknown OS",
			"os_version":      "",
			"device":          "Unknown Device",
			"device_type":     "Unknown",
			"mobile":          false,
			"tablet":          false,
			"desktop":         false,
			"bot":             false,
		}
	}

	ua := useragent.Parse(userAgentString)

	deviceType := "Desktop"
	switch {
	case ua.Mobile:
		deviceType = "Mobile"
	case ua.Tablet:
		deviceType = "Tablet"
	case ua.Bot:
		deviceType = "Bot"
	}

	browser := label(ua.Name, ua.Version)
	if browser == "" {
		browser = "Unknown Browser"
	}

	os := label(ua.OS, ua.OSVersion)
	if os == "" {
		os = "Unknown OS"
	}

	device := ua.Device
	if device == "" {
		switch {
		case ua.Mobile:
			device = "Mobile Device"
		case ua.Tablet:
			device = "Tablet"
		default:
			device = "Desktop Computer"
		}
	}

	return map[string]any{
		"browser":         browser,
		"browser_version": ua.Version,
		"os":              os,
		"os_version":      ua.OSVersion,
		"device":          device,
		"device_type":     deviceType,
		"mobile":          ua.Mobile,
		"tablet":          ua.Tablet,
		"desktop":         !ua.Mobile && !ua.Tablet && !ua.Bot,
		"bot":             ua.Bot,
	}
}

func label(name, version string) string {
	if name == "" {
		return ""
	}
	if version == "" {
		return name
	}
	return name + " " + version
}

// Service decides whether a login comes from a device the user is already
// signed in on and sends the new-device notification when it does not.
type Service struct {
	config   *config.Config
	ledger   SessionLedger
	notifier Notifier
	logger   *logging.Service
}

func NewService(cfg *config.Config, ledger SessionLedger, notifier Notifier, logger *logging.Service) *Service {
	return &Service{
		config:   cfg,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
	}
}

// IsNewDevice reports whether the user has no active session from this
// device. Lookup failures count as new: a wrong answer here costs one extra
// notification, never a missed one.
func (s *Service) IsNewDevice(ctx context.Context, userID, deviceID string) bool {
	if deviceID == "" {
		return true
	}

	known, err := s.ledger.HasActiveDevice(ctx, userID, deviceID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("device lookup failed, treating device as new",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return true
	}

	return !known
}

// NotifyNewDevice sends the new-device security email. Failures are logged
// and never surface to the login that triggered the notification.
func (s *Service) NotifyNewDevice(email, deviceLabel, ipAddress string) {
	if s.notifier == nil || email == "" {
		return
	}

	appName := s.config.App.Name
	subject := fmt.Sprintf("New sign-in to %s", appName)
	when := time.Now().Format(time.RFC1123)

	var err error
	if s.config.Mail.TemplatesDir != "" {
		err = s.notifier.SendTemplate("new_device", []string{email}, subject, map[string]any{
			"AppName":  appName,
			"Email":    email,
			"Device":   deviceLabel,
			"IP":       ipAddress,
			"Location": locationLabel(ipAddress),
			"Time":     when,
		})
	} else {
		body := fmt.Sprintf(
			"A new sign-in to %s was detected.\n\nDevice: %s\nIP address: %s (%s)\nTime: %s\n\nIf this was you, no action is needed. If it was not, log out of all devices and change your password.",
			appName, deviceLabel, ipAddress, locationLabel(ipAddress), when)
		err = s.notifier.SendPlain([]string{email}, subject, body)
	}

	if err != nil && s.logger != nil {
		s.logger.Warn("failed to send new device notification",
			zap.String("email", email),
			zap.Error(err))
	}
}

func locationLabel(ipAddress string) string {
	if ipAddress == "" || ipAddress == "127.0.0.1" || ipAddress == "::1" {
		return "local network"
	}
	return "unknown location"
}

// Package delivery routes finished export artifacts to their destination:
// a local download area, an email inbox, a webhook or a storage location.
//
// Every artifact is also kept in the DownloadStore, so the download link in
// emails and webhook payloads always resolves.
package delivery

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
)

var (
	// ErrDeliveryFailed wraps every channel failure.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrArtifactNotFound means no kept artifact has that name.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrChannelNotConfigured means the method's sender was not wired.
	ErrChannelNotConfigured = errors.New("delivery channel not configured")
)

// Method is a delivery channel.
type Method string

const (
	MethodDownload Method = "download"
	MethodEmail    Method = "email"
	MethodWebhook  Method = "webhook"
	MethodStorage  Method = "storage"
)

// Config says where a scheduled export goes and who hears about it.
type Config struct {
	Method           Method   `json:"method"`
	Recipients       []string `json:"recipients,omitempty"`
	WebhookURL       string   `json:"webhookUrl,omitempty"`
	StoragePath      string   `json:"storagePath,omitempty"`
	NotifyOnSuccess  bool     `json:"notifyOnSuccess"`
	NotifyOnFailure  bool     `json:"notifyOnFailure"`
	NotifyRecipients []string `json:"notifyRecipients,omitempty"`
}

// Validate checks that the method has the target it needs.
func (c Config) Validate() error {
	var errs []string

	switch c.Method {
	case "", MethodDownload:
	case MethodEmail:
		if len(c.Recipients) == 0 {
			errs = append(errs, "email delivery needs at least one recipient")
		}
	case MethodWebhook:
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "webhook delivery needs an http(s) URL")
		}
	case MethodStorage:
		if strings.TrimSpace(c.StoragePath) == "" {
			errs = append(errs, "storage delivery needs a path")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown delivery method %q", c.Method))
	}

	for _, addr := range append(append([]string(nil), c.Recipients...), c.NotifyRecipients...) {
		if _, err := mail.ParseAddress(addr); err != nil {
			errs = append(errs, fmt.Sprintf("invalid email address %q", addr))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid delivery: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Request is one artifact to deliver.
type Request struct {
	Config   Config
	Name     string
	JobID    string
	Artifact *core.Artifact
}

// Notice reports the outcome of a scheduled run.
type Notice struct {
	Config      Config
	Name        string
	JobID       string
	Success     bool
	Error       string
	Artifact    *core.ArtifactDescriptor
	RecordCount int
	At          time.Time
}

func summary(name string, desc core.ArtifactDescriptor) string {
	return fmt.Sprintf("%s: exported %d records to %s", name, desc.RecordCount, desc.Filename)
}

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
)

// Options wires a Dispatcher. Nil channels make their method fail with
// ErrChannelNotConfigured.
type Options struct {
	Email     EmailSender
	Webhook   WebhookPoster
	Storage   StorageWriter
	Downloads *DownloadStore

	// BaseURL prefixes artifact links ("https://exports.example.com").
	BaseURL string
	// ArtifactPath is the route serving kept artifacts ("/api/artifacts").
	ArtifactPath string

	Logger *slog.Logger
	Now    func() time.Time
}

// Dispatcher sends artifacts and notices through the configured channels.
type Dispatcher struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ArtifactPath == "" {
		opts.ArtifactPath = "/api/artifacts"
	}
	return &Dispatcher{opts: opts, logger: opts.Logger, now: opts.Now}
}

// Deliver keeps the artifact for download, then hands it to the configured
// method. The returned descriptor carries the download link and, for
// storage, the written location.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) (core.ArtifactDescriptor, error) {
	if req.Artifact == nil {
		return core.ArtifactDescriptor{}, fmt.Errorf("%w: no artifact", ErrDeliveryFailed)
	}
	desc := req.Artifact.Descriptor
	logger := d.logger.With("job_id", req.JobID, "method", req.Config.Method, "file", desc.Filename)

	if d.opts.Downloads != nil {
		if _, err := d.opts.Downloads.Save(desc.Filename, req.Artifact.Data); err != nil {
			logger.Warn("failed to keep artifact for download", "error", err)
		} else {
			desc.DownloadURL = d.ArtifactURL(desc.Filename)
		}
	}

	var err error
	switch req.Config.Method {
	case "", MethodDownload:
	case MethodEmail:
		err = d.email(ctx, req.Config.Recipients, Email{
			Subject: fmt.Sprintf("Export ready: %s", req.Name),
			Body:    summary(req.Name, desc) + "\n",
			Attachments: []Attachment{{
				Filename:    desc.Filename,
				ContentType: desc.ContentType,
				Data:        req.Artifact.Data,
			}},
		})
	case MethodWebhook:
		err = d.post(ctx, req.Config.WebhookURL, WebhookPayload{
			Type:        EventExportReady,
			Filename:    desc.Filename,
			DownloadURL: desc.DownloadURL,
			Summary:     summary(req.Name, desc),
			Timestamp:   d.now().UTC(),
		})
	case MethodStorage:
		desc.Location, err = d.store(ctx, StorageLocation(req.Config.StoragePath, desc.Filename), req.Artifact.Data, desc.ContentType)
	default:
		err = fmt.Errorf("unknown method %q", req.Config.Method)
	}
	if err != nil {
		return desc, fmt.Errorf("%w: %s: %v", ErrDeliveryFailed, req.Config.Method, err)
	}

	logger.Info("artifact delivered", "location", desc.Location, "download_url", desc.DownloadURL)
	return desc, nil
}

// Notify sends the success or failure notice when the config asks for it.
// Notices go by email to NotifyRecipients (or, for email delivery, to the
// delivery recipients). Webhook configs also get a failure event.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) error {
	if n.Success && !n.Config.NotifyOnSuccess || !n.Success && !n.Config.NotifyOnFailure {
		return nil
	}

	recipients := n.Config.NotifyRecipients
	if len(recipients) == 0 && n.Config.Method == MethodEmail {
		recipients = n.Config.Recipients
	}

	var errs []string
	if len(recipients) > 0 {
		if err := d.email(ctx, recipients, noticeEmail(n)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if !n.Success && n.Config.Method == MethodWebhook {
		err := d.post(ctx, n.Config.WebhookURL, WebhookPayload{
			Type:      EventExportFailed,
			Summary:   fmt.Sprintf("%s: export failed: %s", n.Name, n.Error),
			Timestamp: n.At.UTC(),
		})
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: notify: %s", ErrDeliveryFailed, strings.Join(errs, "; "))
	}
	return nil
}

// ArtifactURL is the download link for a kept artifact.
func (d *Dispatcher) ArtifactURL(filename string) string {
	return strings.TrimSuffix(d.opts.BaseURL, "/") + d.opts.ArtifactPath + "/" + filename
}

func noticeEmail(n Notice) Email {
	if n.Success {
		var b strings.Builder
		fmt.Fprintf(&b, "The scheduled export %q completed at %s.\n", n.Name, n.At.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "Records: %d\n", n.RecordCount)
		if n.Artifact != nil {
			fmt.Fprintf(&b, "File: %s\n", n.Artifact.Filename)
			if n.Artifact.DownloadURL != "" {
				fmt.Fprintf(&b, "Download: %s\n", n.Artifact.DownloadURL)
			}
		}
		return Email{Subject: fmt.Sprintf("Scheduled export succeeded: %s", n.Name), Body: b.String()}
	}
	return Email{
		Subject: fmt.Sprintf("Scheduled export failed: %s", n.Name),
		Body:    fmt.Sprintf("The scheduled export %q failed at %s.\nError: %s\n", n.Name, n.At.UTC().Format(time.RFC3339), n.Error),
	}
}

func (d *Dispatcher) email(ctx context.Context, to []string, msg Email) error {
	if d.opts.Email == nil {
		return fmt.Errorf("%w: email", ErrChannelNotConfigured)
	}
	msg.To = to
	return d.opts.Email.Send(ctx, msg)
}

func (d *Dispatcher) post(ctx context.Context, url string, payload WebhookPayload) error {
	if d.opts.Webhook == nil {
		return fmt.Errorf("%w: webhook", ErrChannelNotConfigured)
	}
	return d.opts.Webhook.Post(ctx, url, payload)
}

func (d *Dispatcher) store(ctx context.Context, location string, data []byte, contentType string) (string, error) {
	if d.opts.Storage == nil {
		return "", fmt.Errorf("%w: storage", ErrChannelNotConfigured)
	}
	return d.opts.Storage.Write(ctx, location, data, contentType)
}

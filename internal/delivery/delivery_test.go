package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeEmail struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, msg Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeS3 struct {
	bucket, key, contentType string
	body                     []byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket, f.key, f.contentType = *in.Bucket, *in.Key, *in.ContentType
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testArtifact() *core.Artifact {
	return &core.Artifact{
		Descriptor: core.ArtifactDescriptor{
			Filename:    "products_export_2024-06-01T12-00-00-000Z.csv",
			ContentType: "text/csv; charset=utf-8",
			Format:      core.FormatCSV,
			RecordCount: 2,
			Size:        13,
		},
		Data: []byte("sku\nA1\nA2\n"),
	}
}

func newTestDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	if opts.Downloads == nil {
		ds, err := NewDownloadStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		opts.Downloads = ds
	}
	opts.BaseURL = "https://exports.example.com"
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = func() time.Time { return fixedNow }
	return NewDispatcher(opts)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"download", Config{Method: MethodDownload}, false},
		{"default method", Config{}, false},
		{"email", Config{Method: MethodEmail, Recipients: []string{"ops@example.com"}}, false},
		{"email without recipients", Config{Method: MethodEmail}, true},
		{"bad address", Config{Method: MethodEmail, Recipients: []string{"not-an-address"}}, true},
		{"webhook", Config{Method: MethodWebhook, WebhookURL: "https://hooks.example.com/x"}, false},
		{"webhook ftp", Config{Method: MethodWebhook, WebhookURL: "ftp://hooks.example.com"}, true},
		{"storage", Config{Method: MethodStorage, StoragePath: "s3://bucket/exports/"}, false},
		{"storage without path", Config{Method: MethodStorage}, true},
		{"unknown", Config{Method: "fax"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliver_Webhook(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, Options{Webhook: NewHTTPWebhook(5 * time.Second)})
	desc, err := d.Deliver(context.Background(), Request{
		Config:   Config{Method: MethodWebhook, WebhookURL: srv.URL},
		Name:     "Nightly products",
		JobID:    "job-1",
		Artifact: testArtifact(),
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	wantURL := "https://exports.example.com/api/artifacts/products_export_2024-06-01T12-00-00-000Z.csv"
	if desc.DownloadURL != wantURL {
		t.Errorf("DownloadURL = %q, want %q", desc.DownloadURL, wantURL)
	}
	if got.Type != EventExportReady || got.DownloadURL != wantURL || got.Filename != desc.Filename {
		t.Errorf("payload = %+v", got)
	}
	if !strings.Contains(got.Summary, "2 records") || !got.Timestamp.Equal(fixedNow) {
		t.Errorf("payload summary/timestamp = %q %v", got.Summary, got.Timestamp)
	}
}

func TestHTTPWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPWebhook(time.Second).Post(context.Background(), srv.URL, WebhookPayload{Type: EventExportReady})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Post error = %v, want a 502 error", err)
	}
}

func TestDeliver_Email(t *testing.T) {
	mail := &fakeEmail{}
	d := newTestDispatcher(t, Options{Email: mail})

	_, err := d.Deliver(context.Background(), Request{
		Config:   Config{Method: MethodEmail, Recipients: []string{"ops@example.com"}},
		Name:     "Nightly products",
		Artifact: testArtifact(),
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mail.sent))
	}
	msg := mail.sent[0]
	if msg.To[0] != "ops@example.com" || len(msg.Attachments) != 1 || string(msg.Attachments[0].Data) != "sku\nA1\nA2\n" {
		t.Errorf("email = %+v", msg)
	}
}

func TestDeliver_Storage(t *testing.T) {
	dir := t.TempDir()
	fs3 := &fakeS3{}
	d := newTestDispatcher(t, Options{Storage: RoutedStorage{S3: &S3Storage{Client: fs3}}})

	desc, err := d.Deliver(context.Background(), Request{
		Config:   Config{Method: MethodStorage, StoragePath: filepath.Join(dir, "exports") + "/"},
		Artifact: testArtifact(),
	})
	if err != nil {
		t.Fatalf("Deliver to disk: %v", err)
	}
	data, err := os.ReadFile(desc.Location)
	if err != nil || string(data) != "sku\nA1\nA2\n" {
		t.Errorf("file at %s = %q, %v", desc.Location, data, err)
	}

	desc, err = d.Deliver(context.Background(), Request{
		Config:   Config{Method: MethodStorage, StoragePath: "s3://reports/daily"},
		Artifact: testArtifact(),
	})
	if err != nil {
		t.Fatalf("Deliver to s3: %v", err)
	}
	if fs3.bucket != "reports" || fs3.key != "daily/"+desc.Filename || fs3.contentType != "text/csv; charset=utf-8" {
		t.Errorf("s3 put = %s/%s (%s)", fs3.bucket, fs3.key, fs3.contentType)
	}
	if desc.Location != "s3://reports/daily/"+desc.Filename {
		t.Errorf("Location = %q", desc.Location)
	}
}

func TestDeliver_UnwiredChannel(t *testing.T) {
	d := newTestDispatcher(t, Options{})
	_, err := d.Deliver(context.Background(), Request{
		Config:   Config{Method: MethodEmail, Recipients: []string{"ops@example.com"}},
		Artifact: testArtifact(),
	})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("error = %v, want ErrDeliveryFailed", err)
	}
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		success   bool
		wantEmail int
	}{
		{"success not requested", Config{Method: MethodDownload, NotifyRecipients: []string{"a@example.com"}}, true, 0},
		{"success requested", Config{Method: MethodDownload, NotifyOnSuccess: true, NotifyRecipients: []string{"a@example.com"}}, true, 1},
		{"failure falls back to delivery recipients", Config{Method: MethodEmail, Recipients: []string{"b@example.com"}, NotifyOnFailure: true}, false, 1},
		{"failure without recipients", Config{Method: MethodDownload, NotifyOnFailure: true}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mail := &fakeEmail{}
			d := newTestDispatcher(t, Options{Email: mail})
			err := d.Notify(context.Background(), Notice{Config: tt.cfg, Name: "Nightly", Success: tt.success, Error: "boom", At: fixedNow})
			if err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if len(mail.sent) != tt.wantEmail {
				t.Errorf("sent %d emails, want %d", len(mail.sent), tt.wantEmail)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("exports@example.com", Email{
		To:          []string{"a@example.com", "b@example.com"},
		Subject:     "Export ready",
		Body:        "see attached",
		Attachments: []Attachment{{Filename: "x.csv", ContentType: "text/csv", Data: []byte("a,b\n1,2\n")}},
	}, fixedNow)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	s := string(msg)
	for _, want := range []string{
		"To: a@example.com, b@example.com\r\n",
		"Subject: Export ready\r\n",
		"multipart/mixed; boundary=",
		`attachment; filename=x.csv`,
		"YSxiCjEsMgo=",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message lacks %q", want)
		}
	}
}

func TestDownloadStore(t *testing.T) {
	ds, err := NewDownloadStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Save("a.csv", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if data, err := ds.Open("a.csv"); err != nil || string(data) != "x" {
		t.Errorf("Open = %q, %v", data, err)
	}
	for _, name := range []string{"missing.csv", "../etc/passwd", ".hidden", ""} {
		if _, err := ds.Open(name); !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("Open(%q) error = %v, want ErrArtifactNotFound", name, err)
		}
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		wantErr     bool
	}{
		{"s3://b/k/x.csv", "b", "k/x.csv", false},
		{"s3://b", "", "", true},
		{"/tmp/x", "", "", true},
	}
	for _, tt := range tests {
		b, k, err := ParseS3URL(tt.in)
		if (err != nil) != tt.wantErr || b != tt.bucket || k != tt.key {
			t.Errorf("ParseS3URL(%q) = %q, %q, %v", tt.in, b, k, err)
		}
	}
}

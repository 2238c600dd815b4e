package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/triage-engine/internal/crisis"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

const recordVersion = "1.0"

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives resolved crisis alerts to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

var _ crisis.Archiver = (*Store)(nil)

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Archive writes a scrubbed snapshot of the alert and appends it to the
// monthly manifest.
func (s *Store) Archive(ctx context.Context, alert crisis.Alert) error {
	if !s.Enabled() {
		return nil
	}

	now := s.now().UTC()
	record := NewAlertRecord(alert, now)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := fmt.Sprintf("crisis-alerts/v1/%s/%d/%02d/%02d/%s.json",
		alert.OrgID, now.Year(), now.Month(), now.Day(), alert.ID)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived crisis alert", "alert_id", alert.ID, "s3_key", key)

	entry := ManifestEntry{
		AlertID:     alert.ID,
		OrgID:       alert.OrgID,
		S3Key:       key,
		CrisisType:  string(alert.CrisisType),
		RiskLevel:   string(alert.RiskLevel),
		ArchivedAt:  now.Format(time.RFC3339),
		ResponderID: alert.AssignedResponderID,
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// the snapshot is already stored
		s.logger.Warn("failed to append manifest", "error", err, "alert_id", alert.ID)
	}
	return nil
}

// NewAlertRecord builds the archived form of an alert. Message text is
// scrubbed and the user id is hashed.
func NewAlertRecord(alert crisis.Alert, now time.Time) AlertRecord {
	rec := AlertRecord{
		Version:            recordVersion,
		AlertID:            alert.ID,
		OrgID:              alert.OrgID,
		UserHash:           HashID(alert.UserID),
		SessionID:          alert.SessionID,
		CrisisType:         string(alert.CrisisType),
		RiskLevel:          string(alert.RiskLevel),
		ConfidenceScore:    alert.ConfidenceScore,
		FinalStatus:        string(alert.Status),
		ResponderID:        alert.AssignedResponderID,
		TriggerMessage:     ScrubPII(alert.TriggerMessage),
		ContextMessages:    ScrubAll(alert.ContextMessages),
		DetectedIndicators: alert.DetectedIndicators,
		ResponseActions:    alert.ResponseActions,
		ResolutionNotes:    ScrubPII(alert.ResolutionNotes),
		Redacted:           redactedKinds(append([]string{alert.TriggerMessage, alert.ResolutionNotes}, alert.ContextMessages...)...),
		DetectedAt:         alert.DetectedAt,
		ResolvedAt:         alert.ResolvedAt,
		ArchivedAt:         now,
	}
	if alert.AcknowledgedAt != nil {
		rec.ResponseMinutes = alert.AcknowledgedAt.Sub(alert.DetectedAt).Minutes()
	}
	return rec
}

// AppendManifest appends a JSONL line to the monthly manifest.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now().UTC()
	manifestKey := fmt.Sprintf("crisis-alerts/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/triage-engine/internal/crisis"
	"github.com/wolfman30/triage-engine/internal/triage"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func resolvedAlert(detected time.Time) crisis.Alert {
	ack := detected.Add(30 * time.Minute)
	resolved := detected.Add(3 * time.Hour)
	return crisis.Alert{
		ID:                  "alert-123",
		OrgID:               "org-456",
		UserID:              "student-9",
		SessionID:           "sess-1",
		CrisisType:          triage.CrisisSuicideIdeation,
		RiskLevel:           triage.RiskCritical,
		ConfidenceScore:     9,
		Status:              crisis.StatusResolved,
		AssignedResponderID: "resp-1",
		TriggerMessage:      "call me at 330-333-2654, I want to end it all",
		ContextMessages:     []string{"my email is kid@example.edu"},
		ResponseActions:     crisis.Actions{"resolution_method": "manual"},
		DetectedAt:          detected,
		AcknowledgedAt:      &ack,
		ResolvedAt:          &resolved,
	}
}

func TestStore_ArchiveAlert(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)
	now := time.Date(2026, 2, 12, 15, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Archive(context.Background(), resolvedAlert(now.Add(-4*time.Hour))))

	// snapshot + manifest
	require.Len(t, mock.putCalls, 2)
	assert.Equal(t, "test-bucket", mock.putCalls[0].bucket)
	assert.Equal(t, "crisis-alerts/v1/org-456/2026/02/12/alert-123.json", mock.putCalls[0].key)

	var decoded AlertRecord
	require.NoError(t, json.Unmarshal(mock.putCalls[0].body, &decoded))
	assert.Equal(t, "alert-123", decoded.AlertID)
	assert.Equal(t, HashID("student-9"), decoded.UserHash)
	assert.NotContains(t, decoded.TriggerMessage, "333-2654")
	assert.Equal(t, []string{"my email is [EMAIL]"}, decoded.ContextMessages)
	assert.Equal(t, []string{"email", "phone"}, decoded.Redacted)
	assert.InDelta(t, 30.0, decoded.ResponseMinutes, 1e-9)

	assert.Equal(t, "crisis-alerts/v1/manifests/2026-02.jsonl", mock.putCalls[1].key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(mock.putCalls[1].body), &entry))
	assert.Equal(t, "alert-123", entry.AlertID)
	assert.Equal(t, "resp-1", entry.ResponderID)
}

func TestStore_Disabled(t *testing.T) {
	store := NewStore(nil, "", nil)
	assert.False(t, store.Enabled())
	assert.NoError(t, store.Archive(context.Background(), crisis.Alert{}))
}

func TestStore_ManifestAppend(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "test-bucket", nil)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{AlertID: "a-1"}))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{AlertID: "a-2"}))

	lastPut := mock.putCalls[len(mock.putCalls)-1]
	lines := bytes.Split(bytes.TrimSpace(lastPut.body), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureIsReturned(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "test-bucket", nil)

	err := store.AppendManifest(context.Background(), ManifestEntry{AlertID: "a-1"})
	assert.Error(t, err)
	assert.Empty(t, mock.putCalls)
}

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "alerts@example.edu"}, nil)
	assert.Nil(t, sender)
}

func TestNewSendGridSender_FromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "alerts@example.edu"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.fromName)

	sender = NewSendGridSender(SendGridConfig{APIKey: "test-key", FromName: "Counseling Center"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Counseling Center", sender.fromName)
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "r@example.edu", Subject: "Test"})
	assert.Error(t, err)
}

func TestStubEmailSender_RecordsMessages(t *testing.T) {
	sender := NewStubEmailSender(nil)
	for i := 0; i < stubHistory+5; i++ {
		require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "r@example.edu", Subject: "s"}))
	}
	assert.Len(t, sender.Sent(), stubHistory)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "alerts@example.edu"}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "r@example.edu", Subject: "Hello", Body: "text", HTML: "<p>text</p>"})
	require.NoError(t, err)
	require.NotNil(t, fake.input)
	assert.Equal(t, "Triage Alerts <alerts@example.edu>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"r@example.edu"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "text", aws.ToString(fake.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>text</p>", aws.ToString(fake.input.Content.Simple.Body.Html.Data))
	assert.Nil(t, fake.input.ConfigurationSetName)
	assert.Empty(t, fake.input.EmailTags)
}

func TestSESSender_TagsAndConfigurationSet(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "alerts@example.edu", ConfigurationSet: "crisis-alerts"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "r@example.edu",
		Subject: "Hello",
		Body:    "text",
		Tags:    map[string]string{"notification": "admin_critical", "alert_id": "a1:b2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "crisis-alerts", aws.ToString(fake.input.ConfigurationSetName))
	require.Len(t, fake.input.EmailTags, 2)
	assert.Equal(t, "alert_id", aws.ToString(fake.input.EmailTags[0].Name))
	assert.Equal(t, "a1_b2", aws.ToString(fake.input.EmailTags[0].Value))
	assert.Equal(t, "admin_critical", aws.ToString(fake.input.EmailTags[1].Value))
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "a@example.edu"}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "r@example.edu", Subject: "Hello", Body: "x"})
	assert.ErrorContains(t, err, "throttled")
}

func TestNewSESSender_NilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

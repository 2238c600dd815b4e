package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

const (
	jobTTL = 24 * time.Hour
)

// JobStatus represents the lifecycle of a turn job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// TurnReply is the part of a processed turn that is exposed to polling clients.
type TurnReply struct {
	Reply            string `dynamodbav:"reply" json:"reply"`
	InterventionType string `dynamodbav:"interventionType" json:"intervention_type"`
	CrisisDetected   bool   `dynamodbav:"crisisDetected" json:"crisis_detected"`
	RiskScore        int    `dynamodbav:"riskScore" json:"risk_score"`
	AlertID          string `dynamodbav:"alertId,omitempty" json:"alert_id,omitempty"`
}

// NewTurnReply projects an engine result onto the stored reply.
func NewTurnReply(res triage.TurnResult) *TurnReply {
	reply := &TurnReply{
		Reply:            res.Reply,
		InterventionType: string(res.InterventionType),
		CrisisDetected:   res.CrisisDetected,
		RiskScore:        res.Assessment.RiskScore,
	}
	if res.Alert != nil {
		reply.AlertID = res.Alert.AlertID
	}
	return reply
}

// JobRecord captures the persisted state of an async turn request.
type JobRecord struct {
	JobID        string     `dynamodbav:"jobId" json:"job_id"`
	Status       JobStatus  `dynamodbav:"status" json:"status"`
	RequestType  jobType    `dynamodbav:"requestType" json:"request_type"`
	SessionID    string     `dynamodbav:"sessionId,omitempty" json:"session_id,omitempty"`
	OrgID        string     `dynamodbav:"orgId,omitempty" json:"-"`
	Result       *TurnReply `dynamodbav:"result,omitempty" json:"result,omitempty"`
	ErrorMessage string     `dynamodbav:"errorMessage,omitempty" json:"error,omitempty"`
	CreatedAt    string     `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt    string     `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt    int64      `dynamodbav:"expiresAt,omitempty" json:"-"`
}

type JobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

type JobUpdater interface {
	MarkCompleted(ctx context.Context, jobID string, reply *TurnReply) error
	// MarkFailed records errMsg and the fallback reply the caller was given, if any.
	MarkFailed(ctx context.Context, jobID string, errMsg string, fallback *TurnReply) error
}

// JobStatusStore is satisfied by JobStore and MemoryJobStore.
type JobStatusStore interface {
	JobRecorder
	JobUpdater
}

// JobStore persists job records to DynamoDB.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ JobRecorder = (*JobStore)(nil)
var _ JobUpdater = (*JobStore)(nil)

// NewJobStore builds a store backed by the provided DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending job record.
func (s *JobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	stampPending(job, time.Now().UTC())

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted stores the turn reply on the job.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, reply *TurnReply) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	if reply == nil {
		reply = &TurnReply{}
	}
	resultAttr, err := attributevalue.Marshal(reply)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal result: %w", err)
	}

	return s.updateJob(ctx, jobID, map[string]types.AttributeValue{
		":status":  &types.AttributeValueMemberS{Value: string(JobStatusCompleted)},
		":result":  resultAttr,
		":error":   &types.AttributeValueMemberS{Value: ""},
		":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	})
}

// MarkFailed updates a job to the failed state.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string, fallback *TurnReply) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	var resultAttr types.AttributeValue = &types.AttributeValueMemberNULL{Value: true}
	if fallback != nil {
		attr, err := attributevalue.Marshal(fallback)
		if err != nil {
			return fmt.Errorf("conversation: failed to marshal fallback: %w", err)
		}
		resultAttr = attr
	}
	return s.updateJob(ctx, jobID, map[string]types.AttributeValue{
		":status":  &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
		":result":  resultAttr,
		":error":   &types.AttributeValueMemberS{Value: errMsg},
		":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("conversation: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) updateJob(ctx context.Context, jobID string, values map[string]types.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression: aws.String("SET #status = :status, #result = :result, #error = :error, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#result":  "result",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to update job %s: %w", jobID, err)
	}
	return nil
}

func stampPending(job *JobRecord, now time.Time) {
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}
}

// MemoryJobStore keeps job records in memory when DynamoDB is not configured.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]JobRecord
}

var _ JobRecorder = (*MemoryJobStore)(nil)
var _ JobUpdater = (*MemoryJobStore)(nil)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]JobRecord)}
}

func (s *MemoryJobStore) PutPending(_ context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("conversation: job %s already exists", job.JobID)
	}
	stampPending(job, time.Now().UTC())
	s.jobs[job.JobID] = *job
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryJobStore) MarkCompleted(_ context.Context, jobID string, reply *TurnReply) error {
	return s.update(jobID, func(job *JobRecord) {
		job.Status = JobStatusCompleted
		job.Result = reply
		job.ErrorMessage = ""
	})
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, jobID string, errMsg string, fallback *TurnReply) error {
	return s.update(jobID, func(job *JobRecord) {
		job.Status = JobStatusFailed
		job.Result = fallback
		job.ErrorMessage = errMsg
	})
}

func (s *MemoryJobStore) update(jobID string, apply func(*JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	apply(&job)
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.jobs[jobID] = job
	return nil
}

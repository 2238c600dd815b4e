package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/triage-engine/internal/crisis"
	"github.com/wolfman30/triage-engine/internal/observability/metrics"
	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// Notification kinds recorded in the alert audit trail.
const (
	KindResponderAssignment = "responder_assignment"
	KindAdminCritical       = "admin_critical"
	KindAdminUnassigned     = "admin_unassigned"
)

// CrisisNotifierConfig holds the addresses used for alert email.
type CrisisNotifierConfig struct {
	AdminEmail   string
	DashboardURL string
}

// CrisisNotifier emails responders and administrators about crisis alerts.
type CrisisNotifier struct {
	email   EmailSender
	cfg     CrisisNotifierConfig
	logger  *logging.Logger
	metrics *metrics.TriageMetrics
}

var _ crisis.Notifier = (*CrisisNotifier)(nil)

func NewCrisisNotifier(email EmailSender, cfg CrisisNotifierConfig, logger *logging.Logger, m *metrics.TriageMetrics) *CrisisNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	cfg.DashboardURL = strings.TrimRight(cfg.DashboardURL, "/")
	return &CrisisNotifier{email: email, cfg: cfg, logger: logger, metrics: m}
}

// NotifyAlert sends every notice that applies to the alert and returns the
// kinds that were attempted. Failures are logged and counted only.
func (n *CrisisNotifier) NotifyAlert(ctx context.Context, note crisis.Notification) []string {
	if n.email == nil {
		n.logger.Warn("notify: no email sender configured, skipping crisis notifications", "alert_id", note.Alert.ID)
		return nil
	}
	alert := note.Alert
	attempted := []string{}

	if note.Responder != nil {
		if note.Responder.Email == "" {
			n.logger.Warn("notify: assigned responder has no email", "alert_id", alert.ID, "responder_id", note.Responder.ID)
		} else {
			n.send(ctx, KindResponderAssignment, alert.ID, EmailMessage{
				To:      note.Responder.Email,
				ToName:  note.Responder.Name,
				Subject: AssignmentSubject(alert),
				Body:    n.alertBody(alert, "A crisis alert has been assigned to you. Please review it now."),
			})
			attempted = append(attempted, KindResponderAssignment)
		}
	}

	if n.cfg.AdminEmail == "" {
		if alert.RiskLevel == triage.RiskCritical || note.Unassigned {
			n.logger.Warn("notify: admin email not configured", "alert_id", alert.ID)
		}
		return attempted
	}

	if alert.RiskLevel == triage.RiskCritical {
		n.send(ctx, KindAdminCritical, alert.ID, EmailMessage{
			To:      n.cfg.AdminEmail,
			Subject: fmt.Sprintf("[CRITICAL] Crisis alert requires oversight - %s", alert.CrisisType),
			Body:    n.alertBody(alert, "A critical crisis alert was detected."),
		})
		attempted = append(attempted, KindAdminCritical)
	}
	if note.Unassigned {
		n.send(ctx, KindAdminUnassigned, alert.ID, EmailMessage{
			To:      n.cfg.AdminEmail,
			Subject: fmt.Sprintf("[%s] Unassigned crisis alert - manual assignment needed", levelTag(alert.RiskLevel)),
			Body:    n.alertBody(alert, "No responder could be assigned to this alert. Please assign one manually."),
		})
		attempted = append(attempted, KindAdminUnassigned)
	}
	return attempted
}

func (n *CrisisNotifier) send(ctx context.Context, kind, alertID string, msg EmailMessage) {
	msg.Tags = map[string]string{"alert_id": alertID, "notification": kind}
	err := n.email.Send(ctx, msg)
	n.metrics.ObserveNotification(kind, err)
	if err != nil {
		n.logger.Error("notify: crisis email failed", "kind", kind, "error", err)
	}
}

// AssignmentSubject is the subject line of the responder assignment email.
func AssignmentSubject(a crisis.Alert) string {
	return fmt.Sprintf("[%s] New crisis alert assigned - %s", levelTag(a.RiskLevel), a.CrisisType)
}

func levelTag(level triage.RiskLevel) string {
	return strings.ToUpper(string(level))
}

// alertBody never includes the trigger message.
func (n *CrisisNotifier) alertBody(a crisis.Alert, lead string) string {
	var b strings.Builder
	b.WriteString(lead)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Alert ID: %s\n", a.ID)
	fmt.Fprintf(&b, "Risk level: %s\n", levelTag(a.RiskLevel))
	fmt.Fprintf(&b, "Crisis type: %s\n", a.CrisisType)
	fmt.Fprintf(&b, "Confidence: %.1f\n", a.ConfidenceScore)
	fmt.Fprintf(&b, "Detected at: %s\n", a.DetectedAt.UTC().Format("2006-01-02 15:04 MST"))
	if len(a.DetectedIndicators.RiskFactors) > 0 {
		fmt.Fprintf(&b, "Risk factors: %s\n", strings.Join(a.DetectedIndicators.RiskFactors, ", "))
	}
	if a.DetectedIndicators.EmotionalState != "" {
		fmt.Fprintf(&b, "Emotional state: %s\n", a.DetectedIndicators.EmotionalState)
	}
	fmt.Fprintf(&b, "\nReview: %s/admin/crisis/alerts/%s\n", n.cfg.DashboardURL, a.ID)
	return b.String()
}

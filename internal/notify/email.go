package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"fledge/internal/models"
)

// ParentDirectory resolves a parent's contact details from the external
// identity provider.
type ParentDirectory interface {
	ParentEmail(parentID string) (email, name string, err error)
}

// ParentDirectoryFunc adapts a function to the ParentDirectory interface.
type ParentDirectoryFunc func(parentID string) (string, string, error)

func (f ParentDirectoryFunc) ParentEmail(parentID string) (string, string, error) {
	return f(parentID)
}

// EmailNotifier sends parent alerts via Amazon SES.
type EmailNotifier struct {
	client     *sesv2.Client
	directory  ParentDirectory
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	debug      bool
}

// NewEmailNotifier creates an email notifier. With no from address or no
// parent directory the notifier is disabled and skips all sends.
func NewEmailNotifier(awsRegion, fromEmail, fromName, appBaseURL string, directory ParentDirectory, debug bool) (*EmailNotifier, error) {
	if fromEmail == "" || directory == nil {
		log.Println("Email notifier disabled: SES from address or parent directory not configured")
		return &EmailNotifier{enabled: false, debug: debug}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(awsRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(cfg)
	log.Printf("Email notifier enabled: from=%s, region=%s", fromEmail, awsRegion)

	return &EmailNotifier{
		client:     client,
		directory:  directory,
		fromEmail:  fromEmail,
		fromName:   fromName,
		appBaseURL: appBaseURL,
		enabled:    true,
		debug:      debug,
	}, nil
}

// IsEnabled returns whether the notifier will actually send email
func (n *EmailNotifier) IsEnabled() bool {
	return n.enabled
}

// ParentAlert notifies the supervising parent of a safety event.
func (n *EmailNotifier) ParentAlert(ctx context.Context, kid *models.KidAccount, event *models.SafetyEvent) error {
	subject := fmt.Sprintf("Safety alert for %s", kid.DisplayName)
	body := fmt.Sprintf(
		"A %s-severity %s event was recorded for %s and needs your attention.\n\nReview it here: %s/family/safety/%s\n",
		event.Severity, event.EventType, kid.DisplayName, n.appBaseURL, event.ID,
	)
	return n.sendToParent(ctx, kid.ParentID(), subject, body)
}

// ApprovalRequest notifies the parent of a pending approval request.
func (n *EmailNotifier) ApprovalRequest(ctx context.Context, kid *models.KidAccount, approval *models.ParentApproval) error {
	subject := fmt.Sprintf("%s is waiting for your approval", kid.DisplayName)
	body := fmt.Sprintf(
		"%s submitted a %s request.\n\nDecide here: %s/family/approvals/%s\n",
		kid.DisplayName, approval.RequestType, n.appBaseURL, approval.ID,
	)
	return n.sendToParent(ctx, kid.ParentID(), subject, body)
}

// TransitionUpdate notifies the parent of an independence phase change.
func (n *EmailNotifier) TransitionUpdate(ctx context.Context, kid *models.KidAccount, t *models.IndependenceTransition, message string) error {
	subject := fmt.Sprintf("Independence update for %s", kid.DisplayName)
	body := fmt.Sprintf(
		"%s\n\nSee the full plan: %s/family/independence/%s\n",
		message, n.appBaseURL, t.ID,
	)
	return n.sendToParent(ctx, kid.ParentID(), subject, body)
}

func (n *EmailNotifier) sendToParent(ctx context.Context, parentID, subject, body string) error {
	if parentID == "" {
		// Unsupervised accounts have no parent to alert.
		return nil
	}

	if !n.enabled {
		log.Printf("Skipping email send (notifier disabled): %s", subject)
		return nil
	}

	toEmail, toName, err := n.directory.ParentEmail(parentID)
	if err != nil {
		return fmt.Errorf("failed to resolve parent email: %w", err)
	}

	if n.debug {
		log.Printf("[DEBUG] sending email: to=%s subject=%q", toEmail, subject)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.fromName, n.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{fmt.Sprintf("%s <%s>", toName, toEmail)},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"kycops/internal/registry/models"
	"kycops/pkg/email"
)

// Message is a rendered subject and HTML body.
type Message struct {
	Subject string
	Body    string
}

// Subjects for applicant and administrator mail.
const (
	SubjectReceived = "KYC Application Received - Confirmation"
	SubjectApproved = "🎉 Congratulations! Your Agent Application is Approved"
	SubjectRejected = "Agent Application Status Update"
	SubjectWelcome  = "Welcome to Morningside - Get Started"
)

// SubjectAdminNewApplication is the administrator notice subject for one applicant.
func SubjectAdminNewApplication(fullName string) string {
	return "New KYC Application: " + fullName
}

const layout = `{{define "layout"}}<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
{{template "content" .}}
<p>Best regards,<br><strong>The Morningside Team</strong></p>
</div>
</body>
</html>{{end}}`

var (
	receivedTmpl = mustTemplate("received", `{{define "content"}}
<h1>Application Received! ✓</h1>
<p>Dear {{.Name}},</p>
<p>Thank you for applying to become a Morningside agent. Your application reference is <strong>{{.ApplicationID}}</strong>, submitted on {{.SubmittedAt}}.</p>
<p><strong>What happens next:</strong></p>
<ul>
<li>Our team will review your application within 24-48 hours</li>
<li>We'll verify your documents and credentials</li>
<li>You'll receive an email with the decision</li>
</ul>
{{end}}`)

	approvedTmpl = mustTemplate("approved", `{{define "content"}}
<h1>🎉 Congratulations!</h1>
<p>Dear {{.Name}},</p>
<p>Your agent application has been approved.</p>
{{if .AgentID}}<div class="agent-id"><strong>Your Agent ID:</strong> {{.AgentID}}</div>{{end}}
<p><strong>Next Steps:</strong></p>
<ol>
<li>Access your agent portal using the link below</li>
<li>Complete the onboarding training (30 minutes)</li>
<li>Review commission structure and policies</li>
<li>Start accepting assignments</li>
</ol>
{{if .PortalURL}}<p><a href="{{.PortalURL}}">Open the agent portal</a></p>{{end}}
{{end}}`)

	rejectedTmpl = mustTemplate("rejected", `{{define "content"}}
<h1>Application Status Update</h1>
<p>Dear {{.Name}},</p>
<p>Thank you for your interest in becoming an agent with Morningside.</p>
<p>After careful review, we regret to inform you that we are unable to approve your application at this time.</p>
{{if .Reason}}<p><strong>Reason:</strong> {{.Reason}}</p>{{end}}
<p>You may reapply after 6 months. If you have questions, please contact our support team{{if .SupportEmail}} at {{.SupportEmail}}{{end}}.</p>
{{end}}`)

	welcomeTmpl = mustTemplate("welcome", `{{define "content"}}
<h1 style="color: #48bb78;">Welcome to Morningside! 🎉</h1>
<p>Dear {{.Name}},</p>
<p>Your account has been created successfully!</p>
<p><strong>Username:</strong> {{.Username}}</p>
<p>Please log in and complete your profile to get started.</p>
{{end}}`)

	adminTmpl = mustTemplate("admin", `{{define "content"}}
<h2>New KYC Application</h2>
<p><strong>Application:</strong> {{.ApplicationID}}</p>
<p><strong>Applicant:</strong> {{.FullName}}</p>
<p><strong>ID Number:</strong> {{.IDNumber}}</p>
<p><strong>Email:</strong> {{.Email}}</p>
<p><strong>Phone:</strong> {{.Phone}}</p>
<h3>Documents:</h3>
<ul>
{{range .Documents}}<li><a href="{{.URL}}">{{.Name}}</a></li>
{{end}}</ul>
{{if .ReviewURL}}<p><a href="{{.ReviewURL}}">Review Application</a></p>{{end}}
{{end}}`)
)

func mustTemplate(name, content string) *template.Template {
	return template.Must(template.Must(template.New(name).Parse(layout)).Parse(content))
}

// Composer renders the message catalogue with deployment-specific links.
type Composer struct {
	PortalURL         string
	AdminDashboardURL string
	SupportEmail      string
}

// Received acknowledges a new submission to the applicant.
func (c Composer) Received(rec *models.Record) (Message, error) {
	return render(SubjectReceived, receivedTmpl, map[string]any{
		"Name":          email.DisplayName(rec.Applicant.FullName, rec.Applicant.Email),
		"ApplicationID": rec.ID,
		"SubmittedAt":   rec.SubmittedAt.Format(time.DateOnly),
	})
}

// Approved tells the applicant about the approval and their agent id.
func (c Composer) Approved(rec *models.Record) (Message, error) {
	return render(SubjectApproved, approvedTmpl, map[string]any{
		"Name":      email.DisplayName(rec.Applicant.FullName, rec.Applicant.Email),
		"AgentID":   rec.AgentID,
		"PortalURL": c.PortalURL,
	})
}

// Rejected tells the applicant about the rejection and its reason.
func (c Composer) Rejected(rec *models.Record) (Message, error) {
	reason := ""
	if rec.Decision != nil {
		reason = rec.Decision.Reason
	}
	return render(SubjectRejected, rejectedTmpl, map[string]any{
		"Name":         email.DisplayName(rec.Applicant.FullName, rec.Applicant.Email),
		"Reason":       reason,
		"SupportEmail": c.SupportEmail,
	})
}

// Welcome greets a newly approved agent. The username is the applicant email.
func (c Composer) Welcome(rec *models.Record) (Message, error) {
	return render(SubjectWelcome, welcomeTmpl, map[string]any{
		"Name":     email.DisplayName(rec.Applicant.FullName, rec.Applicant.Email),
		"Username": rec.Applicant.Email,
	})
}

type documentLink struct {
	Name string
	URL  string
}

// AdminNewApplication notifies administrators of a new submission.
func (c Composer) AdminNewApplication(rec *models.Record) (Message, error) {
	docs := []documentLink{
		{"id_front", rec.Documents.IDFront},
		{"id_back", rec.Documents.IDBack},
		{"proof_of_address", rec.Documents.ProofOfAddress},
		{"passport_photo", rec.Documents.PassportPhoto},
	}
	reviewURL := ""
	if c.AdminDashboardURL != "" {
		reviewURL = fmt.Sprintf("%s/applications/%s", c.AdminDashboardURL, rec.ID)
	}
	return render(SubjectAdminNewApplication(rec.Applicant.FullName), adminTmpl, map[string]any{
		"ApplicationID": rec.ID,
		"FullName":      rec.Applicant.FullName,
		"IDNumber":      rec.Applicant.IDNumber,
		"Email":         rec.Applicant.Email,
		"Phone":         rec.Applicant.Phone,
		"Documents":     docs,
		"ReviewURL":     reviewURL,
	})
}

func render(subject string, tmpl *template.Template, data any) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return Message{}, fmt.Errorf("render %q: %w", tmpl.Name(), err)
	}
	return Message{Subject: subject, Body: buf.String()}, nil
}

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycops/internal/registry/models"
)

func testRecord(t *testing.T) *models.Record {
	t.Helper()
	rec, err := models.NewRecord(
		models.Applicant{FullName: "Rudo Moyo", Email: "rudo@example.com", IDNumber: "63-1", Phone: "+263771234567", Address: "Harare"},
		models.Documents{IDFront: "https://docs/f.png", IDBack: "https://docs/b.png", ProofOfAddress: "https://docs/p.pdf", PassportPhoto: "https://docs/pp.jpg"},
		models.SourceInfo{Channel: "web_form"},
		time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return rec
}

func TestComposerReceived(t *testing.T) {
	msg, err := Composer{}.Received(testRecord(t))
	require.NoError(t, err)
	assert.Equal(t, SubjectReceived, msg.Subject)
	assert.Contains(t, msg.Body, "Dear Rudo Moyo")
	assert.Contains(t, msg.Body, "APP-63-1-")
	assert.Contains(t, msg.Body, "2026-02-03")
	assert.Contains(t, msg.Body, "The Morningside Team")
}

func TestComposerApproved(t *testing.T) {
	rec := testRecord(t)
	rec.ApplyApproval("admin@example.com", time.Now())

	msg, err := Composer{PortalURL: "https://agents.example.com"}.Approved(rec)
	require.NoError(t, err)
	assert.Equal(t, SubjectApproved, msg.Subject)
	assert.Contains(t, msg.Body, "AGT-63-1")
	assert.Contains(t, msg.Body, `href="https://agents.example.com"`)
	assert.Contains(t, msg.Body, "Complete the onboarding training")
}

func TestComposerRejectedEscapesReason(t *testing.T) {
	rec := testRecord(t)
	rec.ApplyRejection("admin@example.com", "<script>blurry</script>", time.Now())

	msg, err := Composer{SupportEmail: "support@example.com"}.Rejected(rec)
	require.NoError(t, err)
	assert.Equal(t, SubjectRejected, msg.Subject)
	assert.Contains(t, msg.Body, "&lt;script&gt;blurry&lt;/script&gt;")
	assert.NotContains(t, msg.Body, "<script>")
	assert.Contains(t, msg.Body, "support@example.com")
}

func TestComposerWelcome(t *testing.T) {
	rec := testRecord(t)
	rec.Applicant.FullName = ""
	msg, err := Composer{}.Welcome(rec)
	require.NoError(t, err)
	assert.Equal(t, SubjectWelcome, msg.Subject)
	assert.Contains(t, msg.Body, "Dear Rudo")
	assert.Contains(t, msg.Body, "<strong>Username:</strong> rudo@example.com")
}

func TestComposerAdminNewApplication(t *testing.T) {
	rec := testRecord(t)
	msg, err := Composer{AdminDashboardURL: "https://admin.example.com"}.AdminNewApplication(rec)
	require.NoError(t, err)
	assert.Equal(t, "New KYC Application: Rudo Moyo", msg.Subject)
	assert.Contains(t, msg.Body, `<a href="https://docs/p.pdf">proof_of_address</a>`)
	assert.Contains(t, msg.Body, "https://admin.example.com/applications/"+rec.ID)
}

func TestLogNotifierNeverFails(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Send(context.Background(), "a@example.com", "s", "b"))
}

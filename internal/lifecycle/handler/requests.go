package handler

import (
	"context"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/mssola/useragent"

	"kycops/internal/lifecycle"
	"kycops/internal/registry/models"
	dErrors "kycops/pkg/domain-errors"
	"kycops/pkg/requestcontext"
)

const sourceWebForm = "web_form"

// SubmitRequest is the applicant submission body. Required-field checks
// happen in the engine so every caller gets the same field names back.
type SubmitRequest struct {
	FullName          string `json:"full_name"`
	Email             string `json:"email"`
	IDNumber          string `json:"id_number"`
	Phone             string `json:"phone"`
	Address           string `json:"address"`
	IDFrontURL        string `json:"id_front_url"`
	IDBackURL         string `json:"id_back_url"`
	ProofOfAddressURL string `json:"proof_of_address_url"`
	PassportPhotoURL  string `json:"passport_photo_url"`
}

// Validate rejects a malformed email address or document reference. Empty
// fields are reported by the engine.
func (r *SubmitRequest) Validate() error {
	if r.Email != "" {
		if !govalidator.StringLength(r.Email, "1", "255") || !govalidator.IsEmail(r.Email) {
			return dErrors.NewValidation("invalid email address", "email")
		}
	}

	docs := []struct {
		field string
		value string
	}{
		{"id_front_url", r.IDFrontURL},
		{"id_back_url", r.IDBackURL},
		{"proof_of_address_url", r.ProofOfAddressURL},
		{"passport_photo_url", r.PassportPhotoURL},
	}
	var invalid []string
	for _, d := range docs {
		if d.value != "" && !validDocumentRef(d.value) {
			invalid = append(invalid, d.field)
		}
	}
	if len(invalid) > 0 {
		return dErrors.NewValidation("invalid document reference: "+strings.Join(invalid, ", "), invalid...)
	}
	return nil
}

// validDocumentRef accepts absolute URLs and paths served by this process,
// such as the local upload store's /files/... references.
func validDocumentRef(ref string) bool {
	if !govalidator.StringLength(ref, "1", "2048") {
		return false
	}
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		return govalidator.IsRequestURI(ref)
	}
	return govalidator.IsURL(ref)
}

// Command converts the request into an engine command.
func (r *SubmitRequest) Command(source models.SourceInfo) lifecycle.SubmitCommand {
	return lifecycle.SubmitCommand{
		Applicant: models.Applicant{
			FullName: r.FullName,
			Email:    r.Email,
			IDNumber: r.IDNumber,
			Phone:    r.Phone,
			Address:  r.Address,
		},
		Documents: models.Documents{
			IDFront:        r.IDFrontURL,
			IDBack:         r.IDBackURL,
			ProofOfAddress: r.ProofOfAddressURL,
			PassportPhoto:  r.PassportPhotoURL,
		},
		Source: source,
	}
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectRequest) Validate() error {
	if r.Reason != "" && !govalidator.StringLength(r.Reason, "1", "2000") {
		return dErrors.NewValidation("reason is too long", "reason")
	}
	return nil
}

// sourceFromContext builds submission metadata from the client metadata the
// middleware attached to ctx.
func sourceFromContext(ctx context.Context) models.SourceInfo {
	src := models.SourceInfo{
		Channel:   sourceWebForm,
		IPAddress: requestcontext.ClientIP(ctx),
	}
	if raw := requestcontext.UserAgent(ctx); raw != "" {
		ua := useragent.New(raw)
		src.Browser, _ = ua.Browser()
		src.OS = ua.OS()
		src.Mobile = ua.Mobile()
	}
	return src
}

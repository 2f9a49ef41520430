package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorAutoGenerated(t *testing.T) {
	validator := NewValidator(testLogger())

	autoGenerated := rawMessage(
		"From: noreply@example.org",
		"Subject: maintenance notice",
		"Auto-Submitted: auto-generated",
		"Content-Type: text/plain",
		"",
		"body",
	)
	assert.False(t, validator.Valid(autoGenerated))

	// Bulk precedence overrides auto-generated: list software sets both.
	bulkListTraffic := rawMessage(
		"From: list@example.org",
		"Subject: list traffic",
		"Auto-Submitted: auto-generated",
		"Precedence: bulk",
		"Content-Type: text/plain",
		"",
		"body",
	)
	assert.True(t, validator.Valid(bulkListTraffic))
}

func TestValidatorAutoReplySubject(t *testing.T) {
	validator := NewValidator(testLogger())

	msg := rawMessage(
		"From: bob@example.org",
		"Subject: [Autoreply] Out of office",
		"Content-Type: text/plain",
		"",
		"I am away.",
	)
	assert.False(t, validator.Valid(msg))
}

func TestValidatorReport(t *testing.T) {
	validator := NewValidator(testLogger())

	msg := rawMessage(
		"From: mailer-daemon@example.org",
		"Subject: delivery status",
		"MIME-Version: 1.0",
		`Content-Type: multipart/report; report-type=delivery-status; boundary="rep"`,
		"",
		"--rep",
		"Content-Type: text/plain",
		"",
		"delivery failed",
		"--rep--",
		"",
	)
	assert.False(t, validator.Valid(msg))
}

func TestValidatorAcceptsOrdinaryMail(t *testing.T) {
	validator := NewValidator(testLogger())

	msg := rawMessage(
		"From: bob@example.org",
		"Subject: [Kayak Club] Trip",
		"Content-Type: text/plain",
		"",
		"Hello",
	)
	assert.True(t, validator.Valid(msg))
}

func TestValidatorMissingSubjectWithContent(t *testing.T) {
	validator := NewValidator(testLogger())

	msg := rawMessage(
		"From: bob@example.org",
		"Content-Type: text/plain",
		"",
		"content is present",
	)
	assert.True(t, validator.Valid(msg))
}

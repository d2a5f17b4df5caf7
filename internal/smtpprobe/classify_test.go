package smtpprobe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/optimode/emailprobe/internal/smtpprobe"
)

func reply(code int, text string) smtpprobe.Reply {
	return smtpprobe.Reply{Code: code, Lines: []string{text}}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		reply smtpprobe.Reply
		want  smtpprobe.Verdict
	}{
		{reply(250, "2.1.5 OK"), smtpprobe.VerdictAccepted},
		{reply(251, "User not local; will forward"), smtpprobe.VerdictAccepted},
		{reply(550, "5.1.1 mailbox not found"), smtpprobe.VerdictRejected},
		{reply(551, "User not local"), smtpprobe.VerdictRejected},
		{reply(553, "mailbox name not allowed"), smtpprobe.VerdictRejected},
		{reply(554, "5.1.1 user unknown"), smtpprobe.VerdictRejected},
		{reply(554, "transaction failed"), smtpprobe.VerdictAmbiguous},
		{reply(450, "4.2.0 greylisted"), smtpprobe.VerdictRetryable},
		{reply(451, "4.7.1 try again later"), smtpprobe.VerdictRetryable},
		{reply(452, "4.5.3 too many recipients"), smtpprobe.VerdictRetryable},
		{reply(421, "4.3.2 service shutting down"), smtpprobe.VerdictHostFailure},
		{reply(454, "TLS not available"), smtpprobe.VerdictAmbiguous},
		{reply(552, "5.2.2 mailbox full"), smtpprobe.VerdictFullInbox},
		{reply(552, "message size exceeds limit"), smtpprobe.VerdictFullInbox},
		{reply(550, "5.2.2 The email account is over quota"), smtpprobe.VerdictFullInbox},
		{reply(550, "5.2.1 This mailbox is disabled"), smtpprobe.VerdictDisabled},
		{reply(550, "Account discontinued"), smtpprobe.VerdictDisabled},
		{reply(550, "5.7.1 Service unavailable; client host blocked using Spamhaus"), smtpprobe.VerdictAmbiguous},
		{reply(554, "Relay access denied"), smtpprobe.VerdictAmbiguous},
		{reply(550, "5.7.606 Access denied, banned sending IP [203.0.113.7]"), smtpprobe.VerdictAmbiguous},
		{
			reply(550, "5.4.1 Recipient address rejected: Access denied. AS(201806281) [DB5EUR03FT012.eop-EUR03.prod.protection.outlook.com]"),
			smtpprobe.VerdictRejected,
		},
		{reply(550, "5.7.1 Recipient address rejected: user unknown"), smtpprobe.VerdictRejected},
		{reply(550, "Message blocked"), smtpprobe.VerdictRejected},
		{
			reply(450, "4.2.1 The user you are trying to contact is receiving mail at a rate that prevents additional messages"),
			smtpprobe.VerdictAccepted,
		},
		{reply(354, "start mail input"), smtpprobe.VerdictAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.reply.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, smtpprobe.Classify(tt.reply, nil))
		})
	}
}

func TestClassify_MultiLineText(t *testing.T) {
	r := smtpprobe.Reply{Code: 550, Lines: []string{"5.2.1 Sorry,", "this account has been DISABLED"}}
	assert.Equal(t, smtpprobe.VerdictDisabled, smtpprobe.Classify(r, nil))
}

func TestClassify_CustomPatterns(t *testing.T) {
	p := &smtpprobe.Patterns{FullInbox: []string{"boite pleine"}}
	assert.Equal(t, smtpprobe.VerdictFullInbox, smtpprobe.Classify(reply(550, "Boite pleine"), p))
	// Without the default policy table a 5.7.1 550 is a plain rejection.
	assert.Equal(t, smtpprobe.VerdictRejected, smtpprobe.Classify(reply(550, "5.7.1 blocked"), p))
}

func TestVerdict_Definitive(t *testing.T) {
	assert.True(t, smtpprobe.VerdictAccepted.Definitive())
	assert.True(t, smtpprobe.VerdictRejected.Definitive())
	assert.True(t, smtpprobe.VerdictFullInbox.Definitive())
	assert.True(t, smtpprobe.VerdictDisabled.Definitive())
	assert.True(t, smtpprobe.VerdictSenderRejected.Definitive())
	assert.False(t, smtpprobe.VerdictRetryable.Definitive())
	assert.False(t, smtpprobe.VerdictHostFailure.Definitive())
	assert.False(t, smtpprobe.VerdictAmbiguous.Definitive())
}

package imapstore

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/mailstore"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMessage_Multipart(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
Subject: Invoice
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8

Your VAT invoice
--inner
Content-Type: text/html; charset=utf-8

<p>Your VAT invoice</p>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0=
--outer--
`)

	part, err := parseMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, "multipart/mixed", part.ContentType)
	require.Len(t, part.Parts, 2)

	alt := part.Parts[0]
	assert.Equal(t, "multipart/alternative", alt.ContentType)
	require.Len(t, alt.Parts, 2)
	assert.Equal(t, "text/plain", alt.Parts[0].ContentType)
	assert.Contains(t, alt.Parts[0].Body, "Your VAT invoice")
	assert.Equal(t, "text/html", alt.Parts[1].ContentType)

	pdf := part.Parts[1]
	assert.Equal(t, "application/pdf", pdf.ContentType)
	assert.Empty(t, pdf.Body)
}

func TestParseMessage_QuotedPrintableSinglePart(t *testing.T) {
	raw := crlf(`Subject: hi
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

caf=C3=A9 receipt
`)

	part, err := parseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", part.ContentType)
	assert.Contains(t, part.Body, "café receipt")
}

func TestParseMessage_NoContentTypeDefaultsToPlain(t *testing.T) {
	part, err := parseMessage(crlf("Subject: x\n\nhello\n"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", part.ContentType)
	assert.Contains(t, part.Body, "hello")
}

func TestFolderFromList(t *testing.T) {
	tests := []struct {
		name string
		mbox *imap.ListData
		want mailstore.Folder
	}{
		{
			name: "inbox",
			mbox: &imap.ListData{Mailbox: "INBOX", Delim: '/'},
			want: mailstore.Folder{ID: "INBOX", Name: "INBOX", Path: "INBOX", AccountID: "me", Type: mailstore.FolderTypeInbox},
		},
		{
			name: "special use sent",
			mbox: &imap.ListData{Mailbox: "Mail/Sent Items", Delim: '/', Attrs: []imap.MailboxAttr{imap.MailboxAttrSent}},
			want: mailstore.Folder{ID: "Mail/Sent Items", Name: "Sent Items", Path: "Mail/Sent Items", AccountID: "me", Type: mailstore.FolderTypeSent},
		},
		{
			name: "trash with dot delimiter",
			mbox: &imap.ListData{Mailbox: "INBOX.Trash", Delim: '.', Attrs: []imap.MailboxAttr{imap.MailboxAttrTrash}},
			want: mailstore.Folder{ID: "INBOX.Trash", Name: "Trash", Path: "INBOX.Trash", AccountID: "me", Type: mailstore.FolderTypeTrash},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, folderFromList(tt.mbox, "me"))
		})
	}
}

func TestChildrenOf(t *testing.T) {
	all := []mailstore.Folder{
		{Path: "INBOX"},
		{Path: "Taxonomy"},
		{Path: "Taxonomy/Finance"},
		{Path: "Taxonomy/Finance/Taxes"},
		{Path: "Taxonomy/Unclassified"},
		{Path: "TaxonomyOld"},
	}

	names := func(fs []mailstore.Folder) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Path)
		}
		return out
	}

	assert.Equal(t, []string{"INBOX", "Taxonomy", "TaxonomyOld"}, names(childrenOf(all, "", '/')))
	assert.Equal(t, []string{"Taxonomy/Finance", "Taxonomy/Unclassified"}, names(childrenOf(all, "Taxonomy", '/')))
	assert.Empty(t, childrenOf(all, "Taxonomy/Finance/Taxes", '/'))
}

func TestMessageIdentity(t *testing.T) {
	assert.Equal(t, "abc@example.com", messageIdentity(" <abc@example.com> ", "INBOX", 7, 42))
	assert.Equal(t, "INBOX:7:42", messageIdentity("", "INBOX", 7, 42))
}

func TestUIDsOf(t *testing.T) {
	set := imap.UIDSet{{Start: 3, Stop: 5}, {Start: 9, Stop: 9}}
	assert.Equal(t, []imap.UID{3, 4, 5, 9}, uidsOf(set))
	assert.Nil(t, uidsOf(nil))
	assert.Empty(t, uidsOf(imap.UIDSet{{Start: 4, Stop: 0}}))
}

func TestGroupByFolder(t *testing.T) {
	inbox := mailstore.Folder{Path: "INBOX"}
	sent := mailstore.Folder{Path: "Sent"}
	msgs := []mailstore.Message{
		{UID: 1, Folder: sent},
		{UID: 2, Folder: inbox},
		{UID: 3, Folder: sent},
	}

	order, groups := groupByFolder(msgs)
	assert.Equal(t, []string{"Sent", "INBOX"}, order)
	assert.Len(t, groups["Sent"], 2)
	assert.Equal(t, imap.UIDSetNum(1, 3), uidSetOf(groups["Sent"]))
}

// Package email defines the core email data model shared by the transports,
// the parser and the mailbox reader.
package email

import "time"

// DefaultFolderPath is the folder read when ReadOptions.FolderPath is empty.
const DefaultFolderPath = "Inbox"

// Address is a mailbox address with an optional display name.
type Address struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
}

// String formats the address the way a message header would.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// Email represents an outbound message with all its components.
type Email struct {
	From        *Address
	Sender      *Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	ReplyTo     []Address
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
}

// Attachment represents a file attached to an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	// ContentID is the Content-Id of an inline part, without angle brackets.
	ContentID string
	Inline    bool
}

// InboundMessage is a message retrieved from a mailbox folder.
type InboundMessage struct {
	ID             string              `json:"id" yaml:"id"`
	Subject        string              `json:"subject" yaml:"subject"`
	From           Address             `json:"from" yaml:"from"`
	BodyPreview    string              `json:"bodyPreview" yaml:"bodyPreview"`
	ReceivedAt     time.Time           `json:"receivedAt" yaml:"receivedAt"`
	HasAttachments bool                `json:"hasAttachments" yaml:"hasAttachments"`
	To             []Address           `json:"to,omitempty" yaml:"to,omitempty"`
	Cc             []Address           `json:"cc,omitempty" yaml:"cc,omitempty"`
	Bcc            []Address           `json:"bcc,omitempty" yaml:"bcc,omitempty"`
	Attachments    []InboundAttachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// InboundAttachment is a file attachment of a retrieved message. Content is
// only populated when the read asked for file bytes; Path is set when the
// attachment was written to disk.
type InboundAttachment struct {
	Name        string `json:"name" yaml:"name"`
	ContentType string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Content     []byte `json:"content,omitempty" yaml:"-"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ReadOptions controls a folder read.
type ReadOptions struct {
	// Mailbox is the user principal name or id of the mailbox. A read
	// without a mailbox returns no messages.
	Mailbox string
	// FolderPath is a "/" or "\" delimited path of folder display names,
	// resolved from the mailbox root. Defaults to DefaultFolderPath.
	FolderPath string

	IncludeFileBytes bool
	PersistToDisk    bool
	// DestinationDirectory must exist when PersistToDisk is set.
	DestinationDirectory string

	// AllPages follows continuation links until the folder is exhausted.
	// By default only the first page is returned.
	AllPages bool
	// PageSize is passed as $top when positive.
	PageSize int
}

// Path returns the folder path to resolve, applying the default.
func (o ReadOptions) Path() string {
	if o.FolderPath == "" {
		return DefaultFolderPath
	}
	return o.FolderPath
}

package gmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gmaildu/internal/model"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// ErrNotFound reports that a message no longer exists remotely.
var ErrNotFound = errors.New("gmail: message not found")

// Fallbacks for metadata headers missing from a message.
const (
	unknownSender  = "Unknown"
	missingSubject = "(No Subject)"
)

// requestTimeout bounds every remote call; a timeout is treated like any
// other retryable transport failure.
const requestTimeout = 30 * time.Second

// ListPage is one page of the list endpoint: the (id, threadId) pairs plus
// the continuation token, empty when the listing is exhausted.
type ListPage struct {
	Messages      []model.ListedMessage
	NextPageToken string
}

// Mailbox is the narrow remote surface the scanner needs. Implementations
// wrap the Gmail API; tests substitute fakes.
type Mailbox interface {
	// ListIDs returns one page of message IDs matching query.
	ListIDs(ctx context.Context, query, pageToken string, pageSize int64) (ListPage, error)
	// GetMetadata fetches one message's metadata. Returns ErrNotFound when
	// the message is gone remotely.
	GetMetadata(ctx context.Context, id string) (model.MessageRecord, error)
	// BatchModify adds labels to the given messages in a single call.
	BatchModify(ctx context.Context, ids []string, addLabelIDs []string) error
}

type apiMailbox struct {
	svc  *gmailv1.Service
	user string
}

// NewMailbox adapts an authenticated Gmail service to the Mailbox interface.
func NewMailbox(svc *gmailv1.Service) Mailbox {
	return &apiMailbox{svc: svc, user: "me"}
}

func (a *apiMailbox) ListIDs(ctx context.Context, query, pageToken string, pageSize int64) (ListPage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	call := a.svc.Users.Messages.List(a.user).
		Q(query).
		MaxResults(pageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return ListPage{}, fmt.Errorf("list messages: %w", err)
	}

	page := ListPage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.Messages = append(page.Messages, model.ListedMessage{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

func (a *apiMailbox) GetMetadata(ctx context.Context, id string) (model.MessageRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := a.svc.Users.Messages.Get(a.user, id).
		Format("metadata").
		MetadataHeaders("From", "Date", "Subject").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return model.MessageRecord{}, fmt.Errorf("get message %s: %w", id, ErrNotFound)
		}
		return model.MessageRecord{}, fmt.Errorf("get message %s: %w", id, err)
	}

	rec := model.MessageRecord{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Size:         msg.SizeEstimate,
		InternalDate: msg.InternalDate,
		Sender:       unknownSender,
		Subject:      missingSubject,
		Status:       model.StatusComplete,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				if h.Value != "" {
					rec.Sender = h.Value
				}
			case "subject":
				if h.Value != "" {
					rec.Subject = h.Value
				}
			}
		}
	}
	return rec, nil
}

func (a *apiMailbox) BatchModify(ctx context.Context, ids []string, addLabelIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req := &gmailv1.BatchModifyMessagesRequest{
		Ids:         ids,
		AddLabelIds: addLabelIDs,
	}
	if err := a.svc.Users.Messages.BatchModify(a.user, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch modify %d messages: %w", len(ids), err)
	}
	return nil
}

package retrieval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cordum/coldgate/core/infra/schema"
)

// Job status codes reported by the archive service.
const (
	StatusInProgress = "InProgress"
	StatusSucceeded  = "Succeeded"
	StatusFailed     = "Failed"
)

// CompletionEvent is a parsed job notification.
type CompletionEvent struct {
	JobID         string
	Object        ObjectID
	StatusCode    string
	StatusMessage string
	Action        string
}

func (e CompletionEvent) Succeeded() bool {
	return e.StatusCode == StatusSucceeded
}

type snsEnvelope struct {
	Type    string  `json:"Type"`
	Message *string `json:"Message"`
}

type jobDescription struct {
	Action        string  `json:"Action"`
	ArchiveID     *string `json:"ArchiveId"`
	JobID         string  `json:"JobId"`
	StatusCode    string  `json:"StatusCode"`
	StatusMessage *string `json:"StatusMessage"`
	VaultARN      string  `json:"VaultARN"`
}

// ParseCompletion decodes a channel message body. Bodies are either topic
// envelopes carrying the job description as a JSON string in "Message", or
// the job description itself when raw delivery is enabled.
func ParseCompletion(body []byte) (CompletionEvent, error) {
	inner := body
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return CompletionEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if env.Message != nil {
		inner = []byte(*env.Message)
	}
	if err := schema.ValidateJobNotification(inner); err != nil {
		return CompletionEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	var desc jobDescription
	if err := json.Unmarshal(inner, &desc); err != nil {
		return CompletionEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if desc.ArchiveID == nil || *desc.ArchiveID == "" {
		return CompletionEvent{}, fmt.Errorf("%w: job %s carries no archive id (action %q)", ErrInvalidNotification, desc.JobID, desc.Action)
	}
	obj := ObjectID{Vault: vaultFromARN(desc.VaultARN), Archive: *desc.ArchiveID}
	if err := obj.Validate(); err != nil {
		return CompletionEvent{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	ev := CompletionEvent{
		JobID:      desc.JobID,
		Object:     obj,
		StatusCode: desc.StatusCode,
		Action:     desc.Action,
	}
	if desc.StatusMessage != nil {
		ev.StatusMessage = *desc.StatusMessage
	}
	return ev, nil
}

// vaultFromARN returns the vault name, the segment after the last '/'.
func vaultFromARN(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

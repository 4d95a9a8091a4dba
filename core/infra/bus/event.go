package bus

import (
	"fmt"
	"time"

	"github.com/cordum/coldgate/core/retrieval"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeAvailability renders a as a protobuf Struct.
func EncodeAvailability(a retrieval.Availability) ([]byte, error) {
	requesters := make([]any, 0, len(a.Requesters))
	for _, r := range a.Requesters {
		requesters = append(requesters, r)
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	st, err := structpb.NewStruct(map[string]any{
		"vault":      a.Object.Vault,
		"archive":    a.Object.Archive,
		"job_id":     a.JobID,
		"bytes":      a.Bytes,
		"requesters": requesters,
		"at":         at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("encode availability: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeAvailability parses an event produced by EncodeAvailability.
func DecodeAvailability(data []byte) (retrieval.Availability, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return retrieval.Availability{}, fmt.Errorf("decode availability: %w", err)
	}
	fields := st.GetFields()
	a := retrieval.Availability{
		Object: retrieval.ObjectID{
			Vault:   fields["vault"].GetStringValue(),
			Archive: fields["archive"].GetStringValue(),
		},
		JobID: fields["job_id"].GetStringValue(),
		Bytes: int64(fields["bytes"].GetNumberValue()),
	}
	if err := a.Object.Validate(); err != nil {
		return retrieval.Availability{}, fmt.Errorf("decode availability: %w", err)
	}
	for _, v := range fields["requesters"].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			a.Requesters = append(a.Requesters, s)
		}
	}
	if raw := fields["at"].GetStringValue(); raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return retrieval.Availability{}, fmt.Errorf("decode availability time: %w", err)
		}
		a.At = at
	}
	return a, nil
}

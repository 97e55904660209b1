package queue

import (
	"encoding/json"
	"fmt"
)

// ObjectRef points at one externally stored log object referenced by a feed
// message.
type ObjectRef struct {
	Bucket string
	Key    string
}

// ExtractObjectRefs parses an S3 event notification body into the object
// references it carries.
func ExtractObjectRefs(body string) ([]ObjectRef, error) {
	var notification struct {
		Records []struct {
			S3 struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key string `json:"key"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal([]byte(body), &notification); err != nil {
		return nil, fmt.Errorf("failed to parse object notification: %w", err)
	}
	refs := make([]ObjectRef, 0, len(notification.Records))
	for _, record := range notification.Records {
		if record.S3.Bucket.Name == "" || record.S3.Object.Key == "" {
			continue
		}
		refs = append(refs, ObjectRef{
			Bucket: record.S3.Bucket.Name,
			Key:    record.S3.Object.Key,
		})
	}
	return refs, nil
}

// IsS3TestEvent reports whether the body is the test event S3 sends when a
// bucket notification is first configured. Unparseable bodies are not test
// events.
func IsS3TestEvent(body string) bool {
	var event struct {
		Service string `json:"Service"`
		Event   string `json:"Event"`
	}
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return false
	}
	return event.Service == "Amazon S3" && event.Event == "s3:TestEvent"
}

// Package audit parses audit-log objects into instance lifecycle events and
// image tag events. Parsing is pure; all resolution against the entity store
// and the provider happens in the reconciler.
package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/imagescout/imagescout/internal/db/models"
)

// Classification tags we track on images.
const (
	// TagRHEL marks an image as carrying RHEL
	TagRHEL = "imagescout-rhel-present"
	// TagOpenShift marks an image as carrying OpenShift
	TagOpenShift = "imagescout-ocp-present"
)

// ec2EventSource is the only event source we extract from.
const ec2EventSource = "ec2.amazonaws.com"

// InstanceEvent is a power/lifecycle transition extracted from one audit
// record. InstanceType and ImageID may be empty and are back-filled by the
// reconciler.
type InstanceEvent struct {
	AccountID    string
	Region       string
	InstanceID   string
	EventType    models.EventType
	OccurredAt   time.Time
	InstanceType string
	ImageID      string
	SubnetID     string
}

// Complete reports whether the event carries everything needed to define its
// instance without a describe call.
func (e InstanceEvent) Complete() bool {
	return e.InstanceType != "" && e.ImageID != ""
}

// TagEvent records that a classification tag was added to or removed from an
// image.
type TagEvent struct {
	AccountID  string
	Region     string
	ImageID    string
	Tag        string
	OccurredAt time.Time
	Exists     bool
}

type rawItems struct {
	Items []rawItem `json:"items"`
}

type rawItem struct {
	InstanceID string `json:"instanceId"`
	ResourceID string `json:"resourceId"`
	ImageID    string `json:"imageId"`
	SubnetID   string `json:"subnetId"`
	// RunInstances carries the type inline; ModifyInstanceAttribute nests it.
	InstanceType string `json:"instanceType"`
	Key          string `json:"key"`
	Value        string `json:"value"`
}

type rawRecord struct {
	EventSource  string    `json:"eventSource"`
	EventName    string    `json:"eventName"`
	EventTime    time.Time `json:"eventTime"`
	AWSRegion    string    `json:"awsRegion"`
	ErrorCode    string    `json:"errorCode"`
	UserIdentity struct {
		AccountID string `json:"accountId"`
	} `json:"userIdentity"`
	RequestParameters struct {
		InstanceID   string   `json:"instanceId"`
		InstancesSet rawItems `json:"instancesSet"`
		InstanceType struct {
			Value string `json:"value"`
		} `json:"instanceType"`
		ResourcesSet rawItems `json:"resourcesSet"`
		TagSet       rawItems `json:"tagSet"`
	} `json:"requestParameters"`
	ResponseElements struct {
		InstancesSet rawItems `json:"instancesSet"`
	} `json:"responseElements"`
}

// eventTypes maps audit event names to the lifecycle transition they imply.
// Reboots are deliberately absent: a rebooted instance was already running.
var eventTypes = map[string]models.EventType{
	"RunInstances":       models.EventTypePowerOn,
	"StartInstances":     models.EventTypePowerOn,
	"StopInstances":      models.EventTypePowerOff,
	"TerminateInstances": models.EventTypePowerOff,
}

// ParseLog parses one audit-log object of shape {"Records": [...]} into
// instance and tag events, preserving record order.
func ParseLog(content []byte) ([]InstanceEvent, []TagEvent, error) {
	var log struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(content, &log); err != nil {
		return nil, nil, fmt.Errorf("failed to parse audit log: %w", err)
	}
	var instanceEvents []InstanceEvent
	var tagEvents []TagEvent
	for _, raw := range log.Records {
		var record rawRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			// One malformed record does not poison the object.
			continue
		}
		instanceEvents = append(instanceEvents, ExtractInstanceEvents(record)...)
		tagEvents = append(tagEvents, ExtractTagEvents(record)...)
	}
	return instanceEvents, tagEvents, nil
}

// ExtractInstanceEvents pulls instance lifecycle events out of one record.
func ExtractInstanceEvents(record rawRecord) []InstanceEvent {
	if record.EventSource != ec2EventSource || record.ErrorCode != "" {
		return nil
	}

	if record.EventName == "ModifyInstanceAttribute" {
		newType := record.RequestParameters.InstanceType.Value
		if newType == "" || record.RequestParameters.InstanceID == "" {
			return nil
		}
		return []InstanceEvent{{
			AccountID:    record.UserIdentity.AccountID,
			Region:       record.AWSRegion,
			InstanceID:   record.RequestParameters.InstanceID,
			EventType:    models.EventTypeAttributeChange,
			OccurredAt:   record.EventTime,
			InstanceType: newType,
		}}
	}

	eventType, ok := eventTypes[record.EventName]
	if !ok {
		return nil
	}

	items := record.ResponseElements.InstancesSet.Items
	if len(items) == 0 {
		items = record.RequestParameters.InstancesSet.Items
	}
	events := make([]InstanceEvent, 0, len(items))
	for _, item := range items {
		if item.InstanceID == "" {
			continue
		}
		events = append(events, InstanceEvent{
			AccountID:    record.UserIdentity.AccountID,
			Region:       record.AWSRegion,
			InstanceID:   item.InstanceID,
			EventType:    eventType,
			OccurredAt:   record.EventTime,
			InstanceType: item.InstanceType,
			ImageID:      item.ImageID,
			SubnetID:     item.SubnetID,
		})
	}
	return events
}

// ExtractTagEvents pulls classification tag changes out of one record. Only
// image resources and the tags we classify on are extracted.
func ExtractTagEvents(record rawRecord) []TagEvent {
	if record.EventSource != ec2EventSource || record.ErrorCode != "" {
		return nil
	}

	var exists bool
	switch record.EventName {
	case "CreateTags":
		exists = true
	case "DeleteTags":
		exists = false
	default:
		return nil
	}

	var imageIDs []string
	for _, resource := range record.RequestParameters.ResourcesSet.Items {
		if strings.HasPrefix(resource.ResourceID, "ami-") {
			imageIDs = append(imageIDs, resource.ResourceID)
		}
	}
	if len(imageIDs) == 0 {
		return nil
	}

	var events []TagEvent
	for _, tag := range record.RequestParameters.TagSet.Items {
		if tag.Key != TagRHEL && tag.Key != TagOpenShift {
			continue
		}
		for _, imageID := range imageIDs {
			events = append(events, TagEvent{
				AccountID:  record.UserIdentity.AccountID,
				Region:     record.AWSRegion,
				ImageID:    imageID,
				Tag:        tag.Key,
				OccurredAt: record.EventTime,
				Exists:     exists,
			})
		}
	}
	return events
}

// ResolveTagStates reduces tag events to the final tagged/untagged state per
// (image, tag). The latest event per pair wins; ties on timestamp resolve to
// the later arrival, so feed order defines "latest". Returns image ids whose
// tag was created and image ids whose tag was deleted, per tag name.
func ResolveTagStates(events []TagEvent) (tagged map[string][]string, untagged map[string][]string) {
	type key struct{ imageID, tag string }
	latest := make(map[key]TagEvent)
	var order []key
	for _, event := range events {
		k := key{event.ImageID, event.Tag}
		prev, seen := latest[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || !event.OccurredAt.Before(prev.OccurredAt) {
			latest[k] = event
		}
	}

	tagged = make(map[string][]string)
	untagged = make(map[string][]string)
	for _, k := range order {
		event := latest[k]
		if event.Exists {
			tagged[k.tag] = append(tagged[k.tag], k.imageID)
		} else {
			untagged[k.tag] = append(untagged[k.tag], k.imageID)
		}
	}
	return tagged, untagged
}

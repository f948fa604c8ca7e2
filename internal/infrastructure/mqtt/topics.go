package mqtt

import "strings"

// Topic layout:
//
//	graylogic/core/access/{device_id}             access event published after persistence
//	graylogic/core/credential/{credential_id}/changed  credential mutation (LiveSync trigger)
//	graylogic/core/event/livesync_completed       LiveSync report
//	graylogic/system/status                       service online/offline (retained, LWT)
const (
	topicPrefix = "graylogic"
	corePrefix  = topicPrefix + "/core"
)

// Topics builds topic strings. It is a zero-size namespace: Topics{}.X().
type Topics struct{}

// AccessEvent is where a persisted access event for deviceID is published.
func (Topics) AccessEvent(deviceID string) string {
	return corePrefix + "/access/" + deviceID
}

// AllAccessEvents matches every AccessEvent topic.
func (Topics) AllAccessEvents() string {
	return corePrefix + "/access/+"
}

// CredentialChanged is published by the administration layer whenever a
// credential is created, modified, reassigned or deleted.
func (Topics) CredentialChanged(credentialID string) string {
	return corePrefix + "/credential/" + credentialID + "/changed"
}

// AllCredentialChanges matches every CredentialChanged topic.
func (Topics) AllCredentialChanges() string {
	return corePrefix + "/credential/+/changed"
}

// CoreEvent is a service-level event topic such as "livesync_completed".
func (Topics) CoreEvent(eventType string) string {
	return corePrefix + "/event/" + eventType
}

// SystemStatus carries the retained online/offline status.
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// CredentialIDFromTopic extracts the credential ID from a CredentialChanged topic.
//
// Parameters:
//   - topic: Topic of a received credential change message
//
// Returns:
//   - string: The credential ID segment
//   - error: If the topic does not match graylogic/core/credential/+/changed
func CredentialIDFromTopic(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, corePrefix+"/credential/")
	if !ok {
		return "", ErrInvalidTopicShape
	}
	id, ok := strings.CutSuffix(rest, "/changed")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", ErrInvalidTopicShape
	}
	return id, nil
}
